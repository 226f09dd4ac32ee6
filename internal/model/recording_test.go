package model

import (
	"testing"
	"time"
)

func TestParseRecordingName(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		want    time.Time
		wantErr bool
	}{
		{"hourly_2025-10-05_18-00-00.mp4", PrefixHourly, time.Date(2025, 10, 5, 18, 0, 0, 0, time.UTC), false},
		{"original_2025-10-05_18-42-07.mp4", PrefixOriginal, time.Date(2025, 10, 5, 18, 42, 7, 0, time.UTC), false},
		{"original_2025-10-05.mp4", "", time.Time{}, true},
		{"daily_2025-10-05_18-00-00.mp4", "", time.Time{}, true},
		{"hourly_2025-10-05_18-00-00.avi", "", time.Time{}, true},
	}

	for _, tt := range tests {
		prefix, got, err := ParseRecordingName(tt.name, time.UTC)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: unexpected error state %v", tt.name, err)
			continue
		}
		if prefix != tt.prefix || !got.Equal(tt.want) {
			t.Errorf("%s: got (%q, %v), want (%q, %v)", tt.name, prefix, got, tt.prefix, tt.want)
		}
	}
}
