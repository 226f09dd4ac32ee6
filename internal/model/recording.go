package model

import (
	"fmt"
	"strings"
	"time"
)

// Recording prefixes; one file family per writer.
const (
	PrefixHourly    = "hourly_"
	PrefixOriginal  = "original_"
	RecordingExt    = ".mp4"
	TimestampLayout = "2006-01-02_15-04-05"
)

// Recording represents a video file in the recordings directory.
type Recording struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Prefix    string    `json:"prefix"`
	EpisodeID string    `json:"episodeId,omitempty"`
	FilePath  string    `json:"filepath"`
	FileSize  int64     `json:"filesize"`
	CreatedAt time.Time `json:"createdAt"`
	ClosedAt  time.Time `json:"closedAt,omitempty"`
}

// ParseRecordingName extracts prefix and start time from a name such as
// "hourly_2025-10-05_18-00-00.mp4". The time is read in loc.
func ParseRecordingName(name string, loc *time.Location) (string, time.Time, error) {
	if !strings.HasSuffix(name, RecordingExt) {
		return "", time.Time{}, fmt.Errorf("not a %s file", RecordingExt)
	}
	stem := strings.TrimSuffix(name, RecordingExt)

	for _, prefix := range []string{PrefixHourly, PrefixOriginal} {
		if !strings.HasPrefix(stem, prefix) {
			continue
		}
		t, err := time.ParseInLocation(TimestampLayout, strings.TrimPrefix(stem, prefix), loc)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("invalid timestamp in %s: %w", name, err)
		}
		return prefix, t, nil
	}
	return "", time.Time{}, fmt.Errorf("unknown recording prefix in %s", name)
}
