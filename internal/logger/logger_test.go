package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"feeder/internal/config"
)

func TestLogger_WritesLevelFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(&config.Config{LogDirectory: dir})
	defer l.Close()

	l.Info("feeding started on plate %d", 1)
	l.Warning("stream stalled")
	l.Error("feeder command failed: %v", "timeout")
	l.Debug("should not be written anywhere")

	tests := []struct {
		file string
		want string
	}{
		{"info.log", "feeding started on plate 1"},
		{"warning.log", "stream stalled"},
		{"error.log", "feeder command failed: timeout"},
	}

	for _, tt := range tests {
		data, err := os.ReadFile(filepath.Join(dir, tt.file))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", tt.file, err)
		}
		if !strings.Contains(string(data), tt.want) {
			t.Errorf("Expected %s to contain %q, got %q", tt.file, tt.want, string(data))
		}
		if strings.Contains(string(data), "should not be written") {
			t.Errorf("Debug line leaked into %s", tt.file)
		}
	}
}

func TestLogger_CleanLogs(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(&config.Config{LogDirectory: dir})
	defer l.Close()

	l.Error("something broke")
	if err := l.CleanLogs("error.log"); err != nil {
		t.Fatalf("CleanLogs failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "error.log"))
	if err != nil {
		t.Fatalf("Failed to stat error.log: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("Expected empty error.log, got %d bytes", info.Size())
	}

	if err := l.CleanLogs("missing.log"); err == nil {
		t.Error("Expected error for missing log file")
	}
}

func TestNewWriter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)

	l.Debug("sample %d", 3)
	l.Warning("plate %d jammed", 2)

	out := buf.String()
	if !strings.Contains(out, "DEBUG   sample 3\n") {
		t.Errorf("Expected debug line, got %q", out)
	}
	if !strings.Contains(out, "WARNING plate 2 jammed\n") {
		t.Errorf("Expected warning line, got %q", out)
	}
}
