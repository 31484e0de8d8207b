package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetup_WritesBothSinks(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stderr bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "guildd.log")
	logger, closer, err := Setup(Options{Level: "info", File: file, Stderr: &stderr})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	logger.With("component", "test").Info("hello", "student_id", "s1")
	logger.Debug("hidden")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !strings.Contains(stderr.String(), "student_id=s1") {
		t.Errorf("stderr = %q; want text record", stderr.String())
	}
	if strings.Contains(stderr.String(), "hidden") {
		t.Errorf("stderr contains debug record below level")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("log file is not one JSON record: %v (%q)", err, data)
	}
	if rec["msg"] != "hello" || rec["component"] != "test" {
		t.Errorf("record = %v; want msg hello with component attr", rec)
	}
}

func TestSetup_NoFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stderr bytes.Buffer
	logger, closer, err := Setup(Options{Level: "debug", Stderr: &stderr})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer closer.Close()

	logger.Debug("visible")
	if !strings.Contains(stderr.String(), "visible") {
		t.Errorf("stderr = %q; want debug record", stderr.String())
	}
	if slog.Default() != logger {
		t.Error("Setup() did not install the default logger")
	}
}
