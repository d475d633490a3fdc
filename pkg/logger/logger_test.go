package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{in: "debug", want: DEBUG},
		{in: "INFO", want: INFO},
		{in: "", want: INFO},
		{in: "warning", want: WARN},
		{in: "error", want: ERROR},
		{in: "verbose", want: INFO, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	prev := GetLevel()
	defer SetLevel(prev)

	SetLevel(WARN)
	InfoC("test", "hidden")
	WarnCF("test", "shown", map[string]interface{}{"id": 7})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected info line to be filtered, got %q", out)
	}
	if !strings.Contains(out, "test: shown {id=7}") {
		t.Errorf("expected warn line with fields, got %q", out)
	}
}

func TestFileLoggingWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	path := filepath.Join(t.TempDir(), "wndlink.log")
	if err := EnableFileLogging(path); err != nil {
		t.Fatalf("EnableFileLogging: %v", err)
	}
	ErrorCF("wndmsg", "retries exhausted", map[string]interface{}{"type": "heartbeatMsg"})
	DisableFileLogging()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	var entry logEntry
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry.Level != "ERROR" || entry.Component != "wndmsg" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.Fields["type"] != "heartbeatMsg" {
		t.Errorf("expected type field, got %v", entry.Fields)
	}
}
