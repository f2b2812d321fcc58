package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/samvad-hq/samvad-course-client/internal/config"
)

func TestInitWritesJSONAtConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	sugar, err := Init(&config.Config{AppName: "coursectl", LogLevel: "warn"}, &buf)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { S = nil }()

	log := New(sugar)
	log.InfoObj("dropped", "k", 1)
	log.WarnObj("kept", "course", map[string]any{"name": "Networking"})
	_ = sugar.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line at warn level, got %d: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if entry["msg"] != "kept" || entry["app"] != "coursectl" {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("missing ts key")
	}
	if obj, ok := entry["course"].(map[string]any); !ok || obj["name"] != "Networking" {
		t.Fatalf("object field missing: %#v", entry)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if lvl := parseLevel(&config.Config{LogLevel: "verbose"}); lvl.String() != "info" {
		t.Fatalf("level = %s", lvl)
	}
	if lvl := parseLevel(nil); lvl.String() != "info" {
		t.Fatalf("nil config level = %s", lvl)
	}
}

func TestNewNilIsNop(t *testing.T) {
	if _, ok := New(nil).(NopLogger); !ok {
		t.Fatalf("expected NopLogger")
	}
	InfoObj("no logger initialised", "k", "v")
}

func TestCallerPointsAtLoggingSite(t *testing.T) {
	var buf bytes.Buffer
	sugar, err := Init(&config.Config{LogLevel: "info"}, &buf)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { S = nil }()

	New(sugar).InfoObj("through interface", "k", 1)
	InfoObj("through package helper", "k", 2)
	_ = sugar.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("not json: %v", err)
		}
		caller, _ := entry["caller"].(string)
		if !strings.Contains(caller, "logger_test.go") {
			t.Fatalf("caller = %q, want the test file", caller)
		}
	}
}
