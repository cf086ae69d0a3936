package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/gommon/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]log.Lvl{"debug": log.DEBUG, "WARN": log.WARN, "error": log.ERROR, "": log.INFO, "loud": log.INFO}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestNewWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := New("popextract", "info", &buf)
	l.Debug("hidden")
	l.Infof("Saving %s", "826")
	l.Warnf("no rows matched country %q", "4")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines (debug filtered), got %d: %q", len(lines), buf.String())
	}
	for i, line := range lines {
		var ev map[string]interface{}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("Line %d is not JSON: %v: %s", i, err, line)
		}
		if ev["prefix"] != "popextract" {
			t.Errorf("Line %d: prefix %v", i, ev["prefix"])
		}
	}

	var first map[string]interface{}
	_ = json.Unmarshal([]byte(lines[0]), &first)
	if first["level"] != "INFO" || first["message"] != "Saving 826" {
		t.Errorf("Unexpected first event %v", first)
	}
}
