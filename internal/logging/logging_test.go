package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "", false)

	logger.Info().Msg("hidden")
	logger.Warn().Str("item", "a").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if ev["message"] != "shown" || ev["item"] != "a" || ev["level"] != "warn" {
		t.Fatalf("event = %v", ev)
	}
}

func TestConsoleWhenTerminal(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "bogus", "", true).Info().Msg("hello")
	out := buf.String()
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "hello") {
		t.Fatalf("output = %q", out)
	}
}

func TestExplicitJSONOnTerminal(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "info", "json", true).Info().Msg("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("output = %q", buf.String())
	}
}
