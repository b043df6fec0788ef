package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	SetLevel(LevelError)
	defer SetLevel(LevelInfo)

	Info("hidden")
	Error("shown", errors.New("boom"), "op", "list")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info logged at error level:\n%s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "err=boom") || !strings.Contains(out, "op=list") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetFormat(FormatJSON)
	defer func() {
		SetFormat(FormatText)
		SetOutput(nil)
	}()

	Info("api call success", "status", 200)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "api call success" || rec["status"] != float64(200) {
		t.Errorf("record = %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug": LevelDebug,
		"ERROR": LevelError,
		"info":  LevelInfo,
		"":      LevelInfo,
		"loud":  LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
