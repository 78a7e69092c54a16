package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := levelFromString(in).Level(); got != want {
			t.Errorf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentAttribute(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewLoggerTo(&buf, "info"), "locator")
	l.Debug("hidden")
	l.Info("sample", "lat", 1.5)

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected exactly one json record, got %q: %v", buf.String(), err)
	}
	if rec["component"] != "locator" || rec["msg"] != "sample" {
		t.Fatalf("unexpected record %v", rec)
	}
}
