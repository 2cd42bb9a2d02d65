package app

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_WritesRotatedFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "relay.log")
	log, closer := NewLogger(Config{
		LogLevel:     "warn",
		LogFormat:    "json",
		LogFile:      path,
		LogMaxSizeMB: 1,
	})

	log.Info("dropped.below.level")
	log.Warn("presence.sync.fail", "user_id", "u1")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), b)
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "presence.sync.fail" || rec["user_id"] != "u1" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNewHandler_TextFormat(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	log := slog.New(newHandler(&b, "TEXT", slog.LevelInfo))
	log.Info("ws.session.open", "session_id", "s1")

	if !strings.Contains(b.String(), "msg=ws.session.open") || !strings.Contains(b.String(), "session_id=s1") {
		t.Fatalf("unexpected text output: %q", b.String())
	}
}
