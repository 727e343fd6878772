package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_textAndJSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelInfo, "text").InfoContext(context.Background(), "hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("unexpected text output: %s", buf.String())
	}

	buf.Reset()
	New(&buf, slog.LevelInfo, "json").Info("hello", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("unexpected json output: %s", buf.String())
	}
}

func TestNew_levelFilters(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelWarn, "text").Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record should be filtered at warn level, got %s", buf.String())
	}
}

func TestMaskEmail(t *testing.T) {
	tests := map[string]string{
		"jane@example.com": "j**e@example.com",
		"ab@example.com":   "**@example.com",
		"x@example.com":    "*@example.com",
		"no-at-sign":       "n********n",
	}
	for in, want := range tests {
		if got := MaskEmail(in); got != want {
			t.Errorf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
