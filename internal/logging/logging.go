// Package logging builds the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// New returns a slog.Logger writing text or JSON records at level to w
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops every record
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MaskEmail masks the local part of an address for logging (e.g., j******e@example.com)
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return maskMiddle(email)
	}
	return maskMiddle(email[:at]) + email[at:]
}

func maskMiddle(s string) string {
	if len(s) <= 2 {
		return strings.Repeat("*", len(s))
	}
	return s[:1] + strings.Repeat("*", len(s)-2) + s[len(s)-1:]
}
