package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes codes to the log instead of sending them. Development only.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new log-only notifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendOTP logs msg and always succeeds
func (n *LogNotifier) SendOTP(ctx context.Context, msg Message) error {
	n.logger.WarnContext(ctx, "dev mode OTP",
		"source", "notify",
		"to", msg.To,
		"purpose", string(msg.Purpose),
		"code", msg.Code,
		"reasons", msg.Reasons,
	)
	return nil
}
