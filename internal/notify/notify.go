// Package notify delivers one-time passcodes to users.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Purpose tells the recipient why a code was sent
type Purpose string

const (
	PurposeSignup Purpose = "signup"
	PurposeLogin  Purpose = "login"
)

// Message is one OTP delivery
type Message struct {
	To      string
	Code    string
	Purpose Purpose
	// Reasons explains a step-up challenge; empty for signup
	Reasons []string
	TTL     time.Duration
}

// Notifier sends OTP messages. Delivery failures are returned, never retried.
type Notifier interface {
	SendOTP(ctx context.Context, msg Message) error
}

// Subject returns the mail subject line for msg
func Subject(msg Message) string {
	if msg.Purpose == PurposeLogin {
		return "Confirm your sign-in"
	}
	return "Verify your email address"
}

// Body returns the plain text body for msg
func Body(msg Message) string {
	var b strings.Builder
	switch msg.Purpose {
	case PurposeLogin:
		b.WriteString("We noticed a sign-in that looks different from your usual activity.\n")
		for _, r := range msg.Reasons {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
		b.WriteString("\nIf this was you, enter the code below to finish signing in.\n")
	default:
		b.WriteString("Welcome! Enter the code below to verify your email address.\n")
	}
	fmt.Fprintf(&b, "\n    %s\n\n", msg.Code)
	if msg.TTL > 0 {
		fmt.Fprintf(&b, "The code expires in %d minutes.\n", int(msg.TTL.Minutes()))
	}
	b.WriteString("If you did not request this, you can ignore this message.\n")
	return b.String()
}
