package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stepguard/server/internal/logging"
	"github.com/stepguard/server/internal/model"
	"github.com/stepguard/server/internal/notify"
	"github.com/stepguard/server/internal/ratelimit"
	"github.com/stepguard/server/internal/repo"
	"github.com/stepguard/server/internal/risk"
)

const minPasswordLength = 8

// Options holds the per-account login limits
type Options struct {
	RateLimitWindow      time.Duration
	RateLimitMaxAttempts int
	HistorySize          int
}

// DefaultOptions returns the standard limits
func DefaultOptions() Options {
	return Options{
		RateLimitWindow:      ratelimit.DefaultWindow,
		RateLimitMaxAttempts: ratelimit.DefaultMaxAttempts,
		HistorySize:          DefaultHistorySize,
	}
}

// Service orchestrates signup, login and step-up verification
type Service struct {
	users    repo.UserRepo
	hasher   PasswordHasher
	signer   TokenSigner
	notifier notify.Notifier
	otps     *OTPManager
	assessor *risk.Assessor
	profiles *ProfileUpdater
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a new auth service
func NewService(
	users repo.UserRepo,
	hasher PasswordHasher,
	signer TokenSigner,
	notifier notify.Notifier,
	otps *OTPManager,
	assessor *risk.Assessor,
	opts Options,
	logger *slog.Logger,
) *Service {
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = ratelimit.DefaultWindow
	}
	if opts.RateLimitMaxAttempts <= 0 {
		opts.RateLimitMaxAttempts = ratelimit.DefaultMaxAttempts
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		users:    users,
		hasher:   hasher,
		signer:   signer,
		notifier: notifier,
		otps:     otps,
		assessor: assessor,
		profiles: NewProfileUpdater(users, opts.HistorySize),
		opts:     opts,
		logger:   logger.With("source", "auth"),
		now:      time.Now,
	}
}

// GetProfile returns the stored user
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, s.storeError("load user", err)
	}
	return user, nil
}

// NormalizeEmail trims and lower-cases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return newError(KindValidation, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return newError(KindValidation, "email is not a valid address")
	}
	return nil
}

func validateCode(code string) error {
	if len(code) != otpLength {
		return newError(KindValidation, "code must be 6 digits")
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return newError(KindValidation, "code must be 6 digits")
		}
	}
	return nil
}

// storeError maps repository failures to service errors. Typed errors pass through.
func (s *Service) storeError(op string, err error) error {
	var typed *Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, repo.ErrNotFound):
		return newError(KindNotFound, "user not found")
	case errors.Is(err, repo.ErrAlreadyExists):
		return newError(KindConflict, "email already registered")
	default:
		return dependencyError(op, err)
	}
}

// deliver sends msg and reports whether it went out. Failures are logged, not returned.
func (s *Service) deliver(ctx context.Context, msg notify.Message) bool {
	if s.notifier == nil {
		return false
	}
	if err := s.notifier.SendOTP(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "otp delivery failed",
			"purpose", string(msg.Purpose),
			"email", logging.MaskEmail(msg.To),
			"error", err,
		)
		return false
	}
	return true
}

// spendDummyCompare runs one hash comparison so unknown emails cost as much as wrong passwords
func (s *Service) spendDummyCompare(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("stepguard-timing-equaliser")
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Compare(s.dummyHash, password)
	}
}
