package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stepguard/server/internal/logging"
	"github.com/stepguard/server/internal/model"
	"github.com/stepguard/server/internal/notify"
	"github.com/stepguard/server/internal/ratelimit"
	"github.com/stepguard/server/internal/repo"
	"github.com/stepguard/server/internal/risk"
)

// LoginStatus distinguishes the two successful login outcomes
type LoginStatus string

const (
	StatusAuthenticated  LoginStatus = "AUTHENTICATED"
	StatusStepUpRequired LoginStatus = "STEP_UP_REQUIRED"
)

// LoginInput is one login attempt
type LoginInput struct {
	Email    string
	Password string
	Signals  model.Signals
}

// LoginResult is either an issued token or a step-up challenge
type LoginResult struct {
	Status LoginStatus
	User   model.User

	// Set when Status is StatusAuthenticated
	Token     string
	ExpiresAt time.Time

	// Set when Status is StatusStepUpRequired
	SessionID uuid.UUID
	Reasons   []string
	Delivered bool
}

// Login runs the credential check, rate limit and risk assessment for one attempt
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return LoginResult{}, newError(KindValidation, "email and password are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.spendDummyCompare(in.Password)
			return LoginResult{}, invalidCredentials()
		}
		return LoginResult{}, s.storeError("load user", err)
	}

	now := s.now()
	userID := user.ID
	user, err = s.users.Update(ctx, userID, func(u *model.User) error {
		if ratelimit.Check(u.LoginAttempts, now, s.opts.RateLimitWindow, s.opts.RateLimitMaxAttempts).Limited {
			return rateLimited(s.opts.RateLimitWindow)
		}
		u.LoginAttempts = ratelimit.Record(u.LoginAttempts, now, s.opts.RateLimitWindow)
		return nil
	})
	if err != nil {
		if KindOf(err) == KindRateLimited {
			s.logger.WarnContext(ctx, "login rate limited", "user_id", userID, "ip", in.Signals.IP)
		}
		return LoginResult{}, s.storeError("record attempt", err)
	}

	ok, err := s.hasher.Compare(user.PasswordHash, in.Password)
	if err != nil {
		return LoginResult{}, dependencyError("compare password", err)
	}
	if !ok {
		return LoginResult{}, invalidCredentials()
	}
	if !user.EmailVerified() {
		return LoginResult{}, newError(KindEmailUnverified, "verify your email before logging in")
	}

	entry := model.NewLoginEntry(in.Signals, now)
	assessment := s.assessor.Assess(in.Signals, risk.ProfileOf(user), now)
	if assessment.Suspicious {
		return s.startStepUp(ctx, user, entry, assessment)
	}

	user, _, err = s.profiles.Commit(ctx, user.ID, entry, nil)
	if err != nil {
		return LoginResult{}, s.storeError("commit login", err)
	}
	return s.authenticated(ctx, user)
}

// ConfirmLoginOTP resolves a pending step-up and commits the login snapshot taken when it was raised
func (s *Service) ConfirmLoginOTP(ctx context.Context, sessionID uuid.UUID, code string) (LoginResult, error) {
	if sessionID == uuid.Nil {
		return LoginResult{}, newError(KindValidation, "session id is required")
	}
	if err := validateCode(code); err != nil {
		return LoginResult{}, err
	}

	user, err := s.users.GetByPendingSession(ctx, sessionID)
	if err != nil {
		return LoginResult{}, s.storeError("load session", err)
	}
	pending, ok := user.PendingStepUp()
	if !ok {
		return LoginResult{}, newError(KindNotFound, "session not found")
	}

	now := s.now()
	var (
		verdict   Verdict
		remaining int
	)
	user, committed, err := s.profiles.Commit(ctx, user.ID, pending.Session, func(u *model.User) (bool, error) {
		current, ok := u.PendingStepUp()
		if !ok || current.SessionID != sessionID {
			return false, newError(KindNotFound, "session not found")
		}
		verdict, remaining = s.otps.Verify(&current.OTP, u.Email, code, now)
		switch verdict {
		case VerdictOK:
			return true, nil
		case VerdictInvalid:
			u.State = model.ActiveWithStepUp{StepUp: current}
			return false, nil
		default:
			return false, verdictError(verdict, remaining)
		}
	})
	if err != nil {
		return LoginResult{}, s.storeError("verify login otp", err)
	}
	if !committed {
		return LoginResult{}, verdictError(verdict, remaining)
	}

	s.logger.InfoContext(ctx, "step-up confirmed", "user_id", user.ID, "session_id", sessionID)
	return s.authenticated(ctx, user)
}

func (s *Service) startStepUp(ctx context.Context, user model.User, entry model.LoginEntry, assessment risk.Assessment) (LoginResult, error) {
	code, otp, err := s.otps.Issue(user.Email, entry.Timestamp)
	if err != nil {
		return LoginResult{}, dependencyError("issue otp", err)
	}
	sessionID := uuid.New()

	// any earlier pending step-up is replaced, leaving its session id unresolvable
	user, err = s.users.Update(ctx, user.ID, func(u *model.User) error {
		if !u.EmailVerified() {
			return newError(KindEmailUnverified, "verify your email before logging in")
		}
		u.State = model.ActiveWithStepUp{StepUp: model.PendingStepUp{
			OTP:       otp,
			SessionID: sessionID,
			Session:   entry,
		}}
		return nil
	})
	if err != nil {
		return LoginResult{}, s.storeError("store step-up", err)
	}

	delivered := s.deliver(ctx, notify.Message{
		To:      user.Email,
		Code:    code,
		Purpose: notify.PurposeLogin,
		Reasons: assessment.Reasons,
		TTL:     s.otps.TTL(),
	})
	s.logger.InfoContext(ctx, "step-up required",
		"user_id", user.ID,
		"email", logging.MaskEmail(user.Email),
		"session_id", sessionID,
		"rules", assessment.Rules,
		"delivered", delivered,
	)

	return LoginResult{
		Status:    StatusStepUpRequired,
		User:      user,
		SessionID: sessionID,
		Reasons:   assessment.Reasons,
		Delivered: delivered,
	}, nil
}

func (s *Service) authenticated(ctx context.Context, user model.User) (LoginResult, error) {
	token, expiresAt, err := s.signer.SignAccessToken(user.ID, user.Email)
	if err != nil {
		return LoginResult{}, dependencyError("sign token", err)
	}
	s.logger.InfoContext(ctx, "login succeeded", "user_id", user.ID)
	return LoginResult{
		Status:    StatusAuthenticated,
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}
