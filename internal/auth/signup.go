package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/stepguard/server/internal/logging"
	"github.com/stepguard/server/internal/model"
	"github.com/stepguard/server/internal/notify"
)

// SignupResult is returned by Signup and ResendSignupOTP
type SignupResult struct {
	UserID    uuid.UUID
	Email     string
	Delivered bool
	// FallbackCode carries the plaintext code only when delivery failed,
	// so the user is not locked out of verification
	FallbackCode string
}

// Signup creates an unverified account and sends its verification code
func (s *Service) Signup(ctx context.Context, email, password string) (SignupResult, error) {
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return SignupResult{}, err
	}
	if len(password) < minPasswordLength {
		return SignupResult{}, newError(KindValidation, "password must be at least 8 characters")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return SignupResult{}, dependencyError("hash password", err)
	}

	now := s.now()
	code, otp, err := s.otps.Issue(email, now)
	if err != nil {
		return SignupResult{}, dependencyError("issue otp", err)
	}

	user, err := s.users.CreateIfAbsent(ctx, model.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		State:        model.Unverified{SignupOTP: otp},
	})
	if err != nil {
		return SignupResult{}, s.storeError("create user", err)
	}

	s.logger.InfoContext(ctx, "signup created", "user_id", user.ID, "email", logging.MaskEmail(email))
	return s.sendSignupCode(ctx, user, code), nil
}

// ResendSignupOTP replaces the pending signup code with a fresh one
func (s *Service) ResendSignupOTP(ctx context.Context, email string) (SignupResult, error) {
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return SignupResult{}, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return SignupResult{}, s.storeError("load user", err)
	}

	code, otp, err := s.otps.Issue(email, s.now())
	if err != nil {
		return SignupResult{}, dependencyError("issue otp", err)
	}

	user, err = s.users.Update(ctx, user.ID, func(u *model.User) error {
		if u.EmailVerified() {
			return newError(KindConflict, "email already verified")
		}
		u.State = model.Unverified{SignupOTP: otp}
		return nil
	})
	if err != nil {
		return SignupResult{}, s.storeError("store otp", err)
	}

	return s.sendSignupCode(ctx, user, code), nil
}

// ConfirmSignupOTP verifies the signup code and activates the account
func (s *Service) ConfirmSignupOTP(ctx context.Context, email, code string) (model.User, error) {
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return model.User{}, err
	}
	if err := validateCode(code); err != nil {
		return model.User{}, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return model.User{}, s.storeError("load user", err)
	}

	now := s.now()
	var (
		verdict   Verdict
		remaining int
	)
	user, err = s.users.Update(ctx, user.ID, func(u *model.User) error {
		otp, pending := u.SignupOTP()
		if !pending {
			return newError(KindConflict, "email already verified")
		}
		verdict, remaining = s.otps.Verify(&otp, u.Email, code, now)
		switch verdict {
		case VerdictOK:
			u.State = model.Active{}
			return nil
		case VerdictInvalid:
			// keep the incremented attempt counter
			u.State = model.Unverified{SignupOTP: otp}
			return nil
		default:
			return verdictError(verdict, remaining)
		}
	})
	if err != nil {
		return model.User{}, s.storeError("verify signup otp", err)
	}
	if verdict != VerdictOK {
		return model.User{}, verdictError(verdict, remaining)
	}

	s.logger.InfoContext(ctx, "email verified", "user_id", user.ID)
	return user, nil
}

func (s *Service) sendSignupCode(ctx context.Context, user model.User, code string) SignupResult {
	delivered := s.deliver(ctx, notify.Message{
		To:      user.Email,
		Code:    code,
		Purpose: notify.PurposeSignup,
		TTL:     s.otps.TTL(),
	})
	result := SignupResult{UserID: user.ID, Email: user.Email, Delivered: delivered}
	if !delivered {
		result.FallbackCode = code
	}
	return result
}
