package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/stepguard/server/internal/model"
)

const (
	otpLength          = 6
	DefaultOTPTTL      = 5 * time.Minute
	DefaultOTPAttempts = 3
)

// Verdict is the outcome of checking a submitted code
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictInvalid
	VerdictExpired
	VerdictMaxAttempts
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictInvalid:
		return "invalid"
	case VerdictExpired:
		return "expired"
	case VerdictMaxAttempts:
		return "max_attempts"
	default:
		return "unknown"
	}
}

// OTPManager issues and checks one-time codes. Only salted digests are stored.
type OTPManager struct {
	salt        string
	ttl         time.Duration
	maxAttempts int
}

// NewOTPManager creates a new OTP manager
func NewOTPManager(salt string, ttl time.Duration, maxAttempts int) *OTPManager {
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultOTPAttempts
	}
	return &OTPManager{salt: salt, ttl: ttl, maxAttempts: maxAttempts}
}

// TTL returns how long an issued code stays valid
func (m *OTPManager) TTL() time.Duration { return m.ttl }

// MaxAttempts returns the number of wrong codes tolerated per OTP
func (m *OTPManager) MaxAttempts() int { return m.maxAttempts }

// Generate returns a random 6-digit numeric code
func (m *OTPManager) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpLength, n.Int64()), nil
}

// Expiry returns the expiry instant for a code issued at now
func (m *OTPManager) Expiry(now time.Time) time.Time {
	return now.Add(m.ttl)
}

// IsExpired reports whether otp has no expiry or its expiry has passed
func (m *OTPManager) IsExpired(otp model.OTP, now time.Time) bool {
	return otp.ExpiresAt.IsZero() || now.After(otp.ExpiresAt)
}

// Issue generates a fresh code for email and returns it with its stored form
func (m *OTPManager) Issue(email string, now time.Time) (string, model.OTP, error) {
	code, err := m.Generate()
	if err != nil {
		return "", model.OTP{}, err
	}
	return code, model.OTP{
		CodeHash:  hashOTPHex(email, code, m.salt),
		ExpiresAt: m.Expiry(now),
	}, nil
}

// Verify checks submitted against otp. On mismatch otp.Attempts is incremented
// and the caller must persist it; remaining is only meaningful for VerdictInvalid.
func (m *OTPManager) Verify(otp *model.OTP, email, submitted string, now time.Time) (verdict Verdict, remaining int) {
	if otp.CodeHash == "" || m.IsExpired(*otp, now) {
		return VerdictExpired, 0
	}
	if otp.Attempts >= m.maxAttempts {
		return VerdictMaxAttempts, 0
	}

	stored, err := hex.DecodeString(otp.CodeHash)
	if err != nil || subtle.ConstantTimeCompare(hashOTPBytes(email, submitted, m.salt), stored) != 1 {
		remaining = m.maxAttempts - (otp.Attempts + 1)
		otp.Attempts++
		return VerdictInvalid, remaining
	}
	return VerdictOK, 0
}

// verdictError maps a failed verdict to its service error
func verdictError(v Verdict, remaining int) error {
	switch v {
	case VerdictInvalid:
		return &Error{Kind: KindOTPInvalid, Message: "invalid code", RemainingAttempts: remaining}
	case VerdictExpired:
		return newError(KindOTPExpired, "code expired, request a new one")
	case VerdictMaxAttempts:
		return newError(KindOTPMaxAttempts, "too many wrong codes, request a new one")
	default:
		return nil
	}
}

// hashOTPHex returns SHA-256(email:code:salt) as hex for storage
func hashOTPHex(email, code, salt string) string {
	return hex.EncodeToString(hashOTPBytes(email, code, salt))
}

func hashOTPBytes(email, code, salt string) []byte {
	data := fmt.Sprintf("%s:%s:%s", email, code, salt)
	hash := sha256.Sum256([]byte(data))
	return hash[:]
}
