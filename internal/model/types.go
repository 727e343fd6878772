package model

import (
	"time"

	"github.com/google/uuid"
)

// UnknownValue is used for every signal field that could not be resolved
const UnknownValue = "unknown"

// User represents a credential record in the store
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	State        AccountState
	// LoginAttempts is read only by the rate limiter
	LoginAttempts []time.Time
	LastLogin     *LoginEntry
	// LoginHistory is ordered oldest to newest
	LoginHistory []LoginEntry
}

// EmailVerified reports whether the signup OTP has been confirmed
func (u *User) EmailVerified() bool {
	switch u.State.(type) {
	case Active, ActiveWithStepUp:
		return true
	default:
		return false
	}
}

// PendingStepUp returns the pending step-up challenge, if any
func (u *User) PendingStepUp() (PendingStepUp, bool) {
	s, ok := u.State.(ActiveWithStepUp)
	if !ok {
		return PendingStepUp{}, false
	}
	return s.StepUp, true
}

// SignupOTP returns the pending signup OTP, if any
func (u *User) SignupOTP() (OTP, bool) {
	s, ok := u.State.(Unverified)
	if !ok {
		return OTP{}, false
	}
	return s.SignupOTP, true
}

// OTP is a one-time passcode. Only the salted digest of the code is kept.
type OTP struct {
	CodeHash  string
	ExpiresAt time.Time
	Attempts  int
}

// Location is the IP-derived geographic position of a request
type Location struct {
	Country  string
	Region   string
	City     string
	Timezone string
	Lat      *float64
	Lon      *float64
}

// UnknownLocation is returned whenever the IP cannot be resolved
func UnknownLocation() Location {
	return Location{Country: UnknownValue, Region: UnknownValue, City: UnknownValue}
}

// HasCoordinates reports whether both latitude and longitude are known
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// Device is the parsed user-agent fingerprint
type Device struct {
	Browser     string
	OS          string
	DeviceType  string
	DeviceModel string
}

// Signals is the risk context derived from one request
type Signals struct {
	IP       string
	Location Location
	Device   Device
}

// LoginEntry records one confirmed login (or the snapshot of a pending one)
type LoginEntry struct {
	Timestamp time.Time
	IP        string
	Location  Location
	Device    Device
}

// NewLoginEntry snapshots signals at the given instant
func NewLoginEntry(s Signals, at time.Time) LoginEntry {
	return LoginEntry{
		Timestamp: at,
		IP:        s.IP,
		Location:  s.Location,
		Device:    s.Device,
	}
}

// PendingStepUp links a step-up OTP to the login attempt that triggered it
type PendingStepUp struct {
	OTP       OTP
	SessionID uuid.UUID
	Session   LoginEntry
}
