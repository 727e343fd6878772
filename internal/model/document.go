package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInconsistentState is returned when a stored document mixes verified and pending-signup fields
var ErrInconsistentState = errors.New("inconsistent account state")

// UserDocument is the persisted shape of a User, shared by the Redis (JSON)
// and Postgres (JSONB columns) stores.
type UserDocument struct {
	ID            string          `json:"user_id"`
	Email         string          `json:"email"`
	PasswordHash  string          `json:"password_hash"`
	CreatedAt     time.Time       `json:"created_at"`
	EmailVerified bool            `json:"email_verified"`
	SignupOTP     *OTPDocument    `json:"signup_otp,omitempty"`
	PendingStepUp *StepUpDocument `json:"pending_step_up,omitempty"`
	LoginAttempts []time.Time     `json:"login_attempts"`
	LastLogin     *EntryDocument  `json:"last_login,omitempty"`
	LoginHistory  []EntryDocument `json:"login_history"`
}

// OTPDocument is the persisted OTP
type OTPDocument struct {
	Code     string    `json:"code"`
	Expiry   time.Time `json:"expiry"`
	Attempts int       `json:"attempts"`
}

// StepUpDocument is the persisted pending step-up
type StepUpDocument struct {
	OTP         OTPDocument   `json:"otp"`
	SessionID   string        `json:"session_id"`
	SessionData EntryDocument `json:"session_data"`
}

// EntryDocument is a persisted login entry
type EntryDocument struct {
	Timestamp time.Time        `json:"timestamp"`
	IP        string           `json:"ip"`
	Location  LocationDocument `json:"location"`
	Device    DeviceDocument   `json:"device"`
}

// LocationDocument is a persisted location
type LocationDocument struct {
	Country  string   `json:"country"`
	Region   string   `json:"region"`
	City     string   `json:"city"`
	Timezone string   `json:"timezone,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
}

// DeviceDocument is a persisted device fingerprint
type DeviceDocument struct {
	Browser     string `json:"browser"`
	OS          string `json:"os"`
	DeviceType  string `json:"deviceType"`
	DeviceModel string `json:"deviceModel"`
}

// ToDocument converts a User into its persisted shape
func ToDocument(u User) UserDocument {
	doc := UserDocument{
		ID:            u.ID.String(),
		Email:         u.Email,
		PasswordHash:  u.PasswordHash,
		CreatedAt:     u.CreatedAt,
		EmailVerified: u.EmailVerified(),
		LoginAttempts: append([]time.Time{}, u.LoginAttempts...),
		LoginHistory:  make([]EntryDocument, 0, len(u.LoginHistory)),
	}

	switch s := u.State.(type) {
	case Unverified:
		o := otpToDocument(s.SignupOTP)
		doc.SignupOTP = &o
	case ActiveWithStepUp:
		doc.PendingStepUp = &StepUpDocument{
			OTP:         otpToDocument(s.StepUp.OTP),
			SessionID:   s.StepUp.SessionID.String(),
			SessionData: entryToDocument(s.StepUp.Session),
		}
	}

	if u.LastLogin != nil {
		e := entryToDocument(*u.LastLogin)
		doc.LastLogin = &e
	}
	for _, e := range u.LoginHistory {
		doc.LoginHistory = append(doc.LoginHistory, entryToDocument(e))
	}
	return doc
}

// FromDocument converts a persisted document back into a User
func FromDocument(doc UserDocument) (User, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return User{}, fmt.Errorf("parse user ID: %w", err)
	}

	u := User{
		ID:            id,
		Email:         doc.Email,
		PasswordHash:  doc.PasswordHash,
		CreatedAt:     doc.CreatedAt,
		LoginAttempts: append([]time.Time{}, doc.LoginAttempts...),
	}

	switch {
	case !doc.EmailVerified:
		if doc.PendingStepUp != nil {
			return User{}, fmt.Errorf("%w: step-up pending on unverified account", ErrInconsistentState)
		}
		var o OTP
		if doc.SignupOTP != nil {
			o = otpFromDocument(*doc.SignupOTP)
		}
		u.State = Unverified{SignupOTP: o}
	case doc.SignupOTP != nil:
		return User{}, fmt.Errorf("%w: signup OTP on verified account", ErrInconsistentState)
	case doc.PendingStepUp != nil:
		sid, err := uuid.Parse(doc.PendingStepUp.SessionID)
		if err != nil {
			return User{}, fmt.Errorf("parse session ID: %w", err)
		}
		u.State = ActiveWithStepUp{StepUp: PendingStepUp{
			OTP:       otpFromDocument(doc.PendingStepUp.OTP),
			SessionID: sid,
			Session:   entryFromDocument(doc.PendingStepUp.SessionData),
		}}
	default:
		u.State = Active{}
	}

	if doc.LastLogin != nil {
		e := entryFromDocument(*doc.LastLogin)
		u.LastLogin = &e
	}
	for _, e := range doc.LoginHistory {
		u.LoginHistory = append(u.LoginHistory, entryFromDocument(e))
	}
	return u, nil
}

// PendingSessionID returns the step-up session id as stored, or "" when none is pending
func (d UserDocument) PendingSessionID() string {
	if d.PendingStepUp == nil {
		return ""
	}
	return d.PendingStepUp.SessionID
}

func otpToDocument(o OTP) OTPDocument {
	return OTPDocument{Code: o.CodeHash, Expiry: o.ExpiresAt, Attempts: o.Attempts}
}

func otpFromDocument(d OTPDocument) OTP {
	return OTP{CodeHash: d.Code, ExpiresAt: d.Expiry, Attempts: d.Attempts}
}

func entryToDocument(e LoginEntry) EntryDocument {
	return EntryDocument{
		Timestamp: e.Timestamp,
		IP:        e.IP,
		Location: LocationDocument{
			Country:  e.Location.Country,
			Region:   e.Location.Region,
			City:     e.Location.City,
			Timezone: e.Location.Timezone,
			Lat:      e.Location.Lat,
			Lon:      e.Location.Lon,
		},
		Device: DeviceDocument{
			Browser:     e.Device.Browser,
			OS:          e.Device.OS,
			DeviceType:  e.Device.DeviceType,
			DeviceModel: e.Device.DeviceModel,
		},
	}
}

func entryFromDocument(d EntryDocument) LoginEntry {
	return LoginEntry{
		Timestamp: d.Timestamp,
		IP:        d.IP,
		Location: Location{
			Country:  d.Location.Country,
			Region:   d.Location.Region,
			City:     d.Location.City,
			Timezone: d.Location.Timezone,
			Lat:      d.Location.Lat,
			Lon:      d.Location.Lon,
		},
		Device: Device{
			Browser:     d.Device.Browser,
			OS:          d.Device.OS,
			DeviceType:  d.Device.DeviceType,
			DeviceModel: d.Device.DeviceModel,
		},
	}
}
