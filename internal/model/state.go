package model

// AccountState is the sealed set of per-account states.
// The concrete types are Unverified, Active and ActiveWithStepUp.
type AccountState interface {
	accountState()
}

// Unverified accounts wait for the signup OTP to be confirmed
type Unverified struct {
	SignupOTP OTP
}

// Active accounts have a verified email and no pending challenge
type Active struct{}

// ActiveWithStepUp accounts have a risk-flagged login awaiting its OTP
type ActiveWithStepUp struct {
	StepUp PendingStepUp
}

func (Unverified) accountState()       {}
func (Active) accountState()           {}
func (ActiveWithStepUp) accountState() {}
