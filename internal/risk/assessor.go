// Package risk derives request signals and decides whether a login looks
// suspicious compared to the account's confirmed login profile.
package risk

import (
	"time"

	"github.com/stepguard/server/internal/model"
)

// Config holds the assessor thresholds
type Config struct {
	MaxDistanceKm    float64
	MaxHourDeviation float64
	MinHistory       int
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		MaxDistanceKm:    500,
		MaxHourDeviation: 6,
		MinHistory:       3,
	}
}

// Profile is the confirmed login history the assessor compares against
type Profile struct {
	LastLogin *model.LoginEntry
	History   []model.LoginEntry
}

// ProfileOf extracts the assessor profile from a user record
func ProfileOf(u model.User) Profile {
	return Profile{LastLogin: u.LastLogin, History: u.LoginHistory}
}

// Assessment is the verdict of one assessment
type Assessment struct {
	Suspicious bool
	Reasons    []string
	// Rules lists the names of the triggered rules, in evaluation order
	Rules []string
}

// Assessor evaluates every rule and ORs the results
type Assessor struct {
	rules []Rule
}

// NewAssessor creates an assessor with the location, device and time-of-day rules
func NewAssessor(cfg Config) *Assessor {
	return NewAssessorWithRules(
		LocationRule{MaxDistanceKm: cfg.MaxDistanceKm},
		DeviceRule{},
		TimeOfDayRule{MinHistory: cfg.MinHistory, MaxDeviation: cfg.MaxHourDeviation},
	)
}

// NewAssessorWithRules creates an assessor with a custom rule set.
// Rules are evaluated in the order given.
func NewAssessorWithRules(rules ...Rule) *Assessor {
	return &Assessor{rules: rules}
}

// Assess runs every rule against current and profile
func (a *Assessor) Assess(current model.Signals, profile Profile, now time.Time) Assessment {
	result := Assessment{Reasons: make([]string, 0, len(a.rules))}
	for _, rule := range a.rules {
		if rule.Suspicious(current, profile, now) {
			result.Suspicious = true
			result.Reasons = append(result.Reasons, rule.Reason())
			result.Rules = append(result.Rules, rule.Name())
		}
	}
	return result
}
