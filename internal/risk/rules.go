package risk

import (
	"strings"
	"time"

	"github.com/stepguard/server/internal/model"
)

const (
	ReasonNewLocation = "Login from new location"
	ReasonNewDevice   = "Login from new device"
	ReasonUnusualTime = "Login at unusual time"
)

// Rule is one independent suspicious-activity heuristic
type Rule interface {
	Name() string
	// Reason is the fixed label reported when the rule triggers
	Reason() string
	Suspicious(current model.Signals, profile Profile, now time.Time) bool
}

// LocationRule flags a change of country, a long jump between coordinates,
// or, without coordinates, a change of region.
type LocationRule struct {
	MaxDistanceKm float64
}

func (LocationRule) Name() string   { return "location" }
func (LocationRule) Reason() string { return ReasonNewLocation }

func (r LocationRule) Suspicious(current model.Signals, profile Profile, _ time.Time) bool {
	if profile.LastLogin == nil {
		return false
	}
	prior := profile.LastLogin.Location
	if prior.Country == "" || prior.Country == model.UnknownValue {
		return false
	}

	cur := current.Location
	if cur.Country != prior.Country {
		return true
	}

	if cur.HasCoordinates() && prior.HasCoordinates() {
		return haversine(*prior.Lat, *prior.Lon, *cur.Lat, *cur.Lon) > r.MaxDistanceKm
	}

	return cur.Region != prior.Region
}

// DeviceRule flags a login where both the browser family and the OS family
// differ from the last confirmed login.
type DeviceRule struct{}

func (DeviceRule) Name() string   { return "device" }
func (DeviceRule) Reason() string { return ReasonNewDevice }

func (DeviceRule) Suspicious(current model.Signals, profile Profile, _ time.Time) bool {
	if profile.LastLogin == nil || profile.LastLogin.Device == (model.Device{}) {
		return false
	}
	prior := profile.LastLogin.Device

	browserChanged := !sameFamily(current.Device.Browser, prior.Browser)
	osChanged := !sameFamily(current.Device.OS, prior.OS)
	return browserChanged && osChanged
}

// sameFamily compares the leading tokens case-insensitively in both directions
func sameFamily(current, prior string) bool {
	cur := strings.ToLower(current)
	prev := strings.ToLower(prior)
	return strings.Contains(cur, leadingToken(prev)) || strings.Contains(prev, leadingToken(cur))
}

func leadingToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// TimeOfDayRule flags a login far from the user's mean login hour
type TimeOfDayRule struct {
	MinHistory   int
	MaxDeviation float64
}

func (TimeOfDayRule) Name() string   { return "time_of_day" }
func (TimeOfDayRule) Reason() string { return ReasonUnusualTime }

func (r TimeOfDayRule) Suspicious(_ model.Signals, profile Profile, now time.Time) bool {
	if len(profile.History) < r.MinHistory || len(profile.History) == 0 {
		return false
	}

	var sum float64
	for _, e := range profile.History {
		sum += float64(e.Timestamp.UTC().Hour())
	}
	mean := sum / float64(len(profile.History))

	return circularHourDistance(float64(now.UTC().Hour()), mean) > r.MaxDeviation
}
