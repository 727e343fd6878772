package risk

import (
	"net"
	"net/http"
	"strings"

	"github.com/stepguard/server/internal/model"
)

// Extractor derives risk signals from an inbound request.
// locator may be nil, in which case every location is unknown.
type Extractor struct {
	locator Locator
	proxies TrustedProxies
}

// NewExtractor creates a new signal extractor. Forwarding headers are only
// read when the connection comes from one of proxies.
func NewExtractor(locator Locator, proxies TrustedProxies) *Extractor {
	return &Extractor{locator: locator, proxies: proxies}
}

// Extract returns the IP, location and device of r
func (e *Extractor) Extract(r *http.Request) model.Signals {
	ip := e.proxies.ClientIP(r)
	return model.Signals{
		IP:       ip,
		Location: e.Locate(ip),
		Device:   ParseDevice(r.UserAgent()),
	}
}

// Locate resolves ip, falling back to an unknown location on any failure
func (e *Extractor) Locate(ip string) model.Location {
	if e.locator == nil || ip == model.UnknownValue {
		return model.UnknownLocation()
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return model.UnknownLocation()
	}
	loc, err := e.locator.Lookup(parsed)
	if err != nil {
		return model.UnknownLocation()
	}
	return loc
}

func hostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
