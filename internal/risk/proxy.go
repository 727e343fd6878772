package risk

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/stepguard/server/internal/model"
)

// TrustedProxies lists the networks whose forwarding headers are believed.
// The zero value trusts nobody, so the connection address always wins.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies reads a comma separated list of IPs and CIDRs
func ParseTrustedProxies(s string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("invalid proxy network %q: %w", part, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy address %q: %w", part, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Contains reports whether ip belongs to a trusted network
func (t TrustedProxies) Contains(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the connection address unless it is a trusted proxy, in
// which case the nearest untrusted X-Forwarded-For hop or X-Real-Ip is used.
// Without any connection address the first X-Forwarded-For entry, then
// X-Real-Ip, then "unknown" is returned.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	remote := hostOnly(r.RemoteAddr)
	if remote != "" && !t.Contains(remote) {
		return remote
	}
	if remote != "" {
		if ip := t.nearestUntrusted(r.Header.Get("X-Forwarded-For")); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
			return ip
		}
		return remote
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	return model.UnknownValue
}

// nearestUntrusted walks the hops right to left, skipping our own proxies
func (t TrustedProxies) nearestUntrusted(forwarded string) string {
	hops := strings.Split(forwarded, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !t.Contains(hop) {
			return hop
		}
	}
	return ""
}
