package risk

import (
	"errors"
	"net"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepguard/server/internal/model"
)

type fakeLocator struct {
	locations map[string]model.Location
	calls     int
}

func (f *fakeLocator) Lookup(ip net.IP) (model.Location, error) {
	f.calls++
	loc, ok := f.locations[ip.String()]
	if !ok {
		return model.Location{}, errors.New("no record")
	}
	return loc, nil
}

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestClientIP_noTrustedProxies(t *testing.T) {
	var none TrustedProxies

	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "192.0.2.10:4321"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	r.Header.Set("X-Real-Ip", "1.2.3.4")
	assert.Equal(t, "192.0.2.10", none.ClientIP(r), "headers never override the connection")

	r = httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = ""
	r.Header.Set("X-Forwarded-For", "198.51.100.2, 10.0.0.1")
	assert.Equal(t, "198.51.100.2", none.ClientIP(r))

	r.Header.Del("X-Forwarded-For")
	r.Header.Set("X-Real-Ip", "198.51.100.3")
	assert.Equal(t, "198.51.100.3", none.ClientIP(r))

	r.Header.Del("X-Real-Ip")
	assert.Equal(t, model.UnknownValue, none.ClientIP(r))
}

func TestClientIP_behindTrustedProxy(t *testing.T) {
	proxies, err := ParseTrustedProxies("10.0.0.0/8, 127.0.0.1")
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "10.0.0.5:8080"
	r.Header.Set("X-Forwarded-For", "6.6.6.6, 198.51.100.2, 10.0.0.7")
	assert.Equal(t, "198.51.100.2", proxies.ClientIP(r), "nearest untrusted hop wins over a spoofed leftmost entry")

	r.Header.Del("X-Forwarded-For")
	r.Header.Set("X-Real-Ip", "198.51.100.3")
	assert.Equal(t, "198.51.100.3", proxies.ClientIP(r))

	r.Header.Del("X-Real-Ip")
	assert.Equal(t, "10.0.0.5", proxies.ClientIP(r))

	r = httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "192.0.2.10:4321"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	assert.Equal(t, "192.0.2.10", proxies.ClientIP(r), "untrusted peers cannot forward")
}

func TestParseTrustedProxies(t *testing.T) {
	proxies, err := ParseTrustedProxies("")
	require.NoError(t, err)
	assert.Empty(t, proxies)

	proxies, err = ParseTrustedProxies("192.168.0.0/16,::1")
	require.NoError(t, err)
	assert.True(t, proxies.Contains("192.168.4.4"))
	assert.True(t, proxies.Contains("::1"))
	assert.False(t, proxies.Contains("192.169.0.1"))
	assert.False(t, proxies.Contains("garbage"))

	_, err = ParseTrustedProxies("10.0.0.0/99")
	assert.Error(t, err)
	_, err = ParseTrustedProxies("proxy.internal")
	assert.Error(t, err)
}

func TestExtract_withLocator(t *testing.T) {
	lat, lon := 48.85, 2.35
	locator := &fakeLocator{locations: map[string]model.Location{
		"198.51.100.2": {Country: "FR", Region: "IDF", City: "Paris", Timezone: "Europe/Paris", Lat: &lat, Lon: &lon},
	}}

	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "198.51.100.2:1234"
	r.Header.Set("User-Agent", chromeUA)

	got := NewExtractor(locator, nil).Extract(r)
	assert.Equal(t, "198.51.100.2", got.IP)
	assert.Equal(t, "FR", got.Location.Country)
	assert.True(t, got.Location.HasCoordinates())
	assert.Contains(t, got.Device.Browser, "Chrome")
	assert.Contains(t, got.Device.OS, "Windows")
	assert.Equal(t, DeviceDesktop, got.Device.DeviceType)
}

func TestExtract_lookupFailureIsUnknown(t *testing.T) {
	locator := &fakeLocator{}
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "203.0.113.9:1"

	got := NewExtractor(locator, nil).Extract(r)
	assert.Equal(t, model.UnknownLocation(), got.Location)
	assert.Equal(t, 1, locator.calls)
}

func TestExtract_noDatabase(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "203.0.113.9:1"

	got := NewExtractor(nil, nil).Extract(r)
	assert.Equal(t, model.UnknownLocation(), got.Location)
}

func TestLocate_unknownIPSkipsLookup(t *testing.T) {
	locator := &fakeLocator{}
	e := NewExtractor(locator, nil)

	assert.Equal(t, model.UnknownLocation(), e.Locate(model.UnknownValue))
	assert.Equal(t, model.UnknownLocation(), e.Locate("not-an-ip"))
	assert.Zero(t, locator.calls)
}

func TestParseDevice_defaults(t *testing.T) {
	got := ParseDevice("")
	assert.Equal(t, model.UnknownValue, got.Browser)
	assert.Equal(t, model.UnknownValue, got.OS)
	assert.Equal(t, DeviceDesktop, got.DeviceType)
	assert.Equal(t, model.UnknownValue, got.DeviceModel)
}

func TestParseDevice_mobile(t *testing.T) {
	ua := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	got := ParseDevice(ua)
	assert.Equal(t, DeviceMobile, got.DeviceType)
	assert.Contains(t, got.Browser, "Safari")
}
