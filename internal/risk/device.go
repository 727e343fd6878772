package risk

import (
	"strings"

	"github.com/mileusna/useragent"

	"github.com/stepguard/server/internal/model"
)

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

// ParseDevice turns a User-Agent header into a device fingerprint
func ParseDevice(userAgent string) model.Device {
	ua := useragent.Parse(strings.TrimSpace(userAgent))

	device := model.Device{
		Browser:     joinOrUnknown(ua.Name, ua.Version),
		OS:          joinOrUnknown(ua.OS, ua.OSVersion),
		DeviceType:  DeviceDesktop,
		DeviceModel: valueOrUnknown(ua.Device),
	}

	switch {
	case ua.Bot:
		device.DeviceType = DeviceBot
	case ua.Tablet:
		device.DeviceType = DeviceTablet
	case ua.Mobile:
		device.DeviceType = DeviceMobile
	}
	return device
}

func joinOrUnknown(name, version string) string {
	if name == "" {
		return model.UnknownValue
	}
	if version == "" {
		return name
	}
	return name + " " + version
}
