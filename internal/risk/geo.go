package risk

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/stepguard/server/internal/model"
)

// ErrLocationNotFound is returned when the database has no record for an IP
var ErrLocationNotFound = errors.New("location not found")

// Locator resolves an IP address to a location
type Locator interface {
	Lookup(ip net.IP) (model.Location, error)
}

// GeoIPLocator reads a MaxMind City database (.mmdb)
type GeoIPLocator struct {
	reader *geoip2.Reader
}

// OpenGeoIP opens the City database at path
func OpenGeoIP(path string) (*GeoIPLocator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &GeoIPLocator{reader: reader}, nil
}

// Close releases the database
func (g *GeoIPLocator) Close() error {
	if g.reader == nil {
		return nil
	}
	return g.reader.Close()
}

// Lookup returns country, first subdivision, city, time zone and coordinates for ip
func (g *GeoIPLocator) Lookup(ip net.IP) (model.Location, error) {
	record, err := g.reader.City(ip)
	if err != nil {
		return model.Location{}, fmt.Errorf("geoip lookup: %w", err)
	}
	if record.Country.IsoCode == "" {
		return model.Location{}, ErrLocationNotFound
	}

	loc := model.Location{
		Country:  record.Country.IsoCode,
		Region:   model.UnknownValue,
		City:     valueOrUnknown(record.City.Names["en"]),
		Timezone: record.Location.TimeZone,
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = valueOrUnknown(record.Subdivisions[0].IsoCode)
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat, lon := record.Location.Latitude, record.Location.Longitude
		loc.Lat, loc.Lon = &lat, &lon
	}
	return loc, nil
}

func valueOrUnknown(s string) string {
	if s == "" {
		return model.UnknownValue
	}
	return s
}
