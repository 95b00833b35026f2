// Package geo resolves client IPs to a coarse location.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

// ErrInvalidIP is returned for input that does not parse as an IP address.
var ErrInvalidIP = errors.New("invalid ip address")

// Lookup resolves an IP address to a location. Implementations return a zero
// Geo without error when the address is simply unknown.
type Lookup interface {
	Resolve(ctx context.Context, ip string) (models.Geo, error)
}

// Noop is used when no geo database is configured.
type Noop struct{}

func (Noop) Resolve(ctx context.Context, ip string) (models.Geo, error) {
	return models.Geo{}, nil
}

// Static resolves from a fixed table. Useful for local development and tests.
type Static map[string]models.Geo

func (s Static) Resolve(ctx context.Context, ip string) (models.Geo, error) {
	return s[ip], nil
}

// MaxMind reads a GeoIP2 or GeoLite2 City database.
type MaxMind struct {
	reader *geoip2.Reader
}

// OpenMaxMind opens the database at path.
func OpenMaxMind(path string) (*MaxMind, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &MaxMind{reader: reader}, nil
}

// Resolve looks up the city record for ip.
func (m *MaxMind) Resolve(ctx context.Context, ip string) (models.Geo, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return models.Geo{}, ErrInvalidIP
	}

	record, err := m.reader.City(parsed)
	if err != nil {
		return models.Geo{}, fmt.Errorf("geoip lookup: %w", err)
	}

	g := models.Geo{
		Country:  record.Country.IsoCode,
		City:     record.City.Names["en"],
		Timezone: record.Location.TimeZone,
	}
	if len(record.Subdivisions) > 0 {
		g.Region = record.Subdivisions[0].Names["en"]
		if g.Region == "" {
			g.Region = record.Subdivisions[0].IsoCode
		}
	}
	return g, nil
}

// Close releases the database.
func (m *MaxMind) Close() error {
	return m.reader.Close()
}

// Open returns a MaxMind lookup for path, or Noop when path is empty.
func Open(path string) (Lookup, func() error, error) {
	if path == "" {
		return Noop{}, func() error { return nil }, nil
	}
	m, err := OpenMaxMind(path)
	if err != nil {
		return nil, nil, err
	}
	return m, m.Close, nil
}
