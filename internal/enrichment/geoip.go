package enrichment

import (
	"net"
	"strconv"

	"github.com/nyaruka/phonenumbers"
	"github.com/oschwald/geoip2-golang"
)

// GeoResult contains geolocation data
type GeoResult struct {
	Country string
	City    string
	Region  string
}

// GeoIP resolves client IPs against a MaxMind City database.
type GeoIP struct {
	db *geoip2.Reader
}

// NewGeoIP opens the database at path. An empty path returns nil.
func NewGeoIP(path string) (*GeoIP, error) {
	if path == "" {
		return nil, nil
	}

	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}

	return &GeoIP{db: db}, nil
}

// Close closes the GeoIP database
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}

// Lookup returns geolocation for an IP address
func (g *GeoIP) Lookup(ipStr string) *GeoResult {
	if g == nil || g.db == nil {
		return nil
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil
	}

	record, err := g.db.City(ip)
	if err != nil {
		return nil
	}

	result := &GeoResult{Country: record.Country.IsoCode}
	if len(record.City.Names) > 0 {
		result.City = record.City.Names["en"]
	}
	if len(record.Subdivisions) > 0 {
		result.Region = record.Subdivisions[0].IsoCode
	}
	return result
}

// CallingCode returns the telephone country code for an ISO country, or "".
func CallingCode(isoCountry string) string {
	if isoCountry == "" {
		return ""
	}
	cc := phonenumbers.GetCountryCodeForRegion(isoCountry)
	if cc == 0 {
		return ""
	}
	return strconv.Itoa(cc)
}
