package geo

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

// MMDBResolver resolves IPs against a local MMDB file. Two database flavors
// are supported and auto-detected from the file metadata:
//
//   - IPinfo bundle databases (country/ASN facts in one file)
//   - MaxMind GeoLite2/GeoIP2 City databases
//
// Lookups are local file reads; the reader is safe for concurrent use.
type MMDBResolver struct {
	bundle *maxminddb.Reader // non-nil for IPinfo bundle databases
	city   *geoip2.Reader    // non-nil for GeoLite2/GeoIP2 City databases
}

// bundleRecord matches the IPinfo bundle MMDB layout.
type bundleRecord struct {
	Country       string `maxminddb:"country"`
	CountryCode   string `maxminddb:"country_code"`
	Continent     string `maxminddb:"continent"`
	ContinentCode string `maxminddb:"continent_code"`
	ASN           string `maxminddb:"asn"`
	ASName        string `maxminddb:"as_name"`
	ASDomain      string `maxminddb:"as_domain"`
}

// Open opens the MMDB file at path and returns a resolver for it.
func Open(path string) (*MMDBResolver, error) {
	rd, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo database %s: %w", path, err)
	}

	dbType := rd.Metadata.DatabaseType
	if strings.Contains(dbType, "City") || strings.Contains(dbType, "Country") {
		// Reopen through geoip2 for its typed City lookups.
		if err := rd.Close(); err != nil {
			return nil, fmt.Errorf("failed to close geo database: %w", err)
		}
		city, err := geoip2.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open city database %s: %w", path, err)
		}
		return &MMDBResolver{city: city}, nil
	}

	return &MMDBResolver{bundle: rd}, nil
}

// Close releases the underlying database reader.
func (r *MMDBResolver) Close() error {
	if r.bundle != nil {
		return r.bundle.Close()
	}
	if r.city != nil {
		return r.city.Close()
	}
	return nil
}

// Resolve implements Resolver.
func (r *MMDBResolver) Resolve(ctx context.Context, ip string) (Facts, error) {
	if err := ctx.Err(); err != nil {
		return Facts{}, ErrUnresolved
	}

	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return Facts{}, ErrUnresolved
	}

	if r.bundle != nil {
		return r.resolveBundle(parsed)
	}
	return r.resolveCity(parsed)
}

func (r *MMDBResolver) resolveBundle(ip net.IP) (Facts, error) {
	var rec bundleRecord
	if err := r.bundle.Lookup(ip, &rec); err != nil {
		return Facts{}, ErrUnresolved
	}

	facts := Facts{
		Country:      strings.ToUpper(rec.CountryCode),
		CountryName:  rec.Country,
		Continent:    rec.ContinentCode,
		ASN:          rec.ASN,
		Organization: rec.ASName,
	}
	if !facts.Known() {
		return Facts{}, ErrUnresolved
	}
	return facts, nil
}

func (r *MMDBResolver) resolveCity(ip net.IP) (Facts, error) {
	city, err := r.city.City(ip)
	if err != nil {
		return Facts{}, ErrUnresolved
	}

	facts := Facts{
		Country:     strings.ToUpper(city.Country.IsoCode),
		CountryName: city.Country.Names["en"],
		Continent:   city.Continent.Code,
		IsProxy:     city.Traits.IsAnonymousProxy,
	}
	if !facts.Known() {
		return Facts{}, ErrUnresolved
	}
	return facts, nil
}
