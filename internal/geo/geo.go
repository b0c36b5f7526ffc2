// Package geo resolves payer IP addresses to location and network facts.
//
// The core scoring pipeline only ever sees the Resolver interface; the MMDB
// readers and caches behind it are interchangeable. An IP that cannot be
// resolved (bad syntax, missing database entry, lookup timeout) yields the
// fully-unknown Facts value together with ErrUnresolved. Callers must treat
// unknown as "no signal", never as a mismatch.
package geo

import (
	"context"
	"errors"
	"strings"
)

// ErrUnresolved signals that an IP could not be resolved to any facts.
// It is a degraded-data condition, not a batch-fatal error.
var ErrUnresolved = errors.New("geo: ip unresolved")

// Facts holds what the geolocation database knows about one IP address.
// The zero value is fully unknown; empty string means "unknown", never a
// placeholder country.
type Facts struct {
	Country      string `json:"country,omitempty"`      // ISO 3166-1 alpha-2
	CountryName  string `json:"countryName,omitempty"`
	Continent    string `json:"continent,omitempty"`
	ASN          string `json:"asn,omitempty"`
	Organization string `json:"organization,omitempty"`
	IsProxy      bool   `json:"isProxy,omitempty"` // best-effort anonymizer flag
}

// HasCountry reports whether the country is known.
func (f Facts) HasCountry() bool { return f.Country != "" }

// Known reports whether any fact at all was resolved.
func (f Facts) Known() bool {
	return f != Facts{}
}

// Resolver looks up geographic and network facts for an IP address.
// Implementations must be idempotent and side-effect free from the caller's
// perspective, and safe for concurrent use.
type Resolver interface {
	// Resolve returns the facts for ip. On invalid syntax or lookup failure
	// it returns a zero Facts and ErrUnresolved; it never returns partial
	// placeholder values.
	Resolve(ctx context.Context, ip string) (Facts, error)
}

// MatchesProxyIndicator reports whether the organization or ASN matches any
// of the configured proxy/VPN/datacenter keywords.
func (f Facts) MatchesProxyIndicator(keywords []string) bool {
	if f.Organization == "" && f.ASN == "" {
		return false
	}
	org := strings.ToLower(f.Organization)
	asn := strings.ToLower(f.ASN)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(org, kw) || (asn != "" && asn == kw) {
			return true
		}
	}
	return false
}
