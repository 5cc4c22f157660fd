// Package enrichment derives location, device and attribution hints from
// the HTTP request that submitted a lead.
package enrichment

import (
	"net/url"
	"strings"
	"sync"
)

// Enricher provides request enrichment
type Enricher struct {
	mu    sync.RWMutex
	geoIP *GeoIP
}

// New creates an Enricher. A nil GeoIP disables location lookups.
func New(geoIP *GeoIP) *Enricher {
	return &Enricher{geoIP: geoIP}
}

// Close releases the GeoIP database.
func (e *Enricher) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.geoIP.Close()
}

// ReloadGeoIP swaps in the database at path and closes the previous one.
func (e *Enricher) ReloadGeoIP(path string) error {
	next, err := NewGeoIP(path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	prev := e.geoIP
	e.geoIP = next
	e.mu.Unlock()
	return prev.Close()
}

// HasGeoIP reports whether a location database is loaded.
func (e *Enricher) HasGeoIP() bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.geoIP != nil
}

// Result contains enriched data
type Result struct {
	Country     string `json:"country,omitempty"`
	City        string `json:"city,omitempty"`
	Region      string `json:"region,omitempty"`
	CallingCode string `json:"-"`

	BrowserName string `json:"browser,omitempty"`
	OSName      string `json:"os,omitempty"`
	DeviceType  string `json:"device,omitempty"`
	IsBot       bool   `json:"is_bot,omitempty"`

	ReferrerDomain string `json:"referrer_domain,omitempty"`
	ReferrerType   string `json:"referrer_type,omitempty"`
}

// Enrich resolves ip, userAgent and referrer. Empty inputs are skipped.
func (e *Enricher) Enrich(ip, userAgent, referrer string) *Result {
	result := &Result{}

	if e != nil && ip != "" {
		e.mu.RLock()
		geo := e.geoIP.Lookup(ip)
		e.mu.RUnlock()
		if geo != nil {
			result.Country = geo.Country
			result.City = geo.City
			result.Region = geo.Region
			result.CallingCode = CallingCode(geo.Country)
		}
	}

	if userAgent != "" {
		ua := ParseUserAgent(userAgent)
		result.BrowserName = ua.BrowserName
		result.OSName = ua.OSName
		result.DeviceType = ua.DeviceType
		result.IsBot = ua.IsBot
	}

	if referrer != "" {
		result.ReferrerDomain = extractDomain(referrer)
		result.ReferrerType = classifyReferrer(referrer, result.ReferrerDomain)
	}

	return result
}

// Metadata flattens the result for storage on a lead.
func (r *Result) Metadata() map[string]string {
	out := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("country", r.Country)
	set("city", r.City)
	set("region", r.Region)
	set("browser", r.BrowserName)
	set("os", r.OSName)
	set("device", r.DeviceType)
	set("referrer_domain", r.ReferrerDomain)
	set("referrer_type", r.ReferrerType)
	if r.IsBot {
		out["is_bot"] = "true"
	}
	return out
}

func extractDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

func classifyReferrer(referrerURL, referrerDomain string) string {
	domain := strings.ToLower(referrerDomain)

	parsed, err := url.Parse(referrerURL)
	if err == nil && parsed.Query().Get("utm_source") != "" {
		return "campaign"
	}

	for _, se := range []string{"google.", "bing.", "yahoo.", "duckduckgo.", "baidu.", "yandex.", "ecosia."} {
		if strings.Contains(domain, se) {
			return "search"
		}
	}

	for _, sn := range []string{
		"facebook.", "fb.", "instagram.", "twitter.", "t.co", "x.com", "linkedin.",
		"youtube.", "tiktok.", "whatsapp.", "wa.me", "telegram.",
	} {
		if strings.Contains(domain, sn) {
			return "social"
		}
	}

	return "external"
}
