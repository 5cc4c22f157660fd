package enrichment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnrichWithoutGeoIP(t *testing.T) {
	e := New(nil)
	r := e.Enrich("203.0.113.5",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
		"https://www.google.com/search?q=botz")

	assert.Empty(t, r.Country)
	assert.Empty(t, r.CallingCode)
	assert.Equal(t, "mobile", r.DeviceType)
	assert.Equal(t, "Safari", r.BrowserName)
	assert.Equal(t, "www.google.com", r.ReferrerDomain)
	assert.Equal(t, "search", r.ReferrerType)

	md := r.Metadata()
	assert.Equal(t, "mobile", md["device"])
	assert.NotContains(t, md, "country")
	assert.NoError(t, e.Close())
}

func TestClassifyReferrer(t *testing.T) {
	tests := []struct{ ref, want string }{
		{"https://l.facebook.com/l.php", "social"},
		{"https://example.com/?utm_source=newsletter", "campaign"},
		{"https://blog.example.org/post", "external"},
		{"https://duckduckgo.com/", "search"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyReferrer(tt.ref, extractDomain(tt.ref)), tt.ref)
	}
}

func TestParseUserAgentDesktopAndBot(t *testing.T) {
	ua := ParseUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Equal(t, "desktop", ua.DeviceType)
	assert.Equal(t, "Chrome", ua.BrowserName)
	assert.False(t, ua.IsBot)

	bot := ParseUserAgent("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	assert.True(t, bot.IsBot)
}

func TestCallingCode(t *testing.T) {
	assert.Equal(t, "57", CallingCode("CO"))
	assert.Equal(t, "1", CallingCode("US"))
	assert.Equal(t, "65", CallingCode("SG"))
	assert.Empty(t, CallingCode(""))
	assert.Empty(t, CallingCode("ZZ"))
}

func TestNilGeoIPIsSafe(t *testing.T) {
	var g *GeoIP
	assert.Nil(t, g.Lookup("1.1.1.1"))
	assert.NoError(t, g.Close())

	g, err := NewGeoIP("")
	assert.NoError(t, err)
	assert.Nil(t, g)
}
