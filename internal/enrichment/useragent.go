package enrichment

import (
	"strings"

	"github.com/mssola/useragent"
)

// UAResult contains parsed user-agent data
type UAResult struct {
	BrowserName string
	OSName      string
	DeviceType  string
	IsBot       bool
}

// ParseUserAgent parses a user-agent string
func ParseUserAgent(uaString string) *UAResult {
	ua := useragent.New(uaString)
	browserName, _ := ua.Browser()

	result := &UAResult{
		BrowserName: browserName,
		OSName:      ua.OS(),
		IsBot:       ua.Bot(),
	}

	switch {
	case ua.Mobile():
		result.DeviceType = "mobile"
	case isTablet(uaString):
		result.DeviceType = "tablet"
	default:
		result.DeviceType = "desktop"
	}

	return result
}

func isTablet(ua string) bool {
	if strings.Contains(ua, "Mobile") {
		return false
	}
	for _, t := range []string{"iPad", "Android", "Tablet", "PlayBook", "Silk"} {
		if strings.Contains(ua, t) {
			return true
		}
	}
	return false
}
