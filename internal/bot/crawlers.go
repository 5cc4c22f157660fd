package bot

import (
	"regexp"
	"strings"
)

// Crawler is a known automated client. Crawlers never fill in forms, so a
// submission carrying one of these user agents is scored as a bot.
type Crawler struct {
	Name    string
	Pattern *regexp.Regexp
}

var crawlers = []Crawler{
	// Search engines
	{Name: "Googlebot", Pattern: regexp.MustCompile(`(?i)googlebot|google\s*web\s*preview|mediapartners-google|adsbot-google`)},
	{Name: "Bingbot", Pattern: regexp.MustCompile(`(?i)bingbot|msnbot|bingpreview`)},
	{Name: "Yahoo Slurp", Pattern: regexp.MustCompile(`(?i)slurp|yahoo`)},
	{Name: "DuckDuckBot", Pattern: regexp.MustCompile(`(?i)duckduckbot|duckduckgo`)},
	{Name: "Baiduspider", Pattern: regexp.MustCompile(`(?i)baiduspider|baidu`)},
	{Name: "Yandexbot", Pattern: regexp.MustCompile(`(?i)yandexbot|yandex`)},

	// Social media
	{Name: "Facebookbot", Pattern: regexp.MustCompile(`(?i)facebookexternalhit|facebot|facebook`)},
	{Name: "Twitterbot", Pattern: regexp.MustCompile(`(?i)twitterbot|twitter`)},
	{Name: "LinkedInBot", Pattern: regexp.MustCompile(`(?i)linkedinbot|linkedin`)},
	{Name: "Pinterest", Pattern: regexp.MustCompile(`(?i)pinterest`)},
	{Name: "WhatsApp", Pattern: regexp.MustCompile(`(?i)whatsapp`)},
	{Name: "Telegram", Pattern: regexp.MustCompile(`(?i)telegrambot`)},
	{Name: "Discord", Pattern: regexp.MustCompile(`(?i)discordbot`)},
	{Name: "Slack", Pattern: regexp.MustCompile(`(?i)slackbot|slack-imgproxy`)},

	// SEO tools (legitimate)
	{Name: "Ahrefs", Pattern: regexp.MustCompile(`(?i)ahrefsbot`)},
	{Name: "Semrush", Pattern: regexp.MustCompile(`(?i)semrushbot`)},
	{Name: "Moz", Pattern: regexp.MustCompile(`(?i)rogerbot|moz\.com`)},

	// Monitoring
	{Name: "Pingdom", Pattern: regexp.MustCompile(`(?i)pingdom`)},
	{Name: "UptimeRobot", Pattern: regexp.MustCompile(`(?i)uptimerobot`)},
	{Name: "StatusCake", Pattern: regexp.MustCompile(`(?i)statuscake`)},
	{Name: "GTmetrix", Pattern: regexp.MustCompile(`(?i)gtmetrix`)},

	// Feed readers
	{Name: "Feedly", Pattern: regexp.MustCompile(`(?i)feedly`)},
	{Name: "Feedbin", Pattern: regexp.MustCompile(`(?i)feedbin`)},

	// Other legitimate bots
	{Name: "Apple Bot", Pattern: regexp.MustCompile(`(?i)applebot`)},
	{Name: "Archive.org", Pattern: regexp.MustCompile(`(?i)archive\.org|ia_archiver`)},

	// HTTP libraries
	{Name: "curl", Pattern: regexp.MustCompile(`(?i)^curl/`)},
	{Name: "python-requests", Pattern: regexp.MustCompile(`(?i)python-requests|python-urllib|aiohttp`)},
	{Name: "Go http client", Pattern: regexp.MustCompile(`(?i)^go-http-client`)},
	{Name: "wget", Pattern: regexp.MustCompile(`(?i)^wget/`)},
}

// CrawlerName returns the name of the crawler matching userAgent, or "".
func CrawlerName(userAgent string) string {
	if userAgent == "" {
		return ""
	}

	ua := strings.ToLower(userAgent)

	for _, c := range crawlers {
		if c.Pattern.MatchString(ua) {
			return c.Name
		}
	}

	return ""
}
