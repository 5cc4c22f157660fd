// Package bot scores public form submissions for signs of automation.
package bot

import (
	"net/http"
	"regexp"
	"strings"
)

// Categories
const (
	CategoryHuman      = "human"
	CategorySuspicious = "suspicious"
	CategoryBot        = "bot"
)

// Signal weights
const (
	WeightHoneypot        = 60 // hidden form field filled in
	WeightKnownCrawler    = 40 // crawler or HTTP library UA
	WeightAutomationUA    = 35 // puppeteer, selenium
	WeightHeadlessBrowser = 25 // HeadlessChrome, Phantom
	WeightEmptyUA         = 20 // No User-Agent header
	WeightMissingHeaders  = 15 // No Accept-Language
	WeightLinks           = 15 // several URLs in free text
	WeightShortUA         = 10 // <50 chars, no browser indicator
)

// Threshold is the score above which a submission is treated as a bot.
const Threshold = 50

// HoneypotFields are hidden inputs real visitors leave empty.
var HoneypotFields = []string{"_gotcha", "_honeypot", "bot_field", "hp_website"}

var linkPattern = regexp.MustCompile(`(?i)https?://|www\.`)

// Signal represents a detected bot signal
type Signal struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
	Value  string `json:"value,omitempty"`
}

// Result contains the bot score and signals
type Result struct {
	Score    int      `json:"score"`
	Category string   `json:"category"`
	Signals  []Signal `json:"signals"`
	IsBot    bool     `json:"is_bot"`
}

// Submission is what the scorer sees of a form post.
type Submission struct {
	UserAgent string
	Header    http.Header
	// Fields holds the free-form fields of the post, keyed by normalized name.
	Fields map[string]string
}

// Score computes the bot score of a submission.
func Score(s Submission) *Result {
	result := &Result{Signals: make([]Signal, 0)}
	add := func(name string, weight int, value string) {
		result.Score += weight
		result.Signals = append(result.Signals, Signal{Name: name, Weight: weight, Value: value})
	}

	for _, f := range HoneypotFields {
		if strings.TrimSpace(s.Fields[f]) != "" {
			add("honeypot", WeightHoneypot, f)
			break
		}
	}

	ua := strings.ToLower(s.UserAgent)
	if ua == "" {
		add("empty_ua", WeightEmptyUA, "")
	} else {
		if name := CrawlerName(s.UserAgent); name != "" {
			add("known_crawler", WeightKnownCrawler, name)
		}

		for _, pattern := range []string{"puppeteer", "selenium", "webdriver", "playwright", "cypress"} {
			if strings.Contains(ua, pattern) {
				add("automation_ua", WeightAutomationUA, pattern)
				break
			}
		}

		if strings.Contains(ua, "headlesschrome") || strings.Contains(ua, "phantomjs") {
			add("headless_browser", WeightHeadlessBrowser, "")
		}

		if len(s.UserAgent) < 50 && !hasBrowserIndicator(ua) {
			add("short_ua", WeightShortUA, "")
		}
	}

	if s.Header != nil && s.Header.Get("Accept-Language") == "" {
		add("missing_accept_language", WeightMissingHeaders, "")
	}

	links := 0
	for _, v := range s.Fields {
		links += len(linkPattern.FindAllStringIndex(v, -1))
	}
	if links >= 3 {
		add("links", WeightLinks, "")
	}

	if result.Score > 100 {
		result.Score = 100
	}
	result.Category = ScoreToCategory(result.Score)
	result.IsBot = result.Score > Threshold

	return result
}

// ScoreToCategory converts a score to a category
func ScoreToCategory(score int) string {
	switch {
	case score <= 20:
		return CategoryHuman
	case score <= Threshold:
		return CategorySuspicious
	default:
		return CategoryBot
	}
}

// hasBrowserIndicator checks if UA contains browser indicators
func hasBrowserIndicator(ua string) bool {
	for _, indicator := range []string{"mozilla", "chrome", "safari", "firefox", "edge", "opera"} {
		if strings.Contains(ua, indicator) {
			return true
		}
	}
	return false
}
