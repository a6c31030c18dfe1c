package ratelimit

import (
	"sort"
	"strings"
	"time"
)

// Anomaly indicator vocabulary. Audit consumers rely on this being closed:
// new heuristics add a constant here, never free-form strings.
const (
	IndicatorSustainedVolume = "sustained_volume"
	IndicatorRapidRequests   = "rapid_requests"
	IndicatorShortUserAgent  = "short_user_agent"
	IndicatorHeadlessBrowser = "headless_browser"
	IndicatorAutomationTool  = "automation_tool"
	IndicatorSensitivePath   = "sensitive_path"
	IndicatorUnauthenticated = "unauthenticated_burst"
)

// rapidRequestThreshold marks successive accesses as automated when they
// arrive closer together than a human plausibly clicks.
const rapidRequestThreshold = 100 * time.Millisecond

// Signal is the per-request evidence fed to the scoring rules.
type Signal struct {
	UserAgent     string
	Path          string
	Authenticated bool
	Count         int
	MaxRequests   int
	SinceLast     time.Duration // zero when the store cannot track it
}

// rule is one independently testable heuristic: a pure predicate worth a
// fixed number of points.
type rule struct {
	indicator string
	points    int
	applies   func(Signal) bool
}

var automationMarkers = []string{
	"curl", "wget", "python-requests", "go-http-client", "scrapy", "bot", "spider", "crawler",
}

var headlessMarkers = []string{
	"headlesschrome", "phantomjs", "puppeteer", "playwright", "selenium",
}

var sensitivePrefixes = []string{
	"/v1/admin", "/v1/tenants",
}

var rules = []rule{
	{IndicatorSustainedVolume, 25, func(s Signal) bool {
		return s.MaxRequests > 0 && s.Count > 2*s.MaxRequests
	}},
	{IndicatorRapidRequests, 20, func(s Signal) bool {
		return s.SinceLast > 0 && s.SinceLast < rapidRequestThreshold
	}},
	{IndicatorHeadlessBrowser, 25, func(s Signal) bool {
		return containsAny(strings.ToLower(s.UserAgent), headlessMarkers)
	}},
	{IndicatorAutomationTool, 20, func(s Signal) bool {
		return containsAny(strings.ToLower(s.UserAgent), automationMarkers)
	}},
	{IndicatorShortUserAgent, 15, func(s Signal) bool {
		return len(strings.TrimSpace(s.UserAgent)) < 12
	}},
	{IndicatorSensitivePath, 15, func(s Signal) bool {
		for _, prefix := range sensitivePrefixes {
			if strings.HasPrefix(s.Path, prefix) {
				return true
			}
		}
		return strings.Contains(s.Path, "/roles")
	}},
	{IndicatorUnauthenticated, 10, func(s Signal) bool {
		return !s.Authenticated
	}},
}

// Score evaluates every rule, sums the points of those that fire and clamps
// the total to [0,100]. The returned indicators are sorted for stable audit
// records.
func Score(sig Signal) (int, []string) {
	total := 0
	var indicators []string
	for _, r := range rules {
		if r.applies(sig) {
			total += r.points
			indicators = append(indicators, r.indicator)
		}
	}
	if total > 100 {
		total = 100
	}
	sort.Strings(indicators)
	return total, indicators
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
