package ratelimit

import (
	"testing"
	"time"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/128.0"

func baseline() Signal {
	return Signal{
		UserAgent:     browserUA,
		Path:          "/v1/projects",
		Authenticated: true,
		Count:         101,
		MaxRequests:   100,
		SinceLast:     2 * time.Second,
	}
}

func TestScoreBaselineIsZero(t *testing.T) {
	score, indicators := Score(baseline())
	if score != 0 {
		t.Fatalf("score = %d, want 0", score)
	}
	if len(indicators) != 0 {
		t.Fatalf("indicators = %v, want none", indicators)
	}
}

func TestScoreSingleRules(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*Signal)
		indicator string
		points    int
	}{
		{"sustained volume", func(s *Signal) { s.Count = 201 }, IndicatorSustainedVolume, 25},
		{"rapid requests", func(s *Signal) { s.SinceLast = 50 * time.Millisecond }, IndicatorRapidRequests, 20},
		{"headless browser", func(s *Signal) { s.UserAgent = "Mozilla/5.0 HeadlessChrome/120.0" }, IndicatorHeadlessBrowser, 25},
		{"automation tool", func(s *Signal) { s.UserAgent = "python-requests/2.31.0" }, IndicatorAutomationTool, 20},
		{"short user agent", func(s *Signal) { s.UserAgent = "Mozilla/5.0" }, IndicatorShortUserAgent, 15},
		{"sensitive path", func(s *Signal) { s.Path = "/v1/admin/settings" }, IndicatorSensitivePath, 15},
		{"roles path", func(s *Signal) { s.Path = "/v1/users/u1/roles" }, IndicatorSensitivePath, 15},
		{"unauthenticated", func(s *Signal) { s.Authenticated = false }, IndicatorUnauthenticated, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := baseline()
			tc.mutate(&sig)
			score, indicators := Score(sig)
			if score != tc.points {
				t.Fatalf("score = %d, want %d", score, tc.points)
			}
			if len(indicators) != 1 || indicators[0] != tc.indicator {
				t.Fatalf("indicators = %v, want [%s]", indicators, tc.indicator)
			}
		})
	}
}

func TestScoreClampedAtHundred(t *testing.T) {
	sig := Signal{
		UserAgent:     "curl", // automation marker and shorter than any browser
		Path:          "/v1/admin/settings",
		Authenticated: false,
		Count:         500,
		MaxRequests:   100,
		SinceLast:     10 * time.Millisecond,
	}
	score, indicators := Score(sig)
	if score != 100 {
		t.Fatalf("score = %d, want clamped 100", score)
	}
	if len(indicators) < 5 {
		t.Fatalf("indicators = %v, want at least 5", indicators)
	}
}

func TestScoreIndicatorsSorted(t *testing.T) {
	sig := baseline()
	sig.UserAgent = "curl"
	sig.Authenticated = false
	_, indicators := Score(sig)
	for i := 1; i < len(indicators); i++ {
		if indicators[i-1] > indicators[i] {
			t.Fatalf("indicators not sorted: %v", indicators)
		}
	}
}

func TestScoreZeroSinceLastDoesNotFire(t *testing.T) {
	sig := baseline()
	sig.SinceLast = 0 // stores that cannot track last access report zero
	score, _ := Score(sig)
	if score != 0 {
		t.Fatalf("score = %d, want 0", score)
	}
}
