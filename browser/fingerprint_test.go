package browser

import (
	"strings"
	"testing"

	"github.com/use-agent/tweetscope/config"
)

func TestNewProfile_FromConfig(t *testing.T) {
	cfg := config.BrowserConfig{
		Locale:         "de-DE",
		Timezone:       "Europe/Berlin",
		ViewportWidth:  1440,
		ViewportHeight: 960,
	}

	p := NewProfile(cfg)

	if p.Locale != "de-DE" || p.Timezone != "Europe/Berlin" {
		t.Errorf("locale/timezone = %q/%q", p.Locale, p.Timezone)
	}
	if p.AcceptLanguage != "de-DE,de;q=0.9" {
		t.Errorf("AcceptLanguage = %q", p.AcceptLanguage)
	}
	if p.Width != 1440 || p.Height != 960 {
		t.Errorf("viewport = %dx%d", p.Width, p.Height)
	}
	if p.Mobile {
		t.Error("profile should be a desktop profile")
	}

	known := false
	for _, a := range desktopAgents {
		if a.ua == p.UserAgent && a.platform == p.Platform {
			known = true
		}
	}
	if !known {
		t.Errorf("agent %q/%q is not from the desktop list", p.UserAgent, p.Platform)
	}
}

func TestNewProfile_PinnedAgentAndFallbackViewport(t *testing.T) {
	p := NewProfile(config.BrowserConfig{UserAgent: "custom-agent"})

	if p.UserAgent != "custom-agent" {
		t.Errorf("UserAgent = %q, want pinned value", p.UserAgent)
	}
	if p.Width != 1366 || p.Height != 900 {
		t.Errorf("viewport = %dx%d, want 1366x900", p.Width, p.Height)
	}
}

func TestAcceptLanguage(t *testing.T) {
	tests := []struct {
		locale string
		want   string
	}{
		{"", "en-US,en;q=0.9"},
		{"en-US", "en-US,en;q=0.9"},
		{"fr", "fr;q=0.9"},
		{"pt-BR", "pt-BR,pt;q=0.9"},
	}
	for _, tt := range tests {
		if got := acceptLanguage(tt.locale); got != tt.want {
			t.Errorf("acceptLanguage(%q) = %q, want %q", tt.locale, got, tt.want)
		}
	}
}

func TestSessionCookies(t *testing.T) {
	b := NewRodBrowser(config.BrowserConfig{}, config.PlatformConfig{
		BaseURL:   "https://twitter.com",
		CSRFToken: "csrf",
	})

	cookies := b.sessionCookies("tok")
	if len(cookies) != 2 {
		t.Fatalf("expected auth_token and ct0 cookies, got %d", len(cookies))
	}
	if cookies[0].Name != "auth_token" || cookies[0].Value != "tok" || !cookies[0].HTTPOnly {
		t.Errorf("auth cookie = %+v", cookies[0])
	}
	for _, c := range cookies {
		if c.Domain != ".twitter.com" || !strings.HasPrefix(c.Path, "/") || !c.Secure {
			t.Errorf("cookie %s scoped wrong: domain=%q path=%q", c.Name, c.Domain, c.Path)
		}
	}

	noCSRF := NewRodBrowser(config.BrowserConfig{}, config.PlatformConfig{BaseURL: "https://x.com"})
	if got := noCSRF.sessionCookies("tok"); len(got) != 1 || got[0].Domain != ".x.com" {
		t.Errorf("expected a single .x.com cookie, got %+v", got)
	}
}
