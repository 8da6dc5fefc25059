package browser

import (
	"math/rand/v2"

	"github.com/use-agent/tweetscope/config"
)

// Profile is the fingerprint applied to every page of a session.
type Profile struct {
	UserAgent      string
	Platform       string
	AcceptLanguage string
	Locale         string
	Timezone       string
	Width          int
	Height         int
	ScaleFactor    float64
	Mobile         bool
}

// desktopAgents are recent stable desktop Chrome builds paired with the
// navigator.platform value they report.
var desktopAgents = []struct {
	ua       string
	platform string
}{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36", "Linux x86_64"},
}

// NewProfile builds a session fingerprint from config, picking a random
// desktop agent unless one is pinned.
func NewProfile(cfg config.BrowserConfig) Profile {
	pick := desktopAgents[rand.IntN(len(desktopAgents))]
	p := Profile{
		UserAgent:      pick.ua,
		Platform:       pick.platform,
		Locale:         cfg.Locale,
		AcceptLanguage: acceptLanguage(cfg.Locale),
		Timezone:       cfg.Timezone,
		Width:          cfg.ViewportWidth,
		Height:         cfg.ViewportHeight,
		ScaleFactor:    1,
	}
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if p.Width <= 0 {
		p.Width = 1366
	}
	if p.Height <= 0 {
		p.Height = 900
	}
	return p
}

func acceptLanguage(locale string) string {
	if locale == "" {
		return "en-US,en;q=0.9"
	}
	for i := 0; i < len(locale); i++ {
		if locale[i] == '-' {
			return locale + "," + locale[:i] + ";q=0.9"
		}
	}
	return locale + ";q=0.9"
}

// patchJS hides automation signals stealth.JS leaves for the session
// profile to decide: languages and a plausible plugin list.
const patchJS = `(() => {
	const langs = %s;
	Object.defineProperty(navigator, 'languages', {get: () => langs});
	Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
	const fakePlugins = [
		{name: 'PDF Viewer', filename: 'internal-pdf-viewer'},
		{name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer'},
		{name: 'Chromium PDF Viewer', filename: 'internal-pdf-viewer'},
	];
	Object.defineProperty(navigator, 'plugins', {get: () => fakePlugins});
	window.chrome = window.chrome || {runtime: {}};
})()`
