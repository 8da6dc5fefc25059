package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/tweetscope/config"
	"github.com/use-agent/tweetscope/models"
	"github.com/ysmood/gson"
)

// mediaPatterns are blocked when BlockMedia is set; search results only
// need the GraphQL JSON, not avatars or video segments.
var mediaPatterns = []string{
	"*pbs.twimg.com/media/*",
	"*pbs.twimg.com/profile_images/*",
	"*video.twimg.com/*",
	"*.mp4*",
	"*.m3u8*",
	"*.woff2*",
}

// RodBrowser is the go-rod backed Browser. The Chromium process is started
// on the first OpenSession and reused until Reset or Close.
// It is safe for concurrent use.
type RodBrowser struct {
	mu       sync.Mutex
	cfg      config.BrowserConfig
	platform config.PlatformConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewRodBrowser returns a Browser that has not launched anything yet.
func NewRodBrowser(cfg config.BrowserConfig, platform config.PlatformConfig) *RodBrowser {
	return &RodBrowser{cfg: cfg, platform: platform}
}

// ensure launches and connects the browser once. A failed launch leaves
// no state behind so the next call tries again.
func (b *RodBrowser) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	l := launcher.New().
		Headless(b.cfg.Headless).
		NoSandbox(b.cfg.NoSandbox)

	if b.cfg.BrowserBin != "" {
		l = l.Bin(b.cfg.BrowserBin)
	}
	if b.cfg.Proxy != "" {
		l = l.Proxy(b.cfg.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("lang"), b.cfg.Locale)
	l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", b.cfg.ViewportWidth, b.cfg.ViewportHeight))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeLaunch, "failed to launch browser", err)
	}

	br := rod.New().ControlURL(controlURL)
	if err := br.Connect(); err != nil {
		l.Kill()
		return nil, models.NewScrapeError(models.ErrCodeLaunch, "failed to connect to browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL, "headless", b.cfg.Headless)

	b.launcher = l
	b.browser = br
	return br, nil
}

// OpenSession creates an incognito context with the session cookies set.
func (b *RodBrowser) OpenSession(ctx context.Context, token string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	br, err := b.ensure()
	if err != nil {
		return nil, err
	}

	inc, err := br.Incognito()
	if err != nil {
		// A browser that cannot open a context is as good as dead.
		_ = b.Reset()
		return nil, models.NewScrapeError(models.ErrCodeLaunch, "failed to open browser context", err)
	}

	if err := inc.SetCookies(b.sessionCookies(token)); err != nil {
		_ = inc.Close()
		return nil, models.NewScrapeError(models.ErrCodeLaunch, "failed to install session cookies", err)
	}

	profile := NewProfile(b.cfg)
	slog.Debug("session opened", "userAgent", profile.UserAgent, "timezone", profile.Timezone)
	return &rodSession{browser: inc, profile: profile, blockMedia: b.cfg.BlockMedia}, nil
}

func (b *RodBrowser) sessionCookies(token string) []*proto.NetworkCookieParam {
	domain := ".x.com"
	if u, err := url.Parse(b.platform.BaseURL); err == nil && u.Hostname() != "" {
		domain = "." + u.Hostname()
	}

	cookie := func(name, value string, httpOnly bool) *proto.NetworkCookieParam {
		return &proto.NetworkCookieParam{
			Name:     name,
			Value:    value,
			Domain:   domain,
			Path:     "/",
			Secure:   true,
			HTTPOnly: httpOnly,
			SameSite: proto.NetworkCookieSameSiteNone,
		}
	}

	cookies := []*proto.NetworkCookieParam{cookie("auth_token", token, true)}
	if b.platform.CSRFToken != "" {
		cookies = append(cookies, cookie("ct0", b.platform.CSRFToken, false))
	}
	return cookies
}

// Reset kills the browser process without talking to it, since a wedged
// process may never answer a polite close.
func (b *RodBrowser) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.launcher != nil {
		b.launcher.Kill()
		slog.Warn("browser process killed")
	}
	b.launcher = nil
	b.browser = nil
	return nil
}

// Close shuts the browser down. Call this on graceful shutdown to prevent
// zombie Chrome processes.
func (b *RodBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
	}
	b.launcher = nil
	b.browser = nil
	slog.Info("browser shutdown complete")
	return err
}

// rodSession is one incognito browser context.
type rodSession struct {
	browser    *rod.Browser
	profile    Profile
	blockMedia bool
}

// NewPage opens a tab and applies the fingerprint before any navigation,
// since stealth scripts only take effect for documents loaded afterwards.
func (s *rodSession) NewPage(ctx context.Context) (Page, error) {
	page, err := s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeLaunch, "failed to create page", err)
	}

	// ── 1. Stealth injection ─────────────────────────────────────────
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
	}
	langs, _ := json.Marshal([]string{s.profile.Locale, "en"})
	if _, err := page.EvalOnNewDocument(fmt.Sprintf(patchJS, langs)); err != nil {
		slog.Warn("navigator patch failed", "error", err)
	}

	// ── 2. Fingerprint ───────────────────────────────────────────────
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      s.profile.UserAgent,
		AcceptLanguage: s.profile.AcceptLanguage,
		Platform:       s.profile.Platform,
	}); err != nil {
		slog.Warn("user agent override failed", "error", err)
	}
	if s.profile.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: s.profile.Timezone}).Call(page); err != nil {
			slog.Warn("timezone override failed", "timezone", s.profile.Timezone, "error", err)
		}
	}
	if s.profile.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: s.profile.Locale}).Call(page); err != nil {
			slog.Debug("locale override failed", "locale", s.profile.Locale, "error", err)
		}
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.profile.Width,
		Height:            s.profile.Height,
		DeviceScaleFactor: s.profile.ScaleFactor,
		Mobile:            s.profile.Mobile,
	}); err != nil {
		slog.Warn("viewport override failed", "error", err)
	}

	// ── 3. Network: headers and media blocking ───────────────────────
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		_ = page.Close()
		return nil, models.NewScrapeError(models.ErrCodeLaunch, "failed to enable network domain", err)
	}
	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(map[string]string{"Accept-Language": s.profile.AcceptLanguage}),
	}.Call(page)
	if s.blockMedia {
		if err := (proto.NetworkSetBlockedURLs{Urls: mediaPatterns}).Call(page); err != nil {
			slog.Debug("media blocking unavailable", "error", err)
		}
	}

	return &rodPage{page: page, profile: s.profile}, nil
}

// Close disposes the incognito context and every page in it.
func (s *rodSession) Close() error {
	return s.browser.Close()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
