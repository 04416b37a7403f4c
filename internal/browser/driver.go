package browser

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"

	"github.com/JustinTDCT/ListVault/internal/log"
	"github.com/JustinTDCT/ListVault/internal/models"
	"github.com/JustinTDCT/ListVault/internal/store"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultNavTimeout bounds a single page navigation plus scroll loop.
	DefaultNavTimeout = 45 * time.Second
)

// Driver owns one shared headless Chromium process. Each scrape borrows an
// isolated incognito page via AcquirePage so concurrent scrapes never share
// cookies or storage.
type Driver struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	sessions *store.SessionStore
	logger   zerolog.Logger
}

// NewDriver launches the browser. chromePath may be empty, in which case rod
// resolves or downloads a managed Chromium.
func NewDriver(chromePath string, sessions *store.SessionStore) (*Driver, error) {
	l := launcher.New().
		Headless(true).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-extensions").
		Set("disable-blink-features", "AutomationControlled")
	if chromePath != "" {
		l = l.Bin(chromePath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.E(models.ErrBrowserLaunch, "browser launch failed", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, models.E(models.ErrBrowserLaunch, "browser connect failed", err)
	}

	return &Driver{
		browser:  b,
		launcher: l,
		sessions: sessions,
		logger:   log.WithComponent("browser"),
	}, nil
}

// AcquirePage creates a fresh incognito page bound to ctx, with the stealth
// baseline and fingerprint jitter installed before any navigation, the saved
// session for identity restored, and a desktop profile applied.
func (d *Driver) AcquirePage(ctx context.Context, identity string) (*rod.Page, error) {
	incognito, err := d.browser.Incognito()
	if err != nil {
		return nil, models.E(models.ErrBrowserLaunch, "incognito context", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.E(models.ErrBrowserLaunch, "page create", err)
	}
	p := page.Context(ctx)

	// Stealth and fingerprint scripts only take effect for navigations that
	// happen after they are installed.
	if _, err := p.EvalOnNewDocument(stealth.JS); err != nil {
		d.logger.Warn().Err(err).Msg("stealth injection failed, continuing without")
	}
	if _, err := p.EvalOnNewDocument(fingerprintJS()); err != nil {
		d.logger.Warn().Err(err).Msg("fingerprint jitter injection failed")
	}

	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: "en-US,en;q=0.9",
	}); err != nil {
		d.logger.Warn().Err(err).Msg("user agent override failed")
	}
	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1,
	}); err != nil {
		d.logger.Warn().Err(err).Msg("viewport override failed")
	}
	if _, err := p.SetExtraHeaders([]string{
		"Accept-Language", "en-US,en;q=0.9",
		"Accept-Encoding", "gzip, deflate, br",
		"DNT", "1",
		"Upgrade-Insecure-Requests", "1",
	}); err != nil {
		d.logger.Warn().Err(err).Msg("extra headers failed")
	}

	d.restoreSession(p, identity)
	return p, nil
}

// ReleasePage closes the page, first persisting its cookies when commit is
// set. Commit only after a successful navigation; a blocked or errored page
// may carry poisoned cookies.
func (d *Driver) ReleasePage(page *rod.Page, identity string, commit bool) {
	if commit {
		d.saveSession(page, identity)
	}
	if err := page.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("page close failed")
	}
}

func (d *Driver) restoreSession(page *rod.Page, identity string) {
	state := d.sessions.Load(identity)
	if state == nil || len(state.Cookies) == 0 {
		return
	}
	var cookies []*proto.NetworkCookieParam
	if err := json.Unmarshal(state.Cookies, &cookies); err != nil {
		d.logger.Warn().Err(err).Str("identity", identity).Msg("saved cookies undecodable")
		return
	}
	if err := page.SetCookies(cookies); err != nil {
		d.logger.Warn().Err(err).Str("identity", identity).Msg("cookie restore failed")
	}
}

func (d *Driver) saveSession(page *rod.Page, identity string) {
	cookies, err := page.Cookies(nil)
	if err != nil {
		d.logger.Warn().Err(err).Str("identity", identity).Msg("cookie read failed")
		return
	}
	raw, err := json.Marshal(cookies)
	if err != nil {
		return
	}
	d.sessions.Save(identity, &store.SessionState{Cookies: raw})
}

// Close tears down the browser process. Safe to call once at shutdown.
func (d *Driver) Close() {
	if err := d.browser.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("browser close failed")
	}
	d.launcher.Cleanup()
}
