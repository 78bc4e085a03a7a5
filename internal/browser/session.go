package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/pricewatch/price-scraper/internal/executor"
	"github.com/pricewatch/price-scraper/internal/runner"
)

// State is the lifecycle of a browser session.
type State int

const (
	StateFresh State = iota
	StateActive
	StateDegraded
	StateDead
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Options configures session creation. Defaults favour looking like a
// regular European desktop visitor.
type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgents     []string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless: true,
		Timeout:  30 * time.Second,
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		},
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "nl-NL",
		TimezoneID:     "Europe/Amsterdam",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "nl-NL,nl;q=0.9,en;q=0.8",
			"DNT":             "1",
		},
	}
}

// initScript hides the automation fingerprint and clears storage so every
// run starts from a blank visitor profile.
const initScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['nl-NL', 'nl', 'en-US', 'en'] });
Object.defineProperty(screen, 'colorDepth', { get: () => 24 });
window.addEventListener('load', () => {
	try {
		localStorage.clear();
		sessionStorage.clear();
	} catch (e) {}
});
`

// Session is one browser automation instance, exclusively owned by a single
// run from Acquire to Release.
type Session struct {
	id        string
	pw        *playwright.Playwright
	browser   playwright.Browser
	context   playwright.BrowserContext
	page      playwright.Page
	createdAt time.Time

	mu       sync.Mutex
	state    State
	failures int
}

func (s *Session) ID() string { return s.id }

func (s *Session) Page() executor.Page { return &pwPage{page: s.page} }

func (s *Session) Dead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateDead
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) close() {
	if s.context != nil {
		s.context.Close()
	}
	if s.browser != nil {
		s.browser.Close()
	}
	if s.pw != nil {
		s.pw.Stop()
	}
}

// Manager owns session lifecycle: creation with anti-detection defaults,
// consecutive-failure tracking, and unconditional teardown on release.
type Manager struct {
	opts *Options
	// consecutive failures at which a session transitions to Dead
	failureThreshold int
	logger           *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewManager(opts *Options, failureThreshold int, logger *slog.Logger) *Manager {
	if opts == nil {
		opts = DefaultOptions()
	}
	if failureThreshold < 1 {
		failureThreshold = 2
	}
	return &Manager{
		opts:             opts,
		failureThreshold: failureThreshold,
		logger:           logger.With("component", "session_manager"),
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Acquire creates a session with anti-detection defaults and returns it in
// Active state. Sessions are never pooled across domains; every Acquire
// launches a fresh browser with cleared storage.
func (m *Manager) Acquire(ctx context.Context) (runner.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	userAgent := m.pickUserAgent()

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-features=IsolateOrigins,site-per-process",
			"--disable-dev-shm-usage",
			"--disable-application-cache",
			"--disk-cache-size=0",
			"--no-sandbox",
			"--window-size=1920,1080",
			"--user-agent=" + userAgent,
		},
	}
	if m.opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: m.opts.ProxyServer}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(userAgent),
		JavaScriptEnabled: playwright.Bool(true),
		AcceptDownloads:   playwright.Bool(false),
		Locale:            playwright.String(m.opts.Locale),
		TimezoneId:        playwright.String(m.opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  m.opts.ViewportWidth,
			Height: m.opts.ViewportHeight,
		},
		ExtraHttpHeaders:  m.opts.ExtraHeaders,
		IgnoreHttpsErrors: playwright.Bool(true),
	}

	browserCtx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if err := browserCtx.AddInitScript(playwright.Script{Content: playwright.String(initScript)}); err != nil {
		browserCtx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to add init script: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(m.opts.Timeout.Milliseconds()))

	sess := &Session{
		id:        uuid.New().String(),
		pw:        pw,
		browser:   browser,
		context:   browserCtx,
		page:      page,
		createdAt: time.Now(),
		state:     StateActive,
	}

	m.logger.Info("session acquired", "id", sess.id, "user_agent", userAgent)
	return sess, nil
}

// Report feeds a session's consecutive-failure counter. A success resets
// it; reaching the threshold transitions the session to Dead, exactly at
// the threshold and never earlier.
func (m *Manager) Report(s runner.Session, failed bool) {
	sess, ok := s.(*Session)
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !failed {
		sess.failures = 0
		if sess.state == StateDegraded {
			sess.state = StateActive
		}
		return
	}

	sess.failures++
	switch {
	case sess.failures >= m.failureThreshold:
		sess.state = StateDead
		m.logger.Warn("session dead", "id", sess.id, "consecutive_failures", sess.failures)
	default:
		sess.state = StateDegraded
	}
}

// Release tears the session down unconditionally. Dead sessions are never
// reused, and neither are live ones: exclusivity ends with the run.
func (m *Manager) Release(s runner.Session) {
	sess, ok := s.(*Session)
	if !ok {
		return
	}

	sess.mu.Lock()
	sess.state = StateDead
	sess.mu.Unlock()

	sess.close()
	m.logger.Info("session released", "id", sess.id, "age", time.Since(sess.createdAt))
}

func (m *Manager) pickUserAgent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts.UserAgents[m.rng.Intn(len(m.opts.UserAgents))]
}
