// Package scraper keeps a CDP session open to the poker table tab and pulls
// table state from it on demand.
package scraper

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/GriffinCanCode/tablewatch/internal/capability"
	"github.com/GriffinCanCode/tablewatch/internal/cdp"
	"github.com/GriffinCanCode/tablewatch/internal/chrome"
	"github.com/GriffinCanCode/tablewatch/internal/config"
	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
	"github.com/GriffinCanCode/tablewatch/internal/extract"
	"github.com/GriffinCanCode/tablewatch/internal/resilience"
	"github.com/GriffinCanCode/tablewatch/internal/trace"
)

// Options configures a Scraper.
type Options struct {
	Host           string
	Port           int
	TabFilter      string
	AutoLaunch     bool
	PokerURL       string
	ProfileDir     string
	Headless       bool
	MaxRetries     int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	IdleReconnect  time.Duration
	MaxFailures    int
}

// OptionsFromConfig copies the CDP section of cfg.
func OptionsFromConfig(cfg config.CDP) Options {
	return Options{
		Host:           cfg.Host,
		Port:           cfg.Port,
		TabFilter:      cfg.TabFilter,
		AutoLaunch:     cfg.AutoLaunch,
		PokerURL:       cfg.PokerURL,
		ProfileDir:     cfg.ProfileDir,
		Headless:       cfg.Headless,
		MaxRetries:     cfg.MaxRetries,
		ConnectTimeout: cfg.ConnectTimeout,
		CommandTimeout: cfg.CommandTimeout,
		IdleReconnect:  cfg.IdleReconnect,
		MaxFailures:    cfg.MaxFailures,
	}
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		o.Port = 9222
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = resilience.DefaultMaxAttempts
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = cdp.DefaultCommandTimeout
	}
	if o.IdleReconnect <= 0 {
		o.IdleReconnect = DefaultIdleReconnect
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = DefaultMaxFailures
	}
	return o
}

// BrowserProcess is a launched browser the scraper owns.
type BrowserProcess interface {
	PID() int
	Stop(ctx context.Context) error
}

// Launcher starts a browser and returns once probe succeeds against its
// debugging endpoint. It must not leave a process behind on error.
type Launcher func(ctx context.Context, opts chrome.Options, probe func(context.Context) error) (BrowserProcess, error)

func launchChrome(ctx context.Context, opts chrome.Options, probe func(context.Context) error) (BrowserProcess, error) {
	p, err := chrome.Launch(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := p.WaitReady(ctx, probe); err != nil {
		return nil, err
	}
	return p, nil
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithLauncher replaces the browser launcher.
func WithLauncher(l Launcher) Option { return func(s *Scraper) { s.launch = l } }

// WithClock replaces the time source used for idle and latency tracking.
func WithClock(now func() time.Time) Option { return func(s *Scraper) { s.now = now } }

// WithSleep replaces the wait between tab-discovery attempts.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Scraper) { s.retry.Sleep = fn }
}

// Scraper owns at most one CDP session and at most one launched browser.
// Public methods serialise on an internal mutex; Stats reads a snapshot
// guarded separately so it never waits on a reconnect.
type Scraper struct {
	opts    Options
	caps    capability.Set
	http    *cdp.Client
	launch  Launcher
	breaker *resilience.Breaker
	retry   resilience.Policy
	now     func() time.Time

	mu           sync.Mutex
	state        State
	filter       string
	conn         *cdp.Conn
	tab          cdp.Tab
	browser      BrowserProcess
	failures     int
	lastSuccess  time.Time
	lastActivity time.Time
	total        int64
	successful   int64
	reconnects   int64
	latencyTotal time.Duration

	statsMu  sync.RWMutex
	snap     ConnectionStats
	snapConn *cdp.Conn
}

// New builds a disconnected scraper. It fails with UNAVAILABLE_DEPENDENCY
// when the environment cannot reach a DevTools endpoint at all.
func New(opts Options, caps capability.Set, options ...Option) (*Scraper, error) {
	if !caps.CDPTransport {
		return nil, apperr.New(apperr.CodeUnavailableDependency, "no usable CDP transport").
			WithMetadata("host", opts.Host)
	}
	opts = opts.withDefaults()
	s := &Scraper{
		opts:    opts,
		caps:    caps,
		http:    cdp.NewClient(cdp.Endpoint(opts.Host, opts.Port), cdp.DefaultHTTPTimeout),
		launch:  launchChrome,
		breaker: resilience.NewBreaker("chrome-launch", resilience.LaunchBreakerConfig()),
		retry:   resilience.ConnectPolicy(opts.MaxRetries),
		now:     time.Now,
		filter:  opts.TabFilter,
	}
	for _, o := range options {
		o(s)
	}
	s.publishLocked()
	return s, nil
}

// Connect attaches to the first tab matching tabFilter (the configured
// filter when empty), launching a browser first if needed and allowed.
// Failures are logged and reported as false.
func (s *Scraper) Connect(ctx context.Context, tabFilter string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishLocked()
	if tabFilter != "" {
		s.filter = tabFilter
	}
	return s.connectLocked(ctx)
}

func (s *Scraper) connectLocked(ctx context.Context) bool {
	ctx, span := trace.StartSpan(ctx, "scraper.connect")
	defer span.End()
	log := trace.Logger(ctx)

	s.closeConnLocked()
	s.publishLocked()

	if err := s.ensureEndpoint(ctx); err != nil {
		s.state = StateDisconnected
		if apperr.IsCode(err, apperr.CodeUnavailableDependency) {
			log.Error("debugging endpoint unavailable", "error", err)
		} else {
			log.Warn("debugging endpoint unreachable", "endpoint", s.http.BaseURL(), "error", err)
		}
		return false
	}

	s.state = StateTabDiscovery
	s.publishLocked()
	openedTab := false
	err := resilience.Retry(ctx, s.retry, func(attempt int) error {
		tabs, err := s.http.Tabs(ctx)
		if err != nil {
			return err
		}
		tab, ok := cdp.SelectTab(tabs, s.filter)
		if !ok {
			if s.opts.AutoLaunch && s.opts.PokerURL != "" && !openedTab {
				openedTab = true
				if _, err := s.http.NewTab(ctx, s.opts.PokerURL); err != nil {
					log.Warn("failed to open poker tab", "url", s.opts.PokerURL, "error", err)
				} else {
					log.Info("opened poker tab", "url", s.opts.PokerURL)
				}
			}
			return apperr.Newf(apperr.CodeTabNotFound, "no tab matching %q", s.filter).
				WithMetadata("tabs", strconv.Itoa(len(tabs)))
		}
		return s.attach(ctx, tab)
	})
	if err != nil {
		s.state = StateDisconnected
		log.Warn("tab discovery failed", "filter", s.filter, "attempts", s.retry.MaxAttempts, "error", err)
		return false
	}

	span.SetAttr("tab", s.tab.Title)
	log.Info("connected to table tab", "title", s.tab.Title, "url", s.tab.URL)
	return true
}

// attach dials tab and enables the domains extraction needs.
func (s *Scraper) attach(ctx context.Context, tab cdp.Tab) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	conn, err := cdp.Dial(dialCtx, tab.WebSocketDebuggerURL, cdp.DialOptions{CommandTimeout: s.opts.CommandTimeout})
	if err != nil {
		return err
	}
	if err := conn.EnableDomains(ctx); err != nil {
		_ = conn.Close()
		return err
	}
	s.conn = conn
	s.tab = tab
	s.state = StateConnected
	s.failures = 0
	s.lastActivity = s.now()
	return nil
}

// ensureEndpoint makes sure something answers /json/version, launching a
// browser when allowed.
func (s *Scraper) ensureEndpoint(ctx context.Context) error {
	probe := func(ctx context.Context) error {
		_, err := s.http.Version(ctx)
		return err
	}
	err := probe(ctx)
	if err == nil {
		return nil
	}
	if !s.opts.AutoLaunch {
		return err
	}
	if s.caps.ChromeBinary == "" {
		return apperr.Wrap(err, apperr.CodeUnavailableDependency, "endpoint down and no chrome binary to launch")
	}

	s.stopBrowser(ctx)
	opts := chrome.Options{
		Binary:     s.caps.ChromeBinary,
		Port:       s.opts.Port,
		ProfileDir: s.opts.ProfileDir,
		Headless:   s.opts.Headless,
		StartURL:   s.opts.PokerURL,
		Ready:      resilience.ReadyPolicy(),
	}
	proc, err := resilience.ExecuteWithResult(s.breaker, func() (BrowserProcess, error) {
		return s.launch(ctx, opts, probe)
	})
	if err != nil {
		return err
	}
	s.browser = proc
	trace.Logger(ctx).Info("launched chrome", "pid", proc.PID(), "port", s.opts.Port)
	return nil
}

// ExtractTableData reads the table once. It reconnects first when the
// session is gone, idle for too long, or failing repeatedly. Any failure
// yields nil and bumps the failure counter.
func (s *Scraper) ExtractTableData(ctx context.Context) *extract.TableState {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishLocked()
	s.total++
	s.publishLocked()

	log := trace.Logger(ctx)
	if !s.ensureHealthyLocked(ctx) {
		s.failures++
		return nil
	}

	s.state = StateExtracting
	start := s.now()
	raw, err := s.conn.Evaluate(ctx, extract.Script)
	latency := s.now().Sub(start)
	s.state = StateConnected
	if err != nil {
		s.failures++
		log.Warn("table script failed", "error", err, "consecutive_failures", s.failures)
		return nil
	}
	s.lastActivity = s.now()

	state, err := extract.Parse(raw, latency)
	if err != nil {
		s.failures++
		log.Warn("rejected table payload", "error", err, "consecutive_failures", s.failures)
		return nil
	}

	s.failures = 0
	s.lastSuccess = s.lastActivity
	s.successful++
	s.latencyTotal += latency
	log.Debug("table extracted", "stage", state.Stage, "pot", state.PotSize, "latency", latency)
	return state
}

// CaptureScreenshot grabs the table tab as PNG, reconnecting when needed.
func (s *Scraper) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishLocked()
	if !s.ensureHealthyLocked(ctx) {
		return nil, apperr.New(apperr.CodeConnectionFailed, "no table session")
	}
	png, err := s.conn.CaptureScreenshot(ctx)
	if err != nil {
		s.failures++
		return nil, err
	}
	s.lastActivity = s.now()
	return png, nil
}

func (s *Scraper) ensureHealthyLocked(ctx context.Context) bool {
	reason := s.unhealthyReason()
	if reason == "" {
		return true
	}
	trace.Logger(ctx).Info("reconnecting", "reason", reason, "consecutive_failures", s.failures)
	s.reconnects++
	return s.connectLocked(ctx)
}

func (s *Scraper) unhealthyReason() string {
	switch {
	case s.conn == nil:
		return "not connected"
	case !s.conn.Alive():
		return "session closed"
	case s.now().Sub(s.lastActivity) > s.opts.IdleReconnect:
		return "idle"
	case s.failures >= s.opts.MaxFailures:
		return "too many failures"
	default:
		return ""
	}
}

// Disconnect closes the session and, when closeChrome is set, stops a
// browser this scraper launched. Repeated calls do nothing.
func (s *Scraper) Disconnect(ctx context.Context, closeChrome bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishLocked()
	s.closeConnLocked()
	if closeChrome {
		s.stopBrowser(ctx)
	}
	s.state = StateDisconnected
}

// Close disconnects and stops any launched browser.
func (s *Scraper) Close() error {
	s.Disconnect(context.Background(), true)
	return nil
}

func (s *Scraper) closeConnLocked() {
	if s.conn == nil {
		return
	}
	_ = s.conn.Close()
	slog.Debug("cdp session closed", "tab", s.tab.Title)
	s.conn = nil
	s.tab = cdp.Tab{}
}

func (s *Scraper) stopBrowser(ctx context.Context) {
	if s.browser == nil {
		return
	}
	pid := s.browser.PID()
	if err := s.browser.Stop(ctx); err != nil {
		slog.Warn("failed to stop chrome", "pid", pid, "error", err)
	}
	s.browser = nil
}

// publishLocked copies the session-guarded fields into the stats snapshot.
// Callers hold s.mu.
func (s *Scraper) publishLocked() {
	st := ConnectionStats{
		State:                 s.state.String(),
		Endpoint:              s.http.BaseURL(),
		TabTitle:              s.tab.Title,
		TabURL:                s.tab.URL,
		WebSocketURL:          s.tab.WebSocketDebuggerURL,
		ConsecutiveFailures:   s.failures,
		LastSuccess:           s.lastSuccess,
		TotalExtractions:      s.total,
		SuccessfulExtractions: s.successful,
		Reconnects:            s.reconnects,
	}
	if s.successful > 0 {
		st.AvgLatency = s.latencyTotal / time.Duration(s.successful)
	}
	if s.browser != nil {
		st.BrowserPID = s.browser.PID()
	}

	s.statsMu.Lock()
	s.snap = st
	s.snapConn = s.conn
	s.statsMu.Unlock()
}

// Stats snapshots connection health. It does not block on an in-flight
// connect or extraction.
func (s *Scraper) Stats() ConnectionStats {
	s.statsMu.RLock()
	st, conn := s.snap, s.snapConn
	s.statsMu.RUnlock()

	st.LauncherState = s.breaker.State().String()
	if conn != nil {
		st.Connected = conn.Alive()
		st.DroppedEvents = conn.DroppedEvents()
	}
	return st
}
