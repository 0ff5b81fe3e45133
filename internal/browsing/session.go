package browsing

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/nikhilbhutani/safebrowse/internal/activity"
	"github.com/nikhilbhutani/safebrowse/internal/notify"
	"github.com/nikhilbhutani/safebrowse/internal/safety"
	"github.com/nikhilbhutani/safebrowse/pkg/urlnorm"
)

// Surface is the rendering side. Session calls it from its own goroutines
// while holding its lock, so implementations must hand the call over to
// their UI thread and must not call back into the Session synchronously.
type Surface interface {
	Block(url string)
	NavigateAllowed(url string)
	ReplaceContent(content []byte, contentType string)
	ShowBlockedNotice(v safety.Verdict)
}

// NopSurface is used by renderers that apply results themselves.
type NopSurface struct{}

func (NopSurface) Block(string)                     {}
func (NopSurface) NavigateAllowed(string)           {}
func (NopSurface) ReplaceContent([]byte, string)    {}
func (NopSurface) ShowBlockedNotice(safety.Verdict) {}

// Recorder stores activity entries.
type Recorder interface {
	Record(ctx context.Context, e activity.Entry) error
}

// PageResult is delivered once per OnPageLoaded. Stale results belong to a
// navigation that was superseded and were not applied to the surface.
type PageResult struct {
	ScanResult
	Generation uint64
	Stale      bool
}

type navigation struct {
	gen     uint64
	url     string
	ctx     context.Context
	decided chan struct{}
	allowed bool
	verdict safety.Verdict
}

// Session drives one tab. Each navigation gets a new generation; work for
// older generations is cancelled and its results are dropped.
type Session struct {
	guard    *Guard
	scanner  *Scanner
	surface  Surface
	recorder Recorder
	alerts   notify.Notifier
	log      *slog.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	gen     uint64
	current *navigation
	cancel  context.CancelFunc
}

// NewSession creates a session bound to ctx. recorder and alerts may be nil.
func NewSession(ctx context.Context, guard *Guard, scanner *Scanner, surface Surface, recorder Recorder, alerts notify.Notifier, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if alerts == nil {
		alerts = notify.Nop{}
	}
	base, stop := context.WithCancel(ctx)
	return &Session{
		guard:    guard,
		scanner:  scanner,
		surface:  surface,
		recorder: recorder,
		alerts:   alerts,
		log:      log.With("component", "session"),
		base:     base,
		stop:     stop,
	}
}

// Generation returns the token of the latest navigation.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Close cancels outstanding work and waits for it to finish.
func (s *Session) Close() {
	s.stop()
	s.wg.Wait()
}

// OnNavigationRequested starts gating url and returns immediately. The
// channel yields whether the surface may load url. A navigation that is
// superseded before its verdict resolves yields false.
func (s *Session) OnNavigationRequested(url string) <-chan bool {
	nav := s.begin(url)
	out := make(chan bool, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		out <- s.decide(nav, true)
	}()
	return out
}

// Navigate gates url synchronously and reports the verdict. It starts a new
// generation like OnNavigationRequested.
func (s *Session) Navigate(url string) (bool, safety.Verdict) {
	nav := s.begin(url)
	allowed := s.decide(nav, true)
	return allowed, nav.verdict
}

// OnPageLoaded scans a loaded page once its navigation verdict is known and
// applies the outcome if no newer navigation has started.
func (s *Session) OnPageLoaded(p Page) <-chan PageResult {
	s.mu.Lock()
	nav := s.current
	s.mu.Unlock()

	// A page that arrives without a navigation event for its own URL is
	// gated first.
	implicit := nav == nil || !sameTarget(nav.url, p.URL)
	if implicit {
		nav = s.begin(p.URL)
	}

	out := make(chan PageResult, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		if implicit {
			s.decide(nav, false)
		}
		out <- s.scan(nav, p)
	}()
	return out
}

// sameTarget compares two addresses in canonical form. Fragments are
// ignored.
func sameTarget(a, b string) bool {
	ta, errA := urlnorm.Parse(urlnorm.NormalizeInput(a))
	tb, errB := urlnorm.Parse(urlnorm.NormalizeInput(b))
	if errA != nil || errB != nil {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	return ta.String() == tb.String()
}

func (s *Session) begin(url string) *navigation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(s.base)
	s.gen++
	s.cancel = cancel
	s.current = &navigation{gen: s.gen, url: url, ctx: ctx, decided: make(chan struct{})}
	return s.current
}

// decide runs the guard for nav. With notifySurface set the surface is
// told the outcome.
func (s *Session) decide(nav *navigation, notifySurface bool) bool {
	allowed, v := s.guard.ShouldNavigate(nav.ctx, nav.url)
	nav.allowed, nav.verdict = allowed, v
	close(nav.decided)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nav {
		s.log.Debug("navigation verdict discarded", "url", nav.url, "generation", nav.gen)
		return false
	}
	if allowed {
		if notifySurface {
			s.surface.NavigateAllowed(nav.url)
		}
		return true
	}
	if notifySurface {
		s.surface.Block(nav.url)
		s.surface.ShowBlockedNotice(v)
	}
	s.record(nav.url, "", v.Summary())
	s.alert(notify.KindNavigationDenied, nav.url, "", v)
	return false
}

func (s *Session) scan(nav *navigation, p Page) PageResult {
	select {
	case <-nav.decided:
	case <-nav.ctx.Done():
		return PageResult{Generation: nav.gen, Stale: true, ScanResult: ScanResult{Outcome: OutcomeBlocked}}
	}

	var res ScanResult
	switch {
	case !nav.allowed:
		// The surface loaded a page the guard denied.
		res = s.scanner.blocked(p.Title, nav.verdict)
	case s.guard.IsInternal(p.URL):
		res = ScanResult{Outcome: OutcomePass, Title: p.Title, Verdict: safety.Allow()}
	default:
		res = s.scanner.Scan(nav.ctx, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nav {
		s.log.Debug("stale scan result discarded", "url", p.URL, "generation", nav.gen, "outcome", res.Outcome)
		return PageResult{ScanResult: res, Generation: nav.gen, Stale: true}
	}

	switch res.Outcome {
	case OutcomeCensored:
		s.surface.ReplaceContent(res.Content, res.ContentType)
	case OutcomeBlocked:
		s.surface.ReplaceContent(res.Content, res.ContentType)
		s.surface.ShowBlockedNotice(res.Verdict)
		if nav.allowed {
			s.alert(notify.KindPageBlocked, p.URL, res.Title, res.Verdict)
		}
	}
	if !s.guard.IsInternal(p.URL) && nav.allowed {
		s.record(p.URL, res.Title, string(res.Outcome)+" "+res.Verdict.Summary())
	}
	return PageResult{ScanResult: res, Generation: nav.gen}
}

func (s *Session) record(url, title, summary string) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(s.base, activity.Entry{URL: url, Title: title, Verdict: summary}); err != nil {
		s.log.Warn("activity not recorded", "url", url, "error", err)
	}
}

func (s *Session) alert(kind, url, title string, v safety.Verdict) {
	err := s.alerts.Notify(s.base, notify.Alert{
		Kind:     kind,
		URL:      url,
		Title:    title,
		Reason:   string(v.Reason),
		Category: v.Category,
	})
	if err != nil {
		s.log.Warn("parent alert not sent", "url", url, "error", err)
	}
}
