package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"

	"github.com/nikhilbhutani/safebrowse/internal/browsing"
	"github.com/nikhilbhutani/safebrowse/internal/notify"
	"github.com/nikhilbhutani/safebrowse/internal/safety"
)

const commandTimeout = 5 * time.Second

type Options struct {
	DevToolsURL   string
	NoticeBaseURL string
	HomeURL       string
	Guard         *browsing.Guard
	Scanner       *browsing.Scanner
	Recorder      browsing.Recorder
	Alerts        notify.Notifier
	Log           *slog.Logger
}

// Tab gates one Chrome tab. It implements browsing.Surface: denied
// navigations are failed in the interceptor and the tab is sent to the
// notice page, so the address bar never shows a denied URL.
type Tab struct {
	b          browser
	session    *browsing.Session
	guard      *browsing.Guard
	scanner    *browsing.Scanner
	noticeBase string
	mainFrame  page.FrameID
	log        *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	notices chan string
	wg      sync.WaitGroup
	closer  func() error
}

// Attach connects to the DevTools endpoint and starts intercepting.
func Attach(ctx context.Context, opts Options) (*Tab, error) {
	c, err := dial(ctx, opts.DevToolsURL)
	if err != nil {
		return nil, err
	}
	t := newTab(ctx, &cdpBrowser{client: c.client}, c.mainFrame, opts)
	t.closer = c.conn.Close

	rp, err := c.client.Fetch.RequestPaused(t.ctx)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("subscribe to paused requests: %w", err)
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer rp.Close()
		for {
			ev, err := rp.Recv()
			if err != nil {
				if t.ctx.Err() == nil {
					t.log.Warn("devtools event stream closed", "error", err)
				}
				return
			}
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				t.handle(ev)
			}()
		}
	}()

	t.log.Info("attached to browser tab", "devtools", opts.DevToolsURL)
	if opts.HomeURL != "" {
		navCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		if err := t.b.Navigate(navCtx, opts.HomeURL); err != nil {
			t.log.Warn("could not open home page", "url", opts.HomeURL, "error", err)
		}
	}
	return t, nil
}

func newTab(ctx context.Context, b browser, mainFrame page.FrameID, opts Options) *Tab {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	tctx, cancel := context.WithCancel(ctx)
	t := &Tab{
		b:          b,
		guard:      opts.Guard,
		scanner:    opts.Scanner,
		noticeBase: opts.NoticeBaseURL,
		mainFrame:  mainFrame,
		log:        log.With("component", "cdp"),
		ctx:        tctx,
		cancel:     cancel,
		notices:    make(chan string, 8),
	}
	t.session = browsing.NewSession(tctx, opts.Guard, opts.Scanner, t, opts.Recorder, opts.Alerts, log)

	t.wg.Add(1)
	go t.noticeLoop()
	return t
}

// Session exposes the tab's navigation session.
func (t *Tab) Session() *browsing.Session { return t.session }

// Close stops interception and detaches from the browser.
func (t *Tab) Close() error {
	t.cancel()
	var err error
	if t.closer != nil {
		err = t.closer()
	}
	t.session.Close()
	t.wg.Wait()
	return err
}

func (t *Tab) Block(url string) {
	t.log.Debug("navigation blocked", "url", url)
}

func (t *Tab) NavigateAllowed(string) {}

// ReplaceContent is a no-op: replaced documents are fulfilled in the
// interceptor from the scan result.
func (t *Tab) ReplaceContent([]byte, string) {}

func (t *Tab) ShowBlockedNotice(v safety.Verdict) {
	select {
	case t.notices <- browsing.NoticeURL(t.noticeBase, v.Reason):
	default:
		t.log.Warn("notice queue full, dropping notice", "reason", v.Reason)
	}
}

func (t *Tab) noticeLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case u := <-t.notices:
			ctx, cancel := context.WithTimeout(t.ctx, commandTimeout)
			if err := t.b.Navigate(ctx, u); err != nil {
				t.log.Warn("could not show notice page", "error", err)
			}
			cancel()
		}
	}
}

// handle resolves one paused Document request.
func (t *Tab) handle(ev *fetch.RequestPausedReply) {
	url := ev.Request.URL
	main := ev.FrameID == t.mainFrame || t.mainFrame == ""

	if ev.ResponseStatusCode == nil && ev.ResponseErrorReason == nil {
		t.handleRequest(ev, url, main)
		return
	}
	t.handleResponse(ev, url, main)
}

func (t *Tab) handleRequest(ev *fetch.RequestPausedReply, url string, main bool) {
	var allowed bool
	if main {
		select {
		case allowed = <-t.session.OnNavigationRequested(url):
		case <-t.ctx.Done():
			return
		}
	} else {
		allowed, _ = t.guard.ShouldNavigate(t.ctx, url)
	}

	ctx, cancel := context.WithTimeout(t.ctx, commandTimeout)
	defer cancel()
	if allowed {
		t.check("continue request", url, t.b.Continue(ctx, ev.RequestID))
		return
	}
	t.check("fail request", url, t.b.Fail(ctx, ev.RequestID, network.ErrorReasonBlockedByClient))
}

func (t *Tab) handleResponse(ev *fetch.RequestPausedReply, url string, main bool) {
	p := browsing.Page{URL: url, ContentType: header(ev.ResponseHeaders, "Content-Type")}
	status := http.StatusOK
	if ev.ResponseStatusCode != nil {
		status = *ev.ResponseStatusCode
	}

	switch {
	case ev.ResponseErrorReason != nil:
		p.Err = fmt.Errorf("network error %s", *ev.ResponseErrorReason)
	case isRedirect(status):
		// Redirect targets are paused again at the request stage.
		ctx, cancel := context.WithTimeout(t.ctx, commandTimeout)
		defer cancel()
		t.check("continue redirect", url, t.b.Continue(ctx, ev.RequestID))
		return
	default:
		ctx, cancel := context.WithTimeout(t.ctx, commandTimeout)
		body, err := t.b.ResponseBody(ctx, ev.RequestID)
		cancel()
		if err != nil {
			p.Err = err
		}
		p.Body = body
	}

	var res browsing.ScanResult
	if main {
		select {
		case pr := <-t.session.OnPageLoaded(p):
			if pr.Stale {
				ctx, cancel := context.WithTimeout(t.ctx, commandTimeout)
				defer cancel()
				t.check("abort stale response", url, t.b.Fail(ctx, ev.RequestID, network.ErrorReasonAborted))
				return
			}
			res = pr.ScanResult
		case <-t.ctx.Done():
			return
		}
	} else {
		res = t.scanner.Scan(t.ctx, p)
	}

	ctx, cancel := context.WithTimeout(t.ctx, commandTimeout)
	defer cancel()
	if res.Outcome == browsing.OutcomePass {
		t.check("continue response", url, t.b.Continue(ctx, ev.RequestID))
		return
	}
	if res.Outcome == browsing.OutcomeBlocked {
		status = http.StatusOK
	}
	headers := []fetch.HeaderEntry{
		{Name: "Content-Type", Value: res.ContentType},
		{Name: "Cache-Control", Value: "no-store"},
	}
	t.check("fulfill response", url, t.b.Fulfill(ctx, ev.RequestID, status, headers, res.Content))
}

func (t *Tab) check(op, url string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	t.log.Warn("devtools command failed", "op", op, "url", url, "error", err)
}

func header(headers []fetch.HeaderEntry, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
