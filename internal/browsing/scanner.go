package browsing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nikhilbhutani/safebrowse/internal/safety"
	"github.com/nikhilbhutani/safebrowse/pkg/textextract"
)

// Outcome of a content scan.
type Outcome string

const (
	OutcomePass     Outcome = "PASS"
	OutcomeCensored Outcome = "CENSORED"
	OutcomeBlocked  Outcome = "BLOCKED"
)

// Page is a loaded document handed over by the rendering surface. Err is
// set when the surface could not obtain the body.
type Page struct {
	URL         string
	Title       string
	ContentType string
	Body        []byte
	Err         error
}

// ScanResult tells the surface what to render. Content is empty for PASS.
type ScanResult struct {
	Outcome     Outcome        `json:"outcome"`
	Content     []byte         `json:"-"`
	ContentType string         `json:"contentType,omitempty"`
	Title       string         `json:"title"`
	Verdict     safety.Verdict `json:"verdict"`
}

// ContentEvaluator decides loaded pages.
type ContentEvaluator interface {
	EvaluateContent(ctx context.Context, url, text string, images []string) safety.Verdict
}

// Scanner turns a loaded page into a pass, censor or block decision. It
// holds no per-page state, so scans of different pages may overlap.
type Scanner struct {
	eval   ContentEvaluator
	censor func(string) string
	home   string
	log    *slog.Logger
}

// NewScanner builds a scanner. censor masks matched text; home is linked
// from the block page.
func NewScanner(eval ContentEvaluator, censor func(string) string, home string, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{eval: eval, censor: censor, home: home, log: log.With("component", "scanner")}
}

// Scan evaluates p. It always returns a definitive outcome.
func (s *Scanner) Scan(ctx context.Context, p Page) ScanResult {
	doc, err := s.read(p)
	if err != nil {
		s.log.Warn("page blocked, content unreadable", "url", p.URL, "kind", safety.ReasonContentUnreadable, "error", err)
		return s.blocked(p.Title, safety.Deny(safety.ReasonContentUnreadable, ""))
	}
	title := p.Title
	if title == "" {
		title = doc.Title
	}

	v := s.eval.EvaluateContent(ctx, p.URL, doc.Text, doc.Images)
	switch v.Action {
	case safety.ActionDeny:
		return s.blocked(title, v)
	case safety.ActionCensor:
		content, contentType, err := s.censored(p, doc, v.BlockedImages)
		if err != nil {
			s.log.Warn("page blocked, censoring failed", "url", p.URL, "kind", safety.ReasonContentUnreadable, "error", err)
			return s.blocked(title, safety.Deny(safety.ReasonContentUnreadable, v.Category))
		}
		return ScanResult{Outcome: OutcomeCensored, Content: content, ContentType: contentType, Title: s.censor(title), Verdict: v}
	}
	return ScanResult{Outcome: OutcomePass, Title: title, Verdict: v}
}

func (s *Scanner) read(p Page) (*textextract.Document, error) {
	if p.Err != nil {
		return nil, &ContentFetchError{URL: p.URL, Err: p.Err}
	}
	doc, err := textextract.Extract(p.Body, p.ContentType)
	if err != nil {
		return nil, &ContentFetchError{URL: p.URL, Err: err}
	}
	return doc, nil
}

func (s *Scanner) censored(p Page, doc *textextract.Document, blockedImages []string) ([]byte, string, error) {
	if doc.Kind == "html" {
		out, err := textextract.CensorHTML(p.Body, s.censor, blockedImages)
		if err != nil {
			return nil, "", err
		}
		return out, "text/html; charset=utf-8", nil
	}
	if doc.Kind == "" {
		return nil, "", errors.New("unknown document kind")
	}
	return []byte(s.censor(doc.Text)), "text/plain; charset=utf-8", nil
}

func (s *Scanner) blocked(title string, v safety.Verdict) ScanResult {
	return ScanResult{
		Outcome:     OutcomeBlocked,
		Content:     BlockPage(v.Reason, s.home),
		ContentType: "text/html; charset=utf-8",
		Title:       title,
		Verdict:     v,
	}
}
