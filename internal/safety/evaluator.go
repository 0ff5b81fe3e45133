package safety

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/safebrowse/internal/classifier"
	"github.com/nikhilbhutani/safebrowse/internal/guardrails"
	"github.com/nikhilbhutani/safebrowse/internal/policy"
	"github.com/nikhilbhutani/safebrowse/pkg/urlnorm"
)

// Granularity controls what an unsafe image blocks.
type Granularity string

const (
	// GranularityResource strips the image and censors the page.
	GranularityResource Granularity = "resource"
	// GranularityPage blocks the whole page.
	GranularityPage Granularity = "page"
)

// PolicySource hands out the current list snapshot.
type PolicySource interface {
	Current() *policy.Policy
}

// ImageFetcher loads image bytes for a reference found on a page.
type ImageFetcher interface {
	Fetch(ctx context.Context, pageURL, ref string) ([]byte, error)
}

// Options tune content evaluation.
type Options struct {
	Threshold         float64 // a score must exceed this to count as unsafe
	UnsafeTextLabels  []string
	UnsafeImageLabels []string
	FailClosed        bool
	ImageGranularity  Granularity
	MaxImages         int
	MaxParallel       int
	// HighSeverity lists extra categories that block instead of censor,
	// on top of rules marked high severity.
	HighSeverity []string
}

// DefaultOptions mirrors the calibration the classifiers were tuned with.
func DefaultOptions() Options {
	return Options{
		Threshold: 0.8,
		UnsafeTextLabels: []string{
			"toxic", "obscene", "threat", "insult", "identity_hate",
			"severe_toxic", "nsfw", "sexual", "sexual/minors",
			"violence", "violence/graphic", "self-harm", "self-harm/intent",
			"self-harm/instructions", "hate", "hate/threatening",
			"harassment/threatening", "drugs", "gambling",
		},
		UnsafeImageLabels: []string{"nsfw", "porn", "hentai", "sexy", "violence"},
		ImageGranularity:  GranularityResource,
		MaxImages:         16,
		MaxParallel:       4,
	}
}

// Evaluator is safe for concurrent use.
type Evaluator struct {
	policy     PolicySource
	matcher    *guardrails.Matcher
	classifier classifier.Scorer
	images     ImageFetcher
	opts       Options
	textUnsafe map[string]bool
	imgUnsafe  map[string]bool
	high       map[string]bool
	log        *slog.Logger
}

// NewEvaluator wires the checks. scorer and images may be nil, which
// disables classifier scoring and image scanning respectively.
func NewEvaluator(p PolicySource, m *guardrails.Matcher, scorer classifier.Scorer, images ImageFetcher, opts Options, log *slog.Logger) *Evaluator {
	def := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.UnsafeTextLabels == nil {
		opts.UnsafeTextLabels = def.UnsafeTextLabels
	}
	if opts.UnsafeImageLabels == nil {
		opts.UnsafeImageLabels = def.UnsafeImageLabels
	}
	if opts.ImageGranularity == "" {
		opts.ImageGranularity = def.ImageGranularity
	}
	if opts.MaxImages <= 0 {
		opts.MaxImages = def.MaxImages
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = def.MaxParallel
	}
	if m == nil {
		m = guardrails.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{
		policy:     p,
		matcher:    m,
		classifier: scorer,
		images:     images,
		opts:       opts,
		textUnsafe: set(opts.UnsafeTextLabels),
		imgUnsafe:  set(opts.UnsafeImageLabels),
		high:       set(opts.HighSeverity),
		log:        log.With("component", "evaluator"),
	}
}

func set(labels []string) map[string]bool {
	m := make(map[string]bool, len(labels))
	for _, l := range labels {
		m[strings.ToLower(strings.TrimSpace(l))] = true
	}
	return m
}

// Matcher exposes the rule set, for diagnostics and censoring.
func (e *Evaluator) Matcher() *guardrails.Matcher { return e.matcher }

// EvaluateNavigation decides whether rawURL may be loaded. The block list
// is consulted before allowlist mode so a listed block always reports
// BLOCKED_LIST.
func (e *Evaluator) EvaluateNavigation(ctx context.Context, rawURL string) Verdict {
	t, err := urlnorm.Parse(urlnorm.NormalizeInput(rawURL))
	if err != nil {
		e.log.Warn("navigation denied", "url", rawURL, "kind", ReasonMalformedURL, "error", err)
		return Deny(ReasonMalformedURL, "")
	}
	v := e.navigation(t)
	if !v.Allowed {
		e.log.Info("navigation denied", "url", t.String(), "kind", v.Reason, "category", v.Category)
	}
	return v
}

func (e *Evaluator) navigation(t *urlnorm.Target) Verdict {
	p := e.policy.Current()
	switch {
	case p.Blocked(t):
		return Deny(ReasonBlockedList, "")
	case p.AllowlistMode() && !p.Allowed(t):
		return Deny(ReasonNotInAllowlist, "")
	}
	if m, ok := e.matcher.MatchURL(t); ok {
		return Deny(ReasonPatternMatch, m.Category)
	}
	return Allow()
}

// EvaluateContent scans a loaded page. The pattern, text and image checks
// run independently and the most restrictive result wins.
func (e *Evaluator) EvaluateContent(ctx context.Context, pageURL, text string, images []string) Verdict {
	if len(images) > e.opts.MaxImages {
		e.log.Debug("image scan capped", "url", pageURL, "found", len(images), "max", e.opts.MaxImages)
		images = images[:e.opts.MaxImages]
	}

	results := make([]Verdict, 2+len(images))
	results[0] = e.patternCheck(text)

	var g errgroup.Group
	g.SetLimit(e.opts.MaxParallel)
	if e.classifier != nil {
		g.Go(func() error {
			results[1] = e.textCheck(ctx, pageURL, text)
			return nil
		})
		if e.images != nil {
			for i, ref := range images {
				i, ref := i, ref
				g.Go(func() error {
					results[2+i] = e.imageCheck(ctx, pageURL, ref)
					return nil
				})
			}
		}
	}
	_ = g.Wait()

	v := MostRestrictive(results...)
	if v.Action != ActionAllow {
		e.log.Info("content flagged", "url", pageURL, "action", v.Action, "kind", v.Reason, "category", v.Category)
	}
	return v
}

func (e *Evaluator) patternCheck(text string) Verdict {
	matches := e.matcher.MatchAll(text)
	if len(matches) == 0 {
		return Allow()
	}
	for _, m := range matches {
		if m.Severity == guardrails.SeverityHigh || e.high[m.Category] {
			return Deny(ReasonPatternMatch, m.Category)
		}
	}
	return Censor(ReasonPatternMatch, matches[0].Category)
}

func (e *Evaluator) textCheck(ctx context.Context, pageURL, text string) Verdict {
	cv := e.classifier.ScoreText(ctx, text)
	if cv.Unavailable() {
		return e.unavailable(pageURL, "text")
	}
	if cv.Score > e.opts.Threshold && e.textUnsafe[cv.Label] {
		return Deny(ReasonClassifierFlag, cv.Label)
	}
	return Allow()
}

func (e *Evaluator) imageCheck(ctx context.Context, pageURL, ref string) Verdict {
	data, err := e.images.Fetch(ctx, pageURL, ref)
	if err != nil {
		e.log.Warn("image not scanned", "url", pageURL, "image", ref, "kind", ReasonClassifierUnavailable, "error", err)
		return e.unavailable(pageURL, "image")
	}
	cv := e.classifier.ScoreImage(ctx, data)
	if cv.Unavailable() {
		return e.unavailable(pageURL, "image")
	}
	if cv.Score <= e.opts.Threshold || !e.imgUnsafe[cv.Label] {
		return Allow()
	}
	if e.opts.ImageGranularity == GranularityPage {
		return Deny(ReasonClassifierFlag, cv.Label)
	}
	v := Censor(ReasonClassifierFlag, cv.Label)
	v.BlockedImages = []string{ref}
	return v
}

func (e *Evaluator) unavailable(pageURL, kind string) Verdict {
	e.log.Debug("applying unavailable policy", "url", pageURL, "kind", kind, "fail_closed", e.opts.FailClosed)
	if e.opts.FailClosed {
		return Deny(ReasonClassifierUnavailable, kind)
	}
	v := Allow()
	v.Reason = ReasonClassifierUnavailable
	v.Warning = kind + " classifier unavailable"
	return v
}
