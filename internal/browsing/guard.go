// Package browsing enforces verdicts against a rendering surface: it gates
// navigations, scans loaded pages and discards results that arrive after
// the user has moved on.
package browsing

import (
	"context"
	"strings"

	"github.com/nikhilbhutani/safebrowse/internal/safety"
)

// NavigationEvaluator decides navigations.
type NavigationEvaluator interface {
	EvaluateNavigation(ctx context.Context, url string) safety.Verdict
}

// Guard gates every requested navigation.
type Guard struct {
	eval     NavigationEvaluator
	internal []string
}

// NewGuard creates a guard. internalPrefixes are URLs the browser itself
// serves, such as the access-denied notice, which are always allowed.
func NewGuard(eval NavigationEvaluator, internalPrefixes ...string) *Guard {
	prefixes := []string{"about:blank", "about:srcdoc"}
	for _, p := range internalPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &Guard{eval: eval, internal: prefixes}
}

// ShouldNavigate returns the verdict for url. It blocks until the verdict
// is known; callers on an event loop should use Session instead.
func (g *Guard) ShouldNavigate(ctx context.Context, url string) (bool, safety.Verdict) {
	if g.IsInternal(url) {
		return true, safety.Allow()
	}
	v := g.eval.EvaluateNavigation(ctx, url)
	return v.Allowed, v
}

// IsInternal reports whether url is served by the browser itself.
func (g *Guard) IsInternal(url string) bool {
	u := strings.TrimSpace(url)
	for _, p := range g.internal {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}
