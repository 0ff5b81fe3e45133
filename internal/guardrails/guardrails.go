// Package guardrails matches URLs and page text against ordered keyword and
// regex rules, and masks matched spans.
package guardrails

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nikhilbhutani/safebrowse/pkg/urlnorm"
)

// MaskRune replaces every rune of a censored span.
const MaskRune = '*'

// Match describes one rule hit.
type Match struct {
	Rule     string   `json:"rule"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// Matcher holds a compiled, immutable rule sequence. It is safe for
// concurrent use.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles rules in order. A rule that can match a run of mask
// characters is rejected, otherwise censoring would not be idempotent.
func NewMatcher(rules []Rule) (*Matcher, error) {
	m := &Matcher{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
		re, err := compile(r)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if matchesMask(re) {
			return nil, fmt.Errorf("rule %q matches the censor mask", r.Name)
		}
		m.rules = append(m.rules, compiledRule{Rule: r, re: re})
	}
	return m, nil
}

// Default compiles DefaultRules.
func Default() *Matcher {
	m, err := NewMatcher(DefaultRules())
	if err != nil {
		panic(err)
	}
	return m
}

func compile(r Rule) (*regexp.Regexp, error) {
	alts := make([]string, 0, len(r.Keywords)+1)
	for _, k := range r.Keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		words := strings.Fields(k)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		alts = append(alts, strings.Join(words, `[\s\-_+]+`))
	}
	if r.Pattern != "" {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return nil, err
		}
		alts = append(alts, r.Pattern)
	}
	if len(alts) == 0 {
		return nil, fmt.Errorf("no usable keywords")
	}
	return regexp.Compile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

func matchesMask(re *regexp.Regexp) bool {
	for n := 1; n <= 16; n++ {
		run := strings.Repeat(string(MaskRune), n)
		for _, probe := range []string{run, "a" + run + "a"} {
			for _, span := range re.FindAllString(probe, -1) {
				if isMask(span) {
					return true
				}
			}
		}
	}
	return false
}

func isMask(s string) bool { return strings.Trim(s, string(MaskRune)) == "" }

// Len returns the number of rules.
func (m *Matcher) Len() int { return len(m.rules) }

// MatchText returns the first rule, in order, that matches text.
func (m *Matcher) MatchText(text string) (Match, bool) {
	for _, r := range m.rules {
		if loc := r.re.FindStringIndex(text); loc != nil {
			return r.match(text[loc[0]:loc[1]]), true
		}
	}
	return Match{}, false
}

// MatchURL matches the decoded host, path and query of t.
func (m *Matcher) MatchURL(t *urlnorm.Target) (Match, bool) {
	if t == nil {
		return Match{}, false
	}
	return m.MatchText(t.MatchText())
}

// MatchAll evaluates every rule and returns one match per rule that hit.
// Used for diagnostics and for picking the most severe content match.
func (m *Matcher) MatchAll(text string) []Match {
	var out []Match
	for _, r := range m.rules {
		if loc := r.re.FindStringIndex(text); loc != nil {
			out = append(out, r.match(text[loc[0]:loc[1]]))
		}
	}
	return out
}

// Categories returns the distinct categories of matches in order.
func Categories(matches []Match) []string {
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, mt := range matches {
		if !seen[mt.Category] {
			seen[mt.Category] = true
			out = append(out, mt.Category)
		}
	}
	return out
}

// Censor replaces every matched span with mask runes of the same length.
// Text outside matches is untouched and Censor(Censor(s)) == Censor(s).
func (m *Matcher) Censor(text string) string {
	for {
		next := m.censorPass(text)
		if next == text {
			return text
		}
		text = next
	}
}

// censorPass masks one round of matches. Each pass that changes the text
// adds mask runes, so Censor terminates.
func (m *Matcher) censorPass(text string) string {
	for _, r := range m.rules {
		text = r.re.ReplaceAllStringFunc(text, func(span string) string {
			if isMask(span) {
				return span
			}
			return strings.Repeat(string(MaskRune), utf8.RuneCountInString(span))
		})
	}
	return text
}

func (r compiledRule) match(text string) Match {
	return Match{Rule: r.Name, Category: r.Category, Severity: r.Severity, Text: text}
}
