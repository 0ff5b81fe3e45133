package guardrails

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Severity decides whether a match blocks a page or only censors it.
type Severity string

const (
	SeverityLow  Severity = "low"
	SeverityHigh Severity = "high"
)

// Rule is one keyword/regex group with a category label. Keywords are
// literal phrases; Pattern is an optional regular expression. Both are
// matched case-insensitively on word boundaries.
type Rule struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Keywords []string `json:"keywords,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
}

// DefaultRules is the built-in rule sequence. High-severity categories come
// first so the first match is the most serious one.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "adult_content",
			Category: "adult",
			Severity: SeverityHigh,
			Keywords: []string{
				"xxx", "porn", "porno", "pornography", "nsfw", "nude", "nudes",
				"nudity", "hentai", "erotic", "erotica", "escort", "escorts",
				"camgirl", "camgirls", "onlyfans", "sexcam",
			},
			Pattern: `porn\w+`,
		},
		{
			Name:     "graphic_violence",
			Category: "violence",
			Severity: SeverityHigh,
			Keywords: []string{
				"gore", "beheading", "snuff", "how to kill",
				"how to make a bomb", "how to make explosives",
			},
		},
		{
			Name:     "self_harm",
			Category: "self-harm",
			Severity: SeverityHigh,
			Keywords: []string{"suicide method", "suicide methods", "how to self harm"},
		},
		{
			Name:     "drugs",
			Category: "drugs",
			Severity: SeverityHigh,
			Keywords: []string{"cocaine", "heroin", "methamphetamine", "buy weed", "buy drugs"},
		},
		{
			Name:     "gambling",
			Category: "gambling",
			Severity: SeverityHigh,
			Keywords: []string{"casino", "casinos", "online betting", "sportsbook", "slot machines"},
		},
		{
			Name:     "profanity",
			Category: "profanity",
			Severity: SeverityLow,
			Keywords: []string{
				"shit", "shitty", "bitch", "bitches", "damn", "crap",
				"bastard", "bastards", "asshole", "assholes", "ass",
			},
			Pattern: `fuck\w*`,
		},
	}
}

// LoadRulesFile reads a JSON array of rules.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	for i := range rules {
		if err := rules[i].validate(); err != nil {
			return nil, fmt.Errorf("rules file %s: rule %d: %w", path, i, err)
		}
	}
	return rules, nil
}

func (r *Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("missing name")
	}
	if r.Category == "" {
		return fmt.Errorf("rule %q: missing category", r.Name)
	}
	r.Severity = Severity(strings.ToLower(string(r.Severity)))
	switch r.Severity {
	case "":
		r.Severity = SeverityLow
	case SeverityLow, SeverityHigh:
	default:
		return fmt.Errorf("rule %q: unknown severity %q", r.Name, r.Severity)
	}
	if len(r.Keywords) == 0 && r.Pattern == "" {
		return fmt.Errorf("rule %q: needs keywords or a pattern", r.Name)
	}
	return nil
}
