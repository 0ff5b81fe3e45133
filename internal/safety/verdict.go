// Package safety combines list policy, pattern rules and classifier scores
// into one verdict per navigation or loaded page.
package safety

import "strings"

// Reason explains a verdict.
type Reason string

const (
	ReasonNone                  Reason = "NONE"
	ReasonBlockedList           Reason = "BLOCKED_LIST"
	ReasonNotInAllowlist        Reason = "NOT_IN_ALLOWLIST"
	ReasonPatternMatch          Reason = "PATTERN_MATCH"
	ReasonClassifierFlag        Reason = "CLASSIFIER_FLAG"
	ReasonClassifierUnavailable Reason = "CLASSIFIER_UNAVAILABLE"
	ReasonMalformedURL          Reason = "MALFORMED_URL"
	ReasonContentUnreadable     Reason = "CONTENT_UNREADABLE"
)

// Action is what the browsing surface must do.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionCensor Action = "censor"
	ActionDeny   Action = "deny"
)

// Verdict is produced fresh for every evaluation.
type Verdict struct {
	Allowed  bool   `json:"allowed"`
	Action   Action `json:"action"`
	Reason   Reason `json:"reason"`
	Category string `json:"category,omitempty"`
	Warning  string `json:"warning,omitempty"`
	// BlockedImages lists image references to strip from an otherwise
	// allowed page.
	BlockedImages []string `json:"blockedImages,omitempty"`
}

// Allow is the verdict when nothing triggered.
func Allow() Verdict {
	return Verdict{Allowed: true, Action: ActionAllow, Reason: ReasonNone}
}

// Deny builds a denying verdict.
func Deny(reason Reason, category string) Verdict {
	return Verdict{Allowed: false, Action: ActionDeny, Reason: reason, Category: category}
}

// Censor builds an allow-with-redaction verdict.
func Censor(reason Reason, category string) Verdict {
	return Verdict{Allowed: true, Action: ActionCensor, Reason: reason, Category: category}
}

// Summary is the short form stored in activity entries.
func (v Verdict) Summary() string {
	var b strings.Builder
	b.WriteString(string(v.Action))
	if v.Reason != ReasonNone && v.Reason != "" {
		b.WriteString(":")
		b.WriteString(string(v.Reason))
	}
	if v.Category != "" {
		b.WriteString(":")
		b.WriteString(v.Category)
	}
	return b.String()
}

// rank orders verdicts from least to most restrictive. An allow that
// carries a warning outranks a plain allow so the warning survives.
func (v Verdict) rank() int {
	switch v.Action {
	case ActionDeny:
		return 3
	case ActionCensor:
		return 2
	}
	if v.Warning != "" {
		return 1
	}
	return 0
}

// MostRestrictive folds verdicts: deny wins over censor wins over allow.
// Ties keep the earliest verdict. Warnings and blocked images of every
// input are kept.
func MostRestrictive(verdicts ...Verdict) Verdict {
	out := Allow()
	var warnings []string
	var images []string
	for _, v := range verdicts {
		if v.rank() > out.rank() {
			out = v
		}
		if v.Warning != "" && !contains(warnings, v.Warning) {
			warnings = append(warnings, v.Warning)
		}
		images = append(images, v.BlockedImages...)
	}
	out.Warning = strings.Join(warnings, "; ")
	out.BlockedImages = images
	out.Allowed = out.Action != ActionDeny
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
