// Package classifier scores text and images with external safety models.
package classifier

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// LabelUnavailable marks a verdict produced without a working classifier.
const LabelUnavailable = "UNAVAILABLE"

// LabelNone is returned for empty input, which is never sent anywhere.
const LabelNone = "none"

var (
	// ErrTimeout means the classifier did not answer within its budget.
	ErrTimeout = errors.New("classifier timed out")
	// ErrUnavailable means the classifier could not be reached or answered
	// with something unusable.
	ErrUnavailable = errors.New("classifier unavailable")
)

// Verdict is a single classifier answer. Score is in [0,1].
type Verdict struct {
	Label   string  `json:"label"`
	Score   float64 `json:"score"`
	Backend string  `json:"backend,omitempty"`
}

// Unavailable reports whether v is the sentinel for a failed call.
func (v Verdict) Unavailable() bool { return v.Label == LabelUnavailable }

func unavailable() Verdict { return Verdict{Label: LabelUnavailable} }

// Backend is one concrete scoring service.
type Backend interface {
	Name() string
	ScoreText(ctx context.Context, text string) (Verdict, error)
	ScoreImage(ctx context.Context, image []byte) (Verdict, error)
}

// Scorer is what the evaluator depends on. Implementations never return
// errors; failures come back as the UNAVAILABLE verdict.
type Scorer interface {
	ScoreText(ctx context.Context, text string) Verdict
	ScoreImage(ctx context.Context, image []byte) Verdict
}

// bestLabel picks the highest scoring {label,score} object from a JSON
// answer shaped [{..}], [[{..}]] or {..}.
func bestLabel(body string) (Verdict, bool) {
	res := gjson.Parse(body)
	if res.IsArray() {
		if first := res.Get("0"); first.IsArray() {
			res = first
		}
	}
	var best Verdict
	found := false
	consider := func(item gjson.Result) {
		label := item.Get("label")
		if !label.Exists() {
			return
		}
		score := clamp(item.Get("score").Float())
		if !found || score > best.Score {
			best = Verdict{Label: strings.ToLower(label.String()), Score: score}
			found = true
		}
	}
	if res.IsArray() {
		res.ForEach(func(_, item gjson.Result) bool {
			consider(item)
			return true
		})
	} else if res.IsObject() {
		consider(res)
	}
	return best, found
}

// jsonObject trims an LLM reply down to its outermost JSON object.
func jsonObject(reply string) string {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end < start {
		return ""
	}
	return reply[start : end+1]
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Standard instruction used by the LLM backends.
const judgePrompt = `You are a content-safety classifier for a children's web browser.
Classify the content for a child audience. Reply with only a JSON object:
{"label": "<one of: safe, nsfw, obscene, violence, self-harm, hate, drugs, gambling, toxic>", "score": <confidence between 0 and 1 that the label applies>}`
