package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/safebrowse/internal/guardrails"
)

type DiagnosticsHandler struct {
	matcher *guardrails.Matcher
}

func NewDiagnosticsHandler(m *guardrails.Matcher) *DiagnosticsHandler {
	return &DiagnosticsHandler{matcher: m}
}

// Match lists every rule that matches text, not just the first.
func (h *DiagnosticsHandler) Match(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}

	matches := h.matcher.MatchAll(text)
	if matches == nil {
		matches = []guardrails.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"matches":    matches,
		"categories": guardrails.Categories(matches),
		"censored":   h.matcher.Censor(text),
	})
}
