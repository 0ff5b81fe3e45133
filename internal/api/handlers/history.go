package handlers

import (
	"net/http"
	"strconv"

	"github.com/nikhilbhutani/safebrowse/internal/activity"
)

const defaultHistoryLimit = 100

type HistoryHandler struct {
	log *activity.Log
}

func NewHistoryHandler(log *activity.Log) *HistoryHandler {
	return &HistoryHandler{log: log}
}

// List returns the most recent entries, oldest first. limit=0 returns all.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": h.log.Recent(limit),
		"total":   h.log.Len(),
	})
}
