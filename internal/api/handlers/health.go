package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const readyTimeout = 2 * time.Second

// ReadyCheck reports whether a dependency can serve requests.
type ReadyCheck func(ctx context.Context) error

type HealthHandler struct {
	names  []string
	checks map[string]ReadyCheck
}

func NewHealthHandler(checks map[string]ReadyCheck) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]ReadyCheck, len(checks))}
	for name, c := range checks {
		if c != nil {
			h.checks[name] = c
			h.names = append(h.names, name)
		}
	}
	sort.Strings(h.names)
	return h
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz runs every check concurrently, each bounded by readyTimeout.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	var mu sync.Mutex
	results := make(map[string]string, len(h.names))
	healthy := true

	var g errgroup.Group
	for _, name := range h.names {
		name := name
		check := h.checks[name]
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
			defer cancel()
			status := "ok"
			if err := check(ctx); err != nil {
				status = "unhealthy: " + err.Error()
			}
			mu.Lock()
			results[name] = status
			if status != "ok" {
				healthy = false
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"status": statusStr(code), "checks": results})
}

func statusStr(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unhealthy"
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
