package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nikhilbhutani/safebrowse/internal/auth"
)

type AuthHandler struct {
	auth *auth.Authenticator
	log  *slog.Logger
}

func NewAuthHandler(a *auth.Authenticator, log *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: a, log: log}
}

// Login exchanges the parent passcode for a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Passcode string `json:"passcode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, exp, err := h.auth.Login(req.Passcode)
	if errors.Is(err, auth.ErrBadPasscode) {
		h.log.Warn("parent login failed", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "incorrect passcode")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresAt": exp.UTC().Format(time.RFC3339),
	})
}
