package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/safebrowse/internal/policy"
	"github.com/nikhilbhutani/safebrowse/pkg/urlnorm"
)

type PolicyHandler struct {
	store *policy.Store
	log   *slog.Logger
}

func NewPolicyHandler(store *policy.Store, log *slog.Logger) *PolicyHandler {
	return &PolicyHandler{store: store, log: log}
}

func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Current().Document())
}

func (h *PolicyHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, bodyURL, h.store.Block)
}

func (h *PolicyHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, queryURL, h.store.Unblock)
}

func (h *PolicyHandler) Allow(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, bodyURL, h.store.Allow)
}

func (h *PolicyHandler) Disallow(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, queryURL, h.store.Disallow)
}

type urlSource func(r *http.Request) (string, error)

var errMissingURL = errors.New("url required")

func bodyURL(r *http.Request) (string, error) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", errors.New("invalid request body")
	}
	if req.URL == "" {
		return "", errMissingURL
	}
	return req.URL, nil
}

func queryURL(r *http.Request) (string, error) {
	u := r.URL.Query().Get("url")
	if u == "" {
		return "", errMissingURL
	}
	return u, nil
}

func (h *PolicyHandler) change(w http.ResponseWriter, r *http.Request, src urlSource, op func(ctx context.Context, url string) error) {
	u, err := src(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := op(r.Context(), u); err != nil {
		var malformed *urlnorm.MalformedURLError
		switch {
		case errors.As(err, &malformed):
			writeError(w, http.StatusBadRequest, malformed.Error())
		case policy.IsStorageError(err):
			writeError(w, http.StatusServiceUnavailable, "settings not saved")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, h.store.Current().Document())
}
