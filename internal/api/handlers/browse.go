package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nikhilbhutani/safebrowse/internal/browsing"
	"github.com/nikhilbhutani/safebrowse/internal/safety"
)

const maxPageBytes = 8 << 20

// BrowseHandler lets an external renderer gate navigations and pages
// through a single browsing session.
type BrowseHandler struct {
	session    *browsing.Session
	noticeBase string
	home       string
}

func NewBrowseHandler(session *browsing.Session, noticeBase, home string) *BrowseHandler {
	return &BrowseHandler{session: session, noticeBase: noticeBase, home: home}
}

func (h *BrowseHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	allowed, v := h.session.Navigate(req.URL)
	resp := map[string]interface{}{
		"allowed":    allowed,
		"verdict":    v,
		"generation": h.session.Generation(),
	}
	if !allowed {
		resp["noticeUrl"] = browsing.NoticeURL(h.noticeBase, v.Reason)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BrowseHandler) Page(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		ContentType string `json:"contentType"`
		Body        string `json:"body"`
		Error       string `json:"error,omitempty"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPageBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p := browsing.Page{
		URL:         req.URL,
		Title:       req.Title,
		ContentType: req.ContentType,
		Body:        []byte(req.Body),
	}
	if req.Error != "" {
		p.Err = errors.New(req.Error)
	}

	var res browsing.PageResult
	select {
	case res = <-h.session.OnPageLoaded(p):
	case <-r.Context().Done():
		return
	}

	resp := map[string]interface{}{
		"outcome":    res.Outcome,
		"title":      res.Title,
		"verdict":    res.Verdict,
		"generation": res.Generation,
		"stale":      res.Stale,
	}
	if len(res.Content) > 0 {
		resp["content"] = string(res.Content)
		resp["contentType"] = res.ContentType
	}
	writeJSON(w, http.StatusOK, resp)
}

// Notice serves the access-denied page. It never shows the denied URL.
func (h *BrowseHandler) Notice(w http.ResponseWriter, r *http.Request) {
	reason := safety.Reason(r.URL.Query().Get("reason"))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(browsing.BlockPage(reason, h.home))
}
