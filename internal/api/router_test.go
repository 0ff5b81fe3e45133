package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nikhilbhutani/safebrowse/internal/activity"
	"github.com/nikhilbhutani/safebrowse/internal/api/handlers"
	"github.com/nikhilbhutani/safebrowse/internal/auth"
	"github.com/nikhilbhutani/safebrowse/internal/browsing"
	"github.com/nikhilbhutani/safebrowse/internal/config"
	"github.com/nikhilbhutani/safebrowse/internal/guardrails"
	"github.com/nikhilbhutani/safebrowse/internal/policy"
	"github.com/nikhilbhutani/safebrowse/internal/safety"
)

type memPolicy struct {
	mu   sync.Mutex
	doc  *policy.Document
	fail bool
}

func (m *memPolicy) LoadPolicy(context.Context) (policy.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return policy.Document{}, false, nil
	}
	return *m.doc, true, nil
}

func (m *memPolicy) SavePolicy(_ context.Context, doc policy.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.doc = &doc
	return nil
}

type memHistory struct{}

func (memHistory) LoadHistory(context.Context) ([]activity.Entry, error) { return nil, nil }
func (memHistory) AppendHistory(context.Context, activity.Entry) error   { return nil }

type testServer struct {
	h     http.Handler
	repo  *memPolicy
	store *policy.Store
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	repo := &memPolicy{}
	store, err := policy.NewStore(ctx, repo, nil)
	if err != nil {
		t.Fatal(err)
	}
	hist, err := activity.NewLog(ctx, memHistory{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	m := guardrails.Default()
	eval := safety.NewEvaluator(store, m, nil, nil, safety.DefaultOptions(), nil)
	guard := browsing.NewGuard(eval)
	scanner := browsing.NewScanner(eval, m.Censor, "https://www.kiddle.co", nil)
	session := browsing.NewSession(ctx, guard, scanner, browsing.NopSurface{}, hist, nil, nil)
	t.Cleanup(session.Close)

	hash, err := bcrypt.GenerateFromPassword([]byte("1234"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a := auth.NewAuthenticator("secret", string(hash), time.Hour)
	token, _, err := a.IssueToken()
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Browser: config.BrowserConfig{
			HomeURL:       "https://www.kiddle.co",
			NoticeBaseURL: "http://127.0.0.1:8080/blocked",
		},
	}
	rt := NewRouter(cfg, Deps{
		Policy:  store,
		History: hist,
		Auth:    a,
		Session: session,
		Matcher: m,
	})
	t.Cleanup(rt.Close)

	return &testServer{h: rt.Setup(), repo: repo, store: store, token: token}
}

func (s *testServer) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/healthz", "", false); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/readyz", "", false); rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodPost, "/api/v1/auth/login", `{"passcode":"nope"}`, false); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad passcode = %d", rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", `{"passcode":"1234"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decode(t, rec, &resp)
	if resp.Token == "" {
		t.Fatal("empty token")
	}
	s.token = resp.Token
	if rec := s.do(t, http.MethodGet, "/api/v1/policy", "", true); rec.Code != http.StatusOK {
		t.Errorf("policy with issued token = %d", rec.Code)
	}
}

func TestPolicy_RequiresParent(t *testing.T) {
	s := newTestServer(t)
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/v1/policy", ""},
		{http.MethodPost, "/api/v1/policy/blocked", `{"url":"bad.com"}`},
		{http.MethodGet, "/api/v1/history", ""},
		{http.MethodGet, "/api/v1/diagnostics/match?text=porn", ""},
	} {
		if rec := s.do(t, tc.method, tc.path, tc.body, false); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
}

func TestPolicy_BlockAndUnblock(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/policy/blocked", `{"url":"https://www.Bad.com/"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("block = %d %s", rec.Code, rec.Body.String())
	}
	var doc policy.Document
	decode(t, rec, &doc)
	if len(doc.BlockedWebsites) != 1 || doc.BlockedWebsites[0] != "bad.com" {
		t.Fatalf("blocked = %v", doc.BlockedWebsites)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/policy/allowed", `{"url":"bad.com"}`, true)
	decode(t, rec, &doc)
	if len(doc.BlockedWebsites) != 0 || len(doc.AllowedWebsites) != 1 {
		t.Fatalf("after allow = %+v", doc)
	}

	rec = s.do(t, http.MethodDelete, "/api/v1/policy/allowed?url=bad.com", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("disallow = %d", rec.Code)
	}
	if s.store.Current().AllowlistMode() {
		t.Error("allow list should be empty")
	}
}

func TestPolicy_Errors(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(t, http.MethodPost, "/api/v1/policy/blocked", `{"url":"com"}`, true); rec.Code != http.StatusBadRequest {
		t.Errorf("public suffix = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/policy/blocked", `{}`, true); rec.Code != http.StatusBadRequest {
		t.Errorf("missing url = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/api/v1/policy/blocked", "", true); rec.Code != http.StatusBadRequest {
		t.Errorf("missing query = %d", rec.Code)
	}

	s.repo.fail = true
	rec := s.do(t, http.MethodPost, "/api/v1/policy/blocked", `{"url":"bad.com"}`, true)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "settings not saved") {
		t.Fatalf("storage failure = %d %s", rec.Code, rec.Body.String())
	}
	if s.store.IsBlocked("https://bad.com") {
		t.Error("failed change was published")
	}
}

func TestBrowse_NavigateDenied(t *testing.T) {
	s := newTestServer(t)
	if err := s.store.Block(context.Background(), "bad.com"); err != nil {
		t.Fatal(err)
	}

	rec := s.do(t, http.MethodPost, "/api/v1/browse/navigate", `{"url":"https://bad.com/secret"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("navigate = %d", rec.Code)
	}
	var resp struct {
		Allowed   bool           `json:"allowed"`
		Verdict   safety.Verdict `json:"verdict"`
		NoticeURL string         `json:"noticeUrl"`
	}
	decode(t, rec, &resp)
	if resp.Allowed || resp.Verdict.Reason != safety.ReasonBlockedList {
		t.Fatalf("resp = %+v", resp)
	}
	if !strings.Contains(resp.NoticeURL, "reason=BLOCKED_LIST") || strings.Contains(resp.NoticeURL, "bad.com") {
		t.Errorf("noticeUrl = %q", resp.NoticeURL)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/history", "", true)
	var hist struct {
		Entries []activity.Entry `json:"entries"`
		Total   int              `json:"total"`
	}
	decode(t, rec, &hist)
	if hist.Total != 1 || hist.Entries[0].URL != "https://bad.com/secret" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestBrowse_Page(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/browse/navigate", `{"url":"https://example.com"}`, false)
	var nav struct {
		Allowed bool `json:"allowed"`
	}
	decode(t, rec, &nav)
	if !nav.Allowed {
		t.Fatal("example.com denied")
	}

	body := `{"url":"https://example.com","title":"Hi","contentType":"text/html","body":"<html><body><p>what a load of crap</p></body></html>"}`
	rec = s.do(t, http.MethodPost, "/api/v1/browse/page", body, false)
	var page struct {
		Outcome browsing.Outcome `json:"outcome"`
		Content string           `json:"content"`
	}
	decode(t, rec, &page)
	if page.Outcome != browsing.OutcomeCensored {
		t.Fatalf("outcome = %s", page.Outcome)
	}
	if strings.Contains(page.Content, "crap") || !strings.Contains(page.Content, "****") {
		t.Errorf("content = %q", page.Content)
	}

	s.do(t, http.MethodPost, "/api/v1/browse/navigate", `{"url":"https://example.org"}`, false)
	body = `{"url":"https://example.org","title":"x","contentType":"text/plain","body":"free porn here"}`
	rec = s.do(t, http.MethodPost, "/api/v1/browse/page", body, false)
	decode(t, rec, &page)
	if page.Outcome != browsing.OutcomeBlocked {
		t.Fatalf("outcome = %s", page.Outcome)
	}
}

func TestBrowse_PageForBlockedURLAfterAllowedNavigation(t *testing.T) {
	s := newTestServer(t)
	if err := s.store.Block(context.Background(), "bad.com"); err != nil {
		t.Fatal(err)
	}

	s.do(t, http.MethodPost, "/api/v1/browse/navigate", `{"url":"https://example.com"}`, false)
	body := `{"url":"https://bad.com/secret","title":"x","contentType":"text/html","body":"<html><body><p>hello</p></body></html>"}`
	rec := s.do(t, http.MethodPost, "/api/v1/browse/page", body, false)
	var page struct {
		Outcome browsing.Outcome `json:"outcome"`
		Verdict safety.Verdict   `json:"verdict"`
		Content string           `json:"content"`
	}
	decode(t, rec, &page)
	if page.Outcome != browsing.OutcomeBlocked || page.Verdict.Reason != safety.ReasonBlockedList {
		t.Fatalf("page = %+v", page)
	}
	if strings.Contains(page.Content, "hello") {
		t.Errorf("blocked page content leaked: %q", page.Content)
	}
}

func TestNoticePage(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/blocked?reason=BLOCKED_LIST", "", false)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("notice = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "blocked this website") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestDiagnosticsMatch(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/diagnostics/match?text=casino+porn", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("match = %d", rec.Code)
	}
	var resp struct {
		Categories []string `json:"categories"`
	}
	decode(t, rec, &resp)
	if len(resp.Categories) != 2 || resp.Categories[0] != "adult" || resp.Categories[1] != "gambling" {
		t.Errorf("categories = %v", resp.Categories)
	}
}

func TestReadyz_Unhealthy(t *testing.T) {
	h := handlers.NewHealthHandler(map[string]handlers.ReadyCheck{
		"storage": func(context.Context) error { return errors.New("down") },
		"skipped": nil,
	})
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d", rec.Code)
	}
	var resp struct {
		Checks map[string]string `json:"checks"`
	}
	decode(t, rec, &resp)
	if len(resp.Checks) != 1 || !strings.Contains(resp.Checks["storage"], "down") {
		t.Errorf("checks = %v", resp.Checks)
	}
}
