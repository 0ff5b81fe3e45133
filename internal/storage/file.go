// Package storage holds the durable backends for the policy document and
// the activity history.
package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/safebrowse/internal/activity"
	"github.com/nikhilbhutani/safebrowse/internal/policy"
)

const (
	policyFile        = "parental_controls.json"
	historyFile       = "history.jsonl"
	legacyHistoryFile = "browsing_history.json"
)

// FileStore keeps the policy as one JSON document and the history as
// JSON lines inside a data directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
	log *slog.Logger
}

// fileDocument also accepts the older snake_case keys.
type fileDocument struct {
	BlockedWebsites []string `json:"blockedWebsites"`
	AllowedWebsites []string `json:"allowedWebsites"`
	LegacyBlocked   []string `json:"blocked_websites,omitempty"`
	LegacyAllowed   []string `json:"allowed_websites,omitempty"`
}

func NewFileStore(dir string, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &FileStore{dir: dir, log: log.With("component", "file_store")}, nil
}

func (s *FileStore) path(name string) string { return filepath.Join(s.dir, name) }

func (s *FileStore) LoadPolicy(_ context.Context) (policy.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(policyFile))
	if errors.Is(err, fs.ErrNotExist) {
		return policy.Document{}, false, nil
	}
	if err != nil {
		return policy.Document{}, false, fmt.Errorf("read policy: %w", err)
	}

	var fd fileDocument
	if err := json.Unmarshal(data, &fd); err != nil {
		return policy.Document{}, false, fmt.Errorf("parse policy %s: %w", policyFile, err)
	}
	doc := policy.Document{BlockedWebsites: fd.BlockedWebsites, AllowedWebsites: fd.AllowedWebsites}
	if doc.BlockedWebsites == nil && doc.AllowedWebsites == nil && (fd.LegacyBlocked != nil || fd.LegacyAllowed != nil) {
		s.log.Info("reading legacy policy format")
		doc = policy.Document{BlockedWebsites: fd.LegacyBlocked, AllowedWebsites: fd.LegacyAllowed}
	}
	return doc, true, nil
}

func (s *FileStore) SavePolicy(_ context.Context, doc policy.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.BlockedWebsites == nil {
		doc.BlockedWebsites = []string{}
	}
	if doc.AllowedWebsites == nil {
		doc.AllowedWebsites = []string{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	return writeAtomic(s.path(policyFile), data)
}

// writeAtomic writes to a temp file, syncs it and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	return nil
}

func (s *FileStore) LoadHistory(_ context.Context) ([]activity.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path(historyFile))
	if errors.Is(err, fs.ErrNotExist) {
		return s.importLegacyHistory()
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var entries []activity.Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e activity.Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			s.log.Warn("skipping corrupt history line", "line", line, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}

func (s *FileStore) AppendHistory(_ context.Context, e activity.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	return appendLines(s.path(historyFile), [][]byte{line})
}

func appendLines(path string, lines [][]byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}

type legacyEntry struct {
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
	Title     string `json:"title"`
}

// Naive ISO-8601 layouts, read as local time.
var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseLegacyTime(s string) (time.Time, bool) {
	for _, layout := range legacyLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// importLegacyHistory converts browsing_history.json, if present, into the
// JSON lines file. The legacy file is left untouched.
func (s *FileStore) importLegacyHistory() ([]activity.Entry, error) {
	data, err := os.ReadFile(s.path(legacyHistoryFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read legacy history: %w", err)
	}
	var legacy []legacyEntry
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("parse legacy history: %w", err)
	}

	entries := make([]activity.Entry, 0, len(legacy))
	lines := make([][]byte, 0, len(legacy))
	var last time.Time
	for _, le := range legacy {
		ts, ok := parseLegacyTime(le.Timestamp)
		if !ok || ts.Before(last) {
			ts = last
		}
		last = ts
		e := activity.Entry{ID: uuid.New(), Timestamp: ts, URL: le.URL, Title: le.Title}
		line, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal history entry: %w", err)
		}
		entries = append(entries, e)
		lines = append(lines, line)
	}
	if len(lines) > 0 {
		if err := appendLines(s.path(historyFile), lines); err != nil {
			return nil, err
		}
	}
	s.log.Info("imported legacy history", "entries", len(entries))
	return entries, nil
}
