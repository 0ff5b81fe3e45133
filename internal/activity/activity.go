// Package activity keeps the append-only browsing history shown to parents.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one navigation event. Entries are never changed once recorded.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Verdict   string    `json:"verdict,omitempty"`
}

// StorageError reports that an entry could not be persisted. The entry is
// not added to the log.
type StorageError struct {
	URL string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history storage append %q: %v", e.URL, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var sErr *StorageError
	return errors.As(err, &sErr)
}

// Repository persists history. AppendHistory must be durable when it
// returns nil.
type Repository interface {
	LoadHistory(ctx context.Context) ([]Entry, error)
	AppendHistory(ctx context.Context, e Entry) error
}

// Log is the in-memory history backed by a Repository. Every Record is
// written through before it returns.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	repo    Repository
	now     func() time.Time
	log     *slog.Logger
}

// NewLog loads existing history. A missing store yields an empty log.
func NewLog(ctx context.Context, repo Repository, log *slog.Logger) (*Log, error) {
	if log == nil {
		log = slog.Default()
	}
	entries, err := repo.LoadHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return &Log{
		entries: entries,
		repo:    repo,
		now:     time.Now,
		log:     log.With("component", "activity"),
	}, nil
}

// Record appends e, filling in ID and Timestamp when unset. A timestamp
// earlier than the last entry is raised to it so insertion order stays
// chronological. The entry becomes visible only once it is persisted.
func (l *Log) Record(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if n := len(l.entries); n > 0 && e.Timestamp.Before(l.entries[n-1].Timestamp) {
		e.Timestamp = l.entries[n-1].Timestamp
	}

	if err := l.repo.AppendHistory(ctx, e); err != nil {
		l.log.Error("history entry not saved", "url", e.URL, "kind", "storage", "error", err)
		return &StorageError{URL: e.URL, Err: err}
	}
	l.entries = append(l.entries, e)
	return nil
}

// All returns a copy of every entry, oldest first.
func (l *Log) All() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Recent returns up to limit of the newest entries, oldest first.
// limit <= 0 returns everything.
func (l *Log) Recent(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if limit > 0 && len(l.entries) > limit {
		start = len(l.entries) - limit
	}
	out := make([]Entry, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
