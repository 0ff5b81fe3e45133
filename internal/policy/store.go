package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nikhilbhutani/safebrowse/pkg/urlnorm"
)

// Repository is the durable home of the list document.
type Repository interface {
	// LoadPolicy returns the stored document, or found=false if none exists.
	LoadPolicy(ctx context.Context) (doc Document, found bool, err error)
	// SavePolicy replaces the stored document in full.
	SavePolicy(ctx context.Context, doc Document) error
}

// Store is the thread-safe owner of the lists.
type Store struct {
	mu      sync.Mutex // serialises mutations
	current atomic.Pointer[Policy]
	repo    Repository
	log     *slog.Logger
}

// NewStore loads the lists from repo. A missing document is initialised
// with empty lists and persisted immediately.
func NewStore(ctx context.Context, repo Repository, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{repo: repo, log: log.With("component", "policy")}

	doc, found, err := repo.LoadPolicy(ctx)
	if err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}

	p := newPolicy()
	if found {
		var skipped, conflicts []string
		p, skipped, conflicts = fromDocument(doc)
		if len(skipped) > 0 {
			s.log.Warn("dropped unparseable policy entries", "entries", skipped)
		}
		if len(conflicts) > 0 {
			s.log.Warn("entries listed as both blocked and allowed, keeping blocked", "entries", conflicts)
		}
	} else {
		if err := repo.SavePolicy(ctx, p.Document()); err != nil {
			return nil, &StorageError{Op: "init", Err: err}
		}
		s.log.Info("initialised empty policy")
	}

	s.current.Store(p)
	return s, nil
}

// Current returns the live snapshot. It is never mutated.
func (s *Store) Current() *Policy { return s.current.Load() }

// IsBlocked reports whether url is covered by the block list.
func (s *Store) IsBlocked(url string) bool {
	t, err := urlnorm.Parse(urlnorm.NormalizeInput(url))
	if err != nil {
		return false
	}
	return s.Current().Blocked(t)
}

// IsExplicitlyAllowed reports whether url is covered by the allow list.
func (s *Store) IsExplicitlyAllowed(url string) bool {
	t, err := urlnorm.Parse(urlnorm.NormalizeInput(url))
	if err != nil {
		return false
	}
	return s.Current().Allowed(t)
}

// Block adds url to the block list, removing it from the allow list.
// Blocking an already blocked entry succeeds without writing.
func (s *Store) Block(ctx context.Context, url string) error {
	return s.mutate(ctx, "block", url, func(p *Policy, e string) bool {
		if _, had := p.blocked[e]; had {
			return false
		}
		p.blocked[e] = struct{}{}
		delete(p.allowed, e)
		return true
	})
}

// Allow adds url to the allow list, removing it from the block list.
func (s *Store) Allow(ctx context.Context, url string) error {
	return s.mutate(ctx, "allow", url, func(p *Policy, e string) bool {
		if _, had := p.allowed[e]; had {
			return false
		}
		p.allowed[e] = struct{}{}
		delete(p.blocked, e)
		return true
	})
}

// Unblock removes url from the block list.
func (s *Store) Unblock(ctx context.Context, url string) error {
	return s.mutate(ctx, "unblock", url, func(p *Policy, e string) bool {
		if _, ok := p.blocked[e]; !ok {
			return false
		}
		delete(p.blocked, e)
		return true
	})
}

// Disallow removes url from the allow list.
func (s *Store) Disallow(ctx context.Context, url string) error {
	return s.mutate(ctx, "disallow", url, func(p *Policy, e string) bool {
		if _, ok := p.allowed[e]; !ok {
			return false
		}
		delete(p.allowed, e)
		return true
	})
}

// mutate applies fn to a copy of the current lists, persists the copy and
// only then publishes it. fn reports whether anything changed.
func (s *Store) mutate(ctx context.Context, op, url string, fn func(p *Policy, entry string) bool) error {
	entry, err := urlnorm.Entry(url)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().clone()
	if !fn(next, entry) {
		s.log.Debug("policy unchanged", "op", op, "entry", entry)
		return nil
	}

	if err := s.repo.SavePolicy(ctx, next.Document()); err != nil {
		s.log.Error("policy not saved, change rolled back", "op", op, "entry", entry, "error", err)
		return &StorageError{Op: op, Entry: entry, Err: err}
	}

	s.current.Store(next)
	s.log.Info("policy updated", "op", op, "entry", entry)
	return nil
}
