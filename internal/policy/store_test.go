package policy

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/nikhilbhutani/safebrowse/pkg/urlnorm"
)

type memRepo struct {
	mu    sync.Mutex
	doc   Document
	found bool
	saves int
	fail  error
}

func (r *memRepo) LoadPolicy(context.Context) (Document, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc, r.found, nil
}

func (r *memRepo) SavePolicy(_ context.Context, doc Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.doc = doc
	r.found = true
	r.saves++
	return nil
}

func newTestStore(t *testing.T, repo *memRepo) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), repo, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestNewStore_PersistsDefaults(t *testing.T) {
	repo := &memRepo{}
	s := newTestStore(t, repo)
	if repo.saves != 1 || !repo.found {
		t.Fatalf("expected defaults to be persisted once, saves=%d", repo.saves)
	}
	if s.Current().AllowlistMode() {
		t.Fatal("empty policy must not be in allowlist mode")
	}
}

func TestNewStore_ConflictKeepsBlocked(t *testing.T) {
	repo := &memRepo{found: true, doc: Document{
		BlockedWebsites: []string{"bad.com"},
		AllowedWebsites: []string{"https://www.BAD.com/", "kiddle.co", "::nonsense"},
	}}
	s := newTestStore(t, repo)
	doc := s.Current().Document()
	if !reflect.DeepEqual(doc.BlockedWebsites, []string{"bad.com"}) {
		t.Fatalf("blocked = %v", doc.BlockedWebsites)
	}
	if !reflect.DeepEqual(doc.AllowedWebsites, []string{"kiddle.co"}) {
		t.Fatalf("allowed = %v", doc.AllowedWebsites)
	}
}

func TestBlockThenAllow_MutualExclusivity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &memRepo{})

	if err := s.Block(ctx, "https://games.example.com"); err != nil {
		t.Fatal(err)
	}
	if !s.IsBlocked("games.example.com") {
		t.Fatal("expected blocked")
	}
	if err := s.Allow(ctx, "games.example.com"); err != nil {
		t.Fatal(err)
	}
	if s.IsBlocked("https://games.example.com") {
		t.Fatal("allow must remove the entry from the block list")
	}
	if !s.IsExplicitlyAllowed("https://games.example.com/page") {
		t.Fatal("expected allowed")
	}
	if err := s.Block(ctx, "games.example.com"); err != nil {
		t.Fatal(err)
	}
	if s.IsExplicitlyAllowed("games.example.com") || !s.IsBlocked("games.example.com") {
		t.Fatal("block must remove the entry from the allow list")
	}
}

func TestBlock_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	s := newTestStore(t, repo)

	if err := s.Block(ctx, "bad.com"); err != nil {
		t.Fatal(err)
	}
	once := s.Current().Document()
	saves := repo.saves

	if err := s.Block(ctx, "HTTPS://BAD.COM/"); err != nil {
		t.Fatalf("second block must succeed: %v", err)
	}
	if !reflect.DeepEqual(once, s.Current().Document()) {
		t.Fatal("second block changed state")
	}
	if repo.saves != saves {
		t.Fatal("no-op block should not rewrite storage")
	}
}

func TestMutation_RollsBackOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	s := newTestStore(t, repo)
	if err := s.Block(ctx, "bad.com"); err != nil {
		t.Fatal(err)
	}

	repo.fail = errors.New("disk full")
	err := s.Allow(ctx, "bad.com")
	if !IsStorageError(err) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if !s.IsBlocked("bad.com") || s.IsExplicitlyAllowed("bad.com") {
		t.Fatal("failed mutation must leave memory unchanged")
	}
	if !reflect.DeepEqual(repo.doc.BlockedWebsites, []string{"bad.com"}) {
		t.Fatalf("storage changed: %+v", repo.doc)
	}
}

func TestMutation_InvalidEntry(t *testing.T) {
	s := newTestStore(t, &memRepo{})
	err := s.Block(context.Background(), "com")
	var mErr *urlnorm.MalformedURLError
	if !errors.As(err, &mErr) {
		t.Fatalf("expected MalformedURLError, got %v", err)
	}
}

func TestUnblockAndDisallow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &memRepo{})
	_ = s.Block(ctx, "a.com")
	_ = s.Allow(ctx, "b.com")

	if err := s.Unblock(ctx, "a.com"); err != nil {
		t.Fatal(err)
	}
	if err := s.Unblock(ctx, "a.com"); err != nil {
		t.Fatalf("unblock must be idempotent: %v", err)
	}
	if err := s.Disallow(ctx, "b.com"); err != nil {
		t.Fatal(err)
	}
	doc := s.Current().Document()
	if len(doc.BlockedWebsites) != 0 || len(doc.AllowedWebsites) != 0 {
		t.Fatalf("expected empty lists, got %+v", doc)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	s := newTestStore(t, repo)
	_ = s.Block(ctx, "bad.com")
	_ = s.Block(ctx, "worse.org/path")
	_ = s.Allow(ctx, "kiddle.co")

	reloaded := newTestStore(t, repo)
	if !reflect.DeepEqual(s.Current().Document(), reloaded.Current().Document()) {
		t.Fatalf("round trip mismatch: %+v vs %+v", s.Current().Document(), reloaded.Current().Document())
	}
}

func TestConcurrentMutationsStayExclusive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &memRepo{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = s.Block(ctx, "flip.com") }()
		go func() { defer wg.Done(); _ = s.Allow(ctx, "flip.com") }()
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := s.Current()
			tgt, _ := urlnorm.Parse("https://flip.com")
			if p.Blocked(tgt) && p.Allowed(tgt) {
				t.Error("snapshot shows entry in both lists")
			}
		}()
	}
	wg.Wait()
}

func TestPathEntriesCoverSubpaths(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &memRepo{})
	_ = s.Block(ctx, "example.com/games")

	if !s.IsBlocked("https://www.example.com/games/chess") {
		t.Fatal("expected path prefix to be blocked")
	}
	if s.IsBlocked("https://example.com/gamesx") || s.IsBlocked("https://example.com/") {
		t.Fatal("path entry must only cover its own segment")
	}
}
