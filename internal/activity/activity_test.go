package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memRepo struct {
	mu      sync.Mutex
	entries []Entry
	fail    bool
}

func (r *memRepo) LoadHistory(context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...), nil
}

func (r *memRepo) AppendHistory(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	r.entries = append(r.entries, e)
	return nil
}

func TestRecord_FillsAndPersists(t *testing.T) {
	repo := &memRepo{}
	l, err := NewLog(context.Background(), repo, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Record(context.Background(), Entry{URL: "https://www.kiddle.co", Title: "Kiddle"}); err != nil {
		t.Fatal(err)
	}
	all := l.All()
	if len(all) != 1 || all[0].ID == uuid.Nil || all[0].Timestamp.IsZero() {
		t.Fatalf("entries = %+v", all)
	}
	if len(repo.entries) != 1 || repo.entries[0].ID != all[0].ID {
		t.Fatal("entry not written through")
	}
}

func TestRecord_ChronologicalOrder(t *testing.T) {
	l, _ := NewLog(context.Background(), &memRepo{}, nil)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	_ = l.Record(context.Background(), Entry{URL: "a", Timestamp: base})
	_ = l.Record(context.Background(), Entry{URL: "b", Timestamp: base.Add(-time.Hour)})

	all := l.All()
	if all[0].URL != "a" || all[1].URL != "b" {
		t.Fatalf("insertion order lost: %+v", all)
	}
	if all[1].Timestamp.Before(all[0].Timestamp) {
		t.Fatal("timestamps must not go backwards")
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	l, _ := NewLog(context.Background(), &memRepo{}, nil)
	_ = l.Record(context.Background(), Entry{URL: "a"})
	all := l.All()
	all[0].URL = "tampered"
	if l.All()[0].URL != "a" {
		t.Fatal("All must not expose internal state")
	}
}

func TestRecent(t *testing.T) {
	l, _ := NewLog(context.Background(), &memRepo{}, nil)
	for _, u := range []string{"a", "b", "c", "d"} {
		_ = l.Record(context.Background(), Entry{URL: u})
	}
	got := l.Recent(2)
	if len(got) != 2 || got[0].URL != "c" || got[1].URL != "d" {
		t.Fatalf("recent = %+v", got)
	}
	if len(l.Recent(0)) != 4 || len(l.Recent(10)) != 4 {
		t.Fatal("limit handling")
	}
}

func TestRecord_StorageFailure(t *testing.T) {
	repo := &memRepo{}
	l, _ := NewLog(context.Background(), repo, nil)
	if err := l.Record(context.Background(), Entry{URL: "a"}); err != nil {
		t.Fatal(err)
	}

	repo.fail = true
	err := l.Record(context.Background(), Entry{URL: "b"})
	var sErr *StorageError
	if !errors.As(err, &sErr) || sErr.URL != "b" || !IsStorageError(err) {
		t.Fatalf("err = %v", err)
	}
	if l.Len() != 1 || l.All()[0].URL != "a" {
		t.Fatalf("failed entry visible in memory: %+v", l.All())
	}

	repo.fail = false
	if err := l.Record(context.Background(), Entry{URL: "c"}); err != nil {
		t.Fatal(err)
	}
	persisted, _ := repo.LoadHistory(context.Background())
	if len(persisted) != len(l.All()) {
		t.Fatalf("memory %d entries, store %d", l.Len(), len(persisted))
	}
}

func TestNewLog_LoadsExisting(t *testing.T) {
	repo := &memRepo{entries: []Entry{{ID: uuid.New(), URL: "old"}}}
	l, err := NewLog(context.Background(), repo, nil)
	if err != nil {
		t.Fatal(err)
	}
	if l.Len() != 1 || l.All()[0].URL != "old" {
		t.Fatalf("entries = %+v", l.All())
	}
}

func TestRecord_Concurrent(t *testing.T) {
	l, _ := NewLog(context.Background(), &memRepo{}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Record(context.Background(), Entry{URL: "x"})
		}()
	}
	wg.Wait()
	all := l.All()
	if len(all) != 100 {
		t.Fatalf("len = %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatal("out of order")
		}
	}
}
