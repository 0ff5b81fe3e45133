package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/safebrowse/internal/activity"
	"github.com/nikhilbhutani/safebrowse/internal/policy"
)

const (
	listBlocked = "blocked"
	listAllowed = "allowed"
)

// PostgresStore persists the lists and the history in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LoadPolicy(ctx context.Context) (policy.Document, bool, error) {
	var found bool
	if err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM policy_state WHERE id = 1)").Scan(&found); err != nil {
		return policy.Document{}, false, fmt.Errorf("check policy state: %w", err)
	}
	if !found {
		return policy.Document{}, false, nil
	}

	rows, err := s.db.Query(ctx, "SELECT entry, list FROM policy_entries ORDER BY entry")
	if err != nil {
		return policy.Document{}, false, fmt.Errorf("query policy entries: %w", err)
	}
	defer rows.Close()

	doc := policy.Document{BlockedWebsites: []string{}, AllowedWebsites: []string{}}
	for rows.Next() {
		var entry, list string
		if err := rows.Scan(&entry, &list); err != nil {
			return policy.Document{}, false, fmt.Errorf("scan policy entry: %w", err)
		}
		switch list {
		case listBlocked:
			doc.BlockedWebsites = append(doc.BlockedWebsites, entry)
		case listAllowed:
			doc.AllowedWebsites = append(doc.AllowedWebsites, entry)
		}
	}
	if err := rows.Err(); err != nil {
		return policy.Document{}, false, fmt.Errorf("read policy entries: %w", err)
	}
	return doc, true, nil
}

// SavePolicy replaces both lists in one transaction.
func (s *PostgresStore) SavePolicy(ctx context.Context, doc policy.Document) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin policy tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM policy_entries"); err != nil {
		return fmt.Errorf("clear policy entries: %w", err)
	}

	rows := make([][]any, 0, len(doc.BlockedWebsites)+len(doc.AllowedWebsites))
	for _, e := range doc.BlockedWebsites {
		rows = append(rows, []any{e, listBlocked})
	}
	for _, e := range doc.AllowedWebsites {
		rows = append(rows, []any{e, listAllowed})
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"policy_entries"}, []string{"entry", "list"}, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("insert policy entries: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO policy_state (id, updated_at) VALUES (1, now())
		ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at
	`); err != nil {
		return fmt.Errorf("update policy state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit policy tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadHistory(ctx context.Context) ([]activity.Entry, error) {
	rows, err := s.db.Query(ctx, "SELECT id, visited_at, url, title, verdict FROM activity_log ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query activity log: %w", err)
	}
	defer rows.Close()

	var entries []activity.Entry
	for rows.Next() {
		var e activity.Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.URL, &e.Title, &e.Verdict); err != nil {
			return nil, fmt.Errorf("scan activity entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) AppendHistory(ctx context.Context, e activity.Entry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO activity_log (id, visited_at, url, title, verdict)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.Timestamp, e.URL, e.Title, e.Verdict)
	if err != nil {
		return fmt.Errorf("insert activity entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
