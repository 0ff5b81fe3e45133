// Package policy holds the parental block and allow lists.
//
// Readers get lock-free immutable snapshots; writers are serialised and
// persist the full list document before the new snapshot becomes visible,
// so memory and storage never disagree about a completed edit.
package policy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nikhilbhutani/safebrowse/pkg/urlnorm"
)

// Document is the persisted form of the lists.
type Document struct {
	BlockedWebsites []string `json:"blockedWebsites"`
	AllowedWebsites []string `json:"allowedWebsites"`
}

// StorageError reports that a list mutation could not be persisted. The
// in-memory lists are left as they were before the mutation.
type StorageError struct {
	Op    string
	Entry string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("policy storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("policy storage %s %q: %v", e.Op, e.Entry, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var sErr *StorageError
	return errors.As(err, &sErr)
}

// Policy is an immutable view of both lists. An entry is never in both.
type Policy struct {
	blocked map[string]struct{}
	allowed map[string]struct{}
}

func newPolicy() *Policy {
	return &Policy{
		blocked: make(map[string]struct{}),
		allowed: make(map[string]struct{}),
	}
}

func (p *Policy) clone() *Policy {
	c := &Policy{
		blocked: make(map[string]struct{}, len(p.blocked)),
		allowed: make(map[string]struct{}, len(p.allowed)),
	}
	for k := range p.blocked {
		c.blocked[k] = struct{}{}
	}
	for k := range p.allowed {
		c.allowed[k] = struct{}{}
	}
	return c
}

// AllowlistMode reports whether only allow-listed destinations are permitted.
func (p *Policy) AllowlistMode() bool { return len(p.allowed) > 0 }

// Blocked reports whether any block-list entry covers t.
func (p *Policy) Blocked(t *urlnorm.Target) bool { return covers(p.blocked, t) }

// Allowed reports whether any allow-list entry covers t.
func (p *Policy) Allowed(t *urlnorm.Target) bool { return covers(p.allowed, t) }

// Document returns the sorted lists.
func (p *Policy) Document() Document {
	return Document{
		BlockedWebsites: sortedKeys(p.blocked),
		AllowedWebsites: sortedKeys(p.allowed),
	}
}

func covers(set map[string]struct{}, t *urlnorm.Target) bool {
	if len(set) == 0 || t == nil {
		return false
	}
	for _, key := range t.Candidates() {
		if _, ok := set[key]; ok {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// fromDocument canonicalises a loaded document. Unparseable entries are
// returned as skipped; an entry present in both lists stays blocked.
func fromDocument(doc Document) (p *Policy, skipped []string, conflicts []string) {
	p = newPolicy()
	for _, raw := range doc.BlockedWebsites {
		e, err := urlnorm.Entry(raw)
		if err != nil {
			skipped = append(skipped, raw)
			continue
		}
		p.blocked[e] = struct{}{}
	}
	for _, raw := range doc.AllowedWebsites {
		e, err := urlnorm.Entry(raw)
		if err != nil {
			skipped = append(skipped, raw)
			continue
		}
		if _, dup := p.blocked[e]; dup {
			conflicts = append(conflicts, e)
			continue
		}
		p.allowed[e] = struct{}{}
	}
	return p, skipped, conflicts
}
