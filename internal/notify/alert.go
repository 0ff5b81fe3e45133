// Package notify delivers parent alerts about denied navigations and
// blocked pages to a signed webhook.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Alert kinds.
const (
	KindNavigationDenied = "navigation_denied"
	KindPageBlocked      = "page_blocked"
)

// Alert is the webhook payload.
type Alert struct {
	ID       uuid.UUID `json:"id"`
	Kind     string    `json:"kind"`
	Time     time.Time `json:"time"`
	URL      string    `json:"url"`
	Title    string    `json:"title,omitempty"`
	Reason   string    `json:"reason"`
	Category string    `json:"category,omitempty"`
}

// Notifier hands an alert to a delivery mechanism. Implementations must not
// block the caller on network I/O.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Notify(context.Context, Alert) error { return nil }

func (a *Alert) fill() {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Time.IsZero() {
		a.Time = time.Now().UTC()
	}
}
