package outbound

import (
	"context"
	"time"
)

// Notification is the record pushed to the user-facing feed when a campaign
// reaches a terminal status. Writes are fire-and-forget: a failed write is
// logged and never fails the campaign.
type Notification struct {
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Link      string    `json:"link"`
	CreatedAt time.Time `json:"createdAt"`
}

type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) error { return nil }

// NopNotifier discards notifications. It is the default when no feed is
// configured.
func NopNotifier() Notifier { return nopNotifier{} }
