// Package journal keeps an append-only record of account and warming
// lifecycle events for the dashboard history view. Message content is never
// stored here.
package journal

import (
	"context"
	"time"
)

type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
