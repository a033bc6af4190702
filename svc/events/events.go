package events

import (
	"context"
	"time"
)

const (
	TypePasteCreated = "paste.created"
	TypePasteViewed  = "paste.viewed"
)

// Event never carries paste content.
type Event struct {
	Type    string    `json:"type"`
	PasteID string    `json:"paste_id"`
	At      time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
