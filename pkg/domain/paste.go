package domain

import (
	"time"
)

// PasteTTL is the sliding expiration window. Every create and every read
// re-arms the store TTL to this value.
const PasteTTL = 48 * time.Hour

// Paste is the persisted record, stored as JSON under its ID.
type Paste struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Info is derived at response time and never persisted. ExpiresAt can drift
// from the store's own TTL clock if PasteTTL changes between writes.
type Info struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func NewPaste(id, content string, now time.Time) *Paste {
	return &Paste{
		ID:           id,
		Content:      content,
		CreatedAt:    now,
		LastAccessed: now,
	}
}

// Touch bumps LastAccessed to now, never moving it backwards.
func (p *Paste) Touch(now time.Time) {
	if now.After(p.LastAccessed) {
		p.LastAccessed = now
	}
}
func (p *Paste) Info() *Info {
	return &Info{
		ID:           p.ID,
		CreatedAt:    p.CreatedAt,
		LastAccessed: p.LastAccessed,
		ExpiresAt:    p.LastAccessed.Add(PasteTTL),
	}
}
