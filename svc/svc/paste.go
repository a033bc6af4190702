package svc

import (
	"context"
	"driftbin/metrics"
	"driftbin/pkg/domain"
	"driftbin/svc/events"
	"driftbin/svc/util"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Store is the key-value surface the paste service needs. *db.Redis
// implements it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Paste owns id assignment, the stored record format and the sliding TTL.
// It holds no locks; the store serializes writes per key.
type Paste struct {
	store Store
	pub   events.Publisher
	now   func() time.Time
}

type Option func(*Paste)

func WithClock(now func() time.Time) Option {
	return func(p *Paste) { p.now = now }
}

func NewPaste(store Store, pub events.Publisher, opts ...Option) *Paste {
	if store == nil {
		panic("paste service: nil store")
	}
	if pub == nil {
		pub = events.Noop{}
	}
	p := &Paste{store: store, pub: pub, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Create stores content under a fresh id with the full TTL. Content is not
// validated; the empty string is a valid paste.
func (p *Paste) Create(ctx context.Context, content string) (string, error) {
	id, err := util.NewPasteID()
	if err != nil {
		return "", errors.Wrap(err, "gen id")
	}
	paste := domain.NewPaste(id, content, p.clock())
	if err := p.save(ctx, "create", id, paste); err != nil {
		return "", err
	}
	metrics.PasteCreated.Inc()
	p.publish(ctx, events.TypePasteCreated, id, paste.CreatedAt)
	return id, nil
}

// Get returns found=false for unknown or expired ids. A hit bumps
// last_accessed and re-arms the TTL before the paste is returned.
func (p *Paste) Get(ctx context.Context, id string) (*domain.Paste, bool, error) {
	data, found, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, false, p.fail(domain.KindConnection, "get", err)
	}
	if !found {
		metrics.PasteMisses.Inc()
		return nil, false, nil
	}
	var paste domain.Paste
	if err := json.Unmarshal(data, &paste); err != nil {
		return nil, false, p.fail(domain.KindSerialization, "get", errors.Wrap(err, "unmarshal paste"))
	}
	paste.Touch(p.clock())
	if err := p.save(ctx, "refresh", id, &paste); err != nil {
		return nil, false, err
	}
	metrics.PasteRetrieved.Inc()
	p.publish(ctx, events.TypePasteViewed, id, paste.LastAccessed)
	return &paste, true, nil
}

// Info is a Get (so it refreshes the TTL too) reduced to timestamps.
func (p *Paste) Info(ctx context.Context, id string) (*domain.Info, bool, error) {
	paste, found, err := p.Get(ctx, id)
	if err != nil || !found {
		return nil, found, err
	}
	return paste.Info(), true, nil
}
func (p *Paste) save(ctx context.Context, op, key string, paste *domain.Paste) error {
	data, err := json.Marshal(paste)
	if err != nil {
		return p.fail(domain.KindSerialization, op, errors.Wrap(err, "marshal paste"))
	}
	if err := p.store.PutWithTTL(ctx, key, data, domain.PasteTTL); err != nil {
		return p.fail(domain.KindConnection, op, err)
	}
	return nil
}
func (p *Paste) fail(kind domain.StoreErrKind, op string, err error) error {
	metrics.StoreErrors.WithLabelValues(kind.String()).Inc()
	return domain.NewStoreError(kind, op, err)
}

// clock strips the monotonic reading so values survive a JSON round trip
// unchanged.
func (p *Paste) clock() time.Time {
	return p.now().UTC()
}
// publish must not block; broker delivery is the publisher's concern
// (see events.Async).
func (p *Paste) publish(ctx context.Context, typ, id string, at time.Time) {
	if err := p.pub.Publish(context.WithoutCancel(ctx), events.Event{Type: typ, PasteID: id, At: at}); err != nil {
		util.Warn().Err(err).Str("paste_id", id).Str("event", typ).Msg("failed to publish paste event")
	}
}
