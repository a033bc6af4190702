package events

import (
	"context"
	"driftbin/metrics"
	"driftbin/svc/util"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const publishTimeout = 2 * time.Second

var (
	ErrQueueFull = errors.New("event queue full")
	ErrClosed    = errors.New("event publisher closed")
)

// Async hands events to a single worker so callers never wait on the broker.
// When the queue is full the event is dropped.
type Async struct {
	next   Publisher
	queue  chan Event
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(next Publisher, size int) *Async {
	if size <= 0 {
		size = 1024
	}
	a := &Async{
		next:  next,
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
	go a.worker()
	return a
}

// Publish only enqueues; ctx is not passed on to the broker.
func (a *Async) Publish(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		metrics.EventsPublished.WithLabelValues(ev.Type, "dropped").Inc()
		return ErrQueueFull
	}
}
func (a *Async) worker() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := a.next.Publish(ctx, ev); err != nil {
			util.Warn().Err(err).Str("paste_id", ev.PasteID).Str("event", ev.Type).Msg("failed to publish paste event")
		}
		cancel()
	}
}

// Close drains queued events, then closes the wrapped publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
	return a.next.Close()
}
