package svc

import (
	"context"
	"driftbin/cfg"
	"driftbin/pkg/domain"
	"driftbin/svc/db"
	"driftbin/svc/events"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}
func (r *recordingPublisher) Close() error { return nil }

type testEnv struct {
	svc   *Paste
	mr    *miniredis.Miniredis
	clock *fakeClock
	pub   *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := db.NewRedis("redis://"+mr.Addr(), &cfg.Cfg{RedisTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	clock := &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}
	return &testEnv{
		svc:   NewPaste(rdb, pub, WithClock(clock.Now)),
		mr:    mr,
		clock: clock,
		pub:   pub,
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	contents := []string{
		"hello",
		"",
		"multi\nline\r\n\ttabbed",
		"<script>alert(1)</script> & ' \"",
		"unicode: héllo 世界 🚀",
		strings.Repeat("x", 256*1024),
	}
	for _, c := range contents {
		id, err := env.svc.Create(ctx, c)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		got, found, err := env.svc.Get(ctx, id)
		if err != nil || !found {
			t.Fatalf("Get(%s) = found %v, err %v", id, found, err)
		}
		if got.Content != c {
			t.Errorf("content mismatch for %.20q", c)
		}
		if got.ID != id {
			t.Errorf("ID = %q, want %q", got.ID, id)
		}
	}
}

func TestCreateStoresRecordWithTTL(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.svc.Create(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if ttl := env.mr.TTL(id); ttl != 172800*time.Second {
		t.Errorf("TTL = %v, want 172800s", ttl)
	}
	raw, err := env.mr.Get(id)
	if err != nil {
		t.Fatalf("record missing under bare id: %v", err)
	}
	var rec domain.Paste
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("stored record is not JSON: %v", err)
	}
	if !rec.CreatedAt.Equal(env.clock.Now()) || !rec.LastAccessed.Equal(rec.CreatedAt) {
		t.Errorf("timestamps = %v / %v", rec.CreatedAt, rec.LastAccessed)
	}
}

func TestGetRefreshesTTLAndTimestamp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.svc.Create(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	created := env.clock.Now()

	env.mr.FastForward(47 * time.Hour)
	env.clock.Advance(47 * time.Hour)
	if ttl := env.mr.TTL(id); ttl != time.Hour {
		t.Fatalf("TTL before read = %v", ttl)
	}

	got, found, err := env.svc.Get(ctx, id)
	if err != nil || !found {
		t.Fatalf("Get = %v, %v", found, err)
	}
	if ttl := env.mr.TTL(id); ttl != domain.PasteTTL {
		t.Errorf("TTL after read = %v, want full window", ttl)
	}
	if !got.LastAccessed.Equal(created.Add(47 * time.Hour)) {
		t.Errorf("last_accessed = %v", got.LastAccessed)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at changed to %v", got.CreatedAt)
	}

	env.mr.FastForward(47 * time.Hour)
	env.clock.Advance(47 * time.Hour)
	if _, found, err := env.svc.Get(ctx, id); err != nil || !found {
		t.Fatalf("paste read just before expiry vanished: found=%v err=%v", found, err)
	}
}

func TestGetMissIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"nonexistent", "", "../../etc/passwd", "with space", strings.Repeat("z", 1000)} {
		p, found, err := env.svc.Get(ctx, id)
		if err != nil || found || p != nil {
			t.Errorf("Get(%.20q) = %v, %v, %v", id, p, found, err)
		}
	}

	id, err := env.svc.Create(ctx, "short lived")
	if err != nil {
		t.Fatal(err)
	}
	env.mr.FastForward(domain.PasteTTL + time.Second)
	if _, found, err := env.svc.Get(ctx, id); err != nil || found {
		t.Errorf("expired paste: found=%v err=%v", found, err)
	}
}

func TestTimestampMonotonicity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.svc.Create(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(time.Second)
	first, _, err := env.svc.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if first.LastAccessed.Before(first.CreatedAt) {
		t.Fatalf("last_accessed %v before created_at %v", first.LastAccessed, first.CreatedAt)
	}

	env.clock.Advance(-time.Hour)
	second, _, err := env.svc.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if second.LastAccessed.Before(first.LastAccessed) {
		t.Errorf("last_accessed went backwards: %v -> %v", first.LastAccessed, second.LastAccessed)
	}
}

func TestScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	x, err := env.svc.Create(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if x == "" {
		t.Fatal("empty id")
	}
	y, err := env.svc.Create(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if x == y {
		t.Fatal("ids are not unique")
	}
	t0 := env.clock.Now()

	env.clock.Advance(time.Millisecond)
	p1, found, err := env.svc.Get(ctx, x)
	if err != nil || !found {
		t.Fatalf("Get(X) = %v, %v", found, err)
	}
	if p1.ID != x || p1.Content != "hello" || !p1.CreatedAt.Equal(t0) || p1.LastAccessed.Before(t0) {
		t.Errorf("first read = %+v", p1)
	}

	if _, found, err := env.svc.Get(ctx, "nonexistent"); err != nil || found {
		t.Errorf("Get(nonexistent) = %v, %v", found, err)
	}

	env.clock.Advance(time.Millisecond)
	p2, found, err := env.svc.Get(ctx, x)
	if err != nil || !found {
		t.Fatalf("second Get(X) = %v, %v", found, err)
	}
	if p2.Content != "hello" || p2.LastAccessed.Before(p1.LastAccessed) {
		t.Errorf("second read = %+v", p2)
	}
}

func TestRepeatedReadsReturnSameContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, err := env.svc.Create(ctx, "stable")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		env.clock.Advance(time.Minute)
		p, found, err := env.svc.Get(ctx, id)
		if err != nil || !found || p.Content != "stable" {
			t.Fatalf("read %d: %+v found=%v err=%v", i, p, found, err)
		}
	}
}

func TestConcurrentReadsLeaveConsistentRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, err := env.svc.Create(ctx, "shared")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, found, err := env.svc.Get(ctx, id)
			if err != nil {
				errs <- err
				return
			}
			if !found || p.Content != "shared" {
				errs <- errors.New("bad concurrent read")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	raw, err := env.mr.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	var rec domain.Paste
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("record corrupted by concurrent writes: %v", err)
	}
	if rec.Content != "shared" || env.mr.TTL(id) != domain.PasteTTL {
		t.Errorf("final record = %+v ttl=%v", rec, env.mr.TTL(id))
	}
}

func TestGetCorruptRecordIsSerializationError(t *testing.T) {
	env := newTestEnv(t)
	env.mr.Set("broken", "{not json")

	_, found, err := env.svc.Get(context.Background(), "broken")
	if err == nil {
		t.Fatal("expected error for corrupt record")
	}
	if found {
		t.Error("found must be false on error")
	}
	if !errors.Is(err, domain.ErrSerialization) || errors.Is(err, domain.ErrStoreConnection) {
		t.Errorf("error kind = %v", err)
	}
}

func TestStoreDownIsConnectionError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mr.Close()

	if _, err := env.svc.Create(ctx, "x"); !errors.Is(err, domain.ErrStoreConnection) {
		t.Errorf("Create error = %v, want connection kind", err)
	}
	_, found, err := env.svc.Get(ctx, "x")
	if !errors.Is(err, domain.ErrStoreConnection) {
		t.Errorf("Get error = %v, want connection kind", err)
	}
	if found {
		t.Error("found must be false on error")
	}
}

type failingPutStore struct {
	data []byte
}

func (s *failingPutStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.data, true, nil
}
func (s *failingPutStore) PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("connection reset by peer")
}

func TestRefreshWriteFailureSurfaces(t *testing.T) {
	rec, _ := json.Marshal(domain.NewPaste("k", "v", time.Now().UTC()))
	p := NewPaste(&failingPutStore{data: rec}, nil)

	_, found, err := p.Get(context.Background(), "k")
	if !errors.Is(err, domain.ErrStoreConnection) || found {
		t.Errorf("Get = found %v, err %v", found, err)
	}
}

func TestInfoDerivesExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, err := env.svc.Create(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(3 * time.Hour)

	info, found, err := env.svc.Info(ctx, id)
	if err != nil || !found {
		t.Fatalf("Info = %v, %v", found, err)
	}
	if !info.ExpiresAt.Equal(info.LastAccessed.Add(48 * time.Hour)) {
		t.Errorf("expires_at = %v, last_accessed = %v", info.ExpiresAt, info.LastAccessed)
	}
	if !info.LastAccessed.Equal(env.clock.Now()) {
		t.Errorf("Info should refresh last_accessed: %v", info.LastAccessed)
	}

	if info, found, err := env.svc.Info(ctx, "nonexistent"); info != nil || found || err != nil {
		t.Errorf("Info(nonexistent) = %v, %v, %v", info, found, err)
	}
}

func TestEventsPublished(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, err := env.svc.Create(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.svc.Get(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.svc.Get(ctx, "nonexistent"); err != nil {
		t.Fatal(err)
	}

	if len(env.pub.events) != 2 {
		t.Fatalf("published %d events, want 2", len(env.pub.events))
	}
	if env.pub.events[0].Type != events.TypePasteCreated || env.pub.events[1].Type != events.TypePasteViewed {
		t.Errorf("event types = %s, %s", env.pub.events[0].Type, env.pub.events[1].Type)
	}
	for _, ev := range env.pub.events {
		if ev.PasteID != id {
			t.Errorf("event paste id = %q", ev.PasteID)
		}
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	env := newTestEnv(t)
	env.pub.err = errors.New("broker down")

	id, err := env.svc.Create(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Create failed because of broker: %v", err)
	}
	if _, found, err := env.svc.Get(context.Background(), id); err != nil || !found {
		t.Fatalf("Get failed because of broker: %v", err)
	}
}

func TestNewPasteNilStorePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil store")
		}
	}()
	NewPaste(nil, nil)
}

type stalledPublisher struct{ release chan struct{} }

func (s *stalledPublisher) Publish(ctx context.Context, ev events.Event) error {
	<-s.release
	return nil
}
func (s *stalledPublisher) Close() error { return nil }

func TestStalledBrokerDoesNotDelayStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := db.NewRedis("redis://"+mr.Addr(), &cfg.Cfg{RedisTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	defer rdb.Close()
	broker := &stalledPublisher{release: make(chan struct{})}
	pub := events.NewAsync(broker, 1)
	defer func() {
		close(broker.release)
		pub.Close()
	}()
	p := NewPaste(rdb, pub)

	start := time.Now()
	id, err := p.Create(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, found, err := p.Get(context.Background(), id); err != nil || !found {
			t.Fatalf("Get = found %v, err %v", found, err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("storage calls took %v behind a stalled broker", elapsed)
	}
}
