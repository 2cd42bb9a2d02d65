package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPresenceWorkers = 16
	defaultPresenceTimeout = 5 * time.Second

	opSetPresence      = "set_presence"
	opMembershipLookup = "membership_lookup"
)

var tracer = otel.Tracer("github.com/nirjar1012/newChat/cmd/internal/realtime")

type presenceIntent struct {
	status PresenceStatus
	at     time.Time
}

// PresenceSync mirrors presence transitions into the external store.
//
// MarkOnline and MarkOffline never block on the store: they record the intent and a
// dispatcher hands the user to a bounded worker pool, waiting for a free worker when
// all of them are busy. Each intent gets a single attempt. Writes for one user are
// serialized and coalesced, so only the most recent pending transition is written and
// an older one can never land after a newer one. Failures are logged and counted,
// never returned.
type PresenceSync struct {
	log     *slog.Logger
	store   PresenceStore
	pool    *ants.Pool
	timeout time.Duration
	metrics *Metrics
	tracer  trace.Tracer

	mu       sync.Mutex
	pending  map[string]presenceIntent
	inflight map[string]struct{} // queued or owned by a worker
	queue    []string
	closed   bool
	wg       sync.WaitGroup

	wake       chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	dispatched chan struct{}
}

// PresenceSyncOption configures a PresenceSync.
type PresenceSyncOption func(*presenceSyncConfig)

type presenceSyncConfig struct {
	workers int
	timeout time.Duration
	metrics *Metrics
}

// WithPresenceWorkers bounds concurrent store writes (default 16).
func WithPresenceWorkers(n int) PresenceSyncOption {
	return func(c *presenceSyncConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithPresenceTimeout bounds a single store write (default 5s).
func WithPresenceTimeout(d time.Duration) PresenceSyncOption {
	return func(c *presenceSyncConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPresenceMetrics records store outcomes on m.
func WithPresenceMetrics(m *Metrics) PresenceSyncOption {
	return func(c *presenceSyncConfig) { c.metrics = m }
}

// NewPresenceSync constructs a PresenceSync writing to store.
// A nil store yields a PresenceSync that discards every transition.
func NewPresenceSync(log *slog.Logger, store PresenceStore, opts ...PresenceSyncOption) (*PresenceSync, error) {
	if log == nil {
		log = slog.Default()
	}

	cfg := presenceSyncConfig{workers: defaultPresenceWorkers, timeout: defaultPresenceTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	// Blocking submit: only the dispatcher submits, so only it ever waits for a worker.
	pool, err := ants.NewPool(cfg.workers,
		ants.WithPanicHandler(func(v any) {
			log.Error("presence.sync.panic", "panic", v)
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "realtime: presence pool")
	}

	p := &PresenceSync{
		log:        log,
		store:      store,
		pool:       pool,
		timeout:    cfg.timeout,
		metrics:    cfg.metrics,
		tracer:     tracer,
		pending:    make(map[string]presenceIntent),
		inflight:   make(map[string]struct{}),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		dispatched: make(chan struct{}),
	}
	go p.dispatch()
	return p, nil
}

// MarkOnline schedules an "online" write for userID.
func (p *PresenceSync) MarkOnline(userID string, at time.Time) {
	p.enqueue(userID, presenceIntent{status: StatusOnline, at: at})
}

// MarkOffline schedules an "offline" write for userID with its last-seen time.
func (p *PresenceSync) MarkOffline(userID string, lastSeenAt time.Time) {
	p.enqueue(userID, presenceIntent{status: StatusOffline, at: lastSeenAt})
}

func (p *PresenceSync) enqueue(userID string, in presenceIntent) {
	if p == nil || p.store == nil || userID == "" {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.metrics.storeOp(opSetPresence, "dropped", 0)
		return
	}
	p.pending[userID] = in
	if _, busy := p.inflight[userID]; busy {
		// Whoever owns the user picks up the newer intent.
		p.mu.Unlock()
		return
	}
	p.inflight[userID] = struct{}{}
	p.queue = append(p.queue, userID)
	p.wg.Add(1)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// dispatch hands queued users to the pool, one drain task per user.
func (p *PresenceSync) dispatch() {
	defer close(p.dispatched)

	for {
		select {
		case <-p.stop:
			return
		case <-p.wake:
		}

		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			userID := p.queue[0]
			p.queue[0] = ""
			p.queue = p.queue[1:]
			p.mu.Unlock()

			if err := p.pool.Submit(func() { p.drain(userID) }); err != nil {
				p.abandon(userID, err)
			}
		}
	}
}

// abandon drops userID's pending intent once the pool refuses work (it was released).
func (p *PresenceSync) abandon(userID string, err error) {
	p.mu.Lock()
	in := p.pending[userID]
	delete(p.pending, userID)
	delete(p.inflight, userID)
	p.mu.Unlock()
	p.wg.Done()

	p.log.Warn("presence.sync.drop", "user_id", userID, "status", string(in.status), "err", err)
	p.metrics.storeOp(opSetPresence, "dropped", 0)
}

func (p *PresenceSync) drain(userID string) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		in, ok := p.pending[userID]
		if !ok {
			delete(p.inflight, userID)
			p.mu.Unlock()
			return
		}
		delete(p.pending, userID)
		p.mu.Unlock()

		p.write(userID, in)
	}
}

func (p *PresenceSync) write(userID string, in presenceIntent) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("presence.sync.panic", "user_id", userID, "panic", r)
			p.metrics.storeOp(opSetPresence, "error", 0)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "presence.sync", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("status", string(in.status)),
	))
	defer span.End()

	start := time.Now()
	err := p.store.SetUserPresence(ctx, userID, in.status, in.at)
	took := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "set presence failed")
		p.log.Warn("presence.sync.fail", "user_id", userID, "status", string(in.status), "took_ms", took.Milliseconds(), "err", err)
		p.metrics.storeOp(opSetPresence, "error", took)
		return
	}

	p.log.Debug("presence.sync.ok", "user_id", userID, "status", string(in.status))
	p.metrics.storeOp(opSetPresence, "ok", took)
}

// Close stops accepting transitions and waits for queued writes until ctx is done.
// Writes still queued when ctx ends are dropped.
func (p *PresenceSync) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "realtime: presence sync drain")
	}

	p.stopOnce.Do(func() {
		// Release first: it unblocks a dispatcher waiting for a worker.
		p.pool.Release()
		close(p.stop)
		select {
		case p.wake <- struct{}{}:
		default:
		}
	})
	<-p.dispatched
	return err
}
