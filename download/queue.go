package download

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/a-h/airgap/airgaperr"
	"github.com/a-h/airgap/events"
)

// Options configures a Queue.
type Options struct {
	// Concurrency is the worker count; default 3, valid range 1-16.
	Concurrency int
	// MaxRetries is the per-item retry cap; default 3.
	MaxRetries int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.Concurrency > 16 {
		o.Concurrency = 16
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 30 * time.Second
	}
	return o
}

type queueState int

const (
	stateIdle queueState = iota
	stateRunning
	statePaused
	stateCancelled
)

// Queue is the bounded-concurrency download executor:
// FIFO dispatch with a priority override (smaller artifacts first),
// pause/resume/cancel, and per-item retries with exponential backoff plus
// jitter.
type Queue struct {
	downloader *Downloader
	bus        *events.Bus
	opts       Options

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*Item
	state   queueState
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewQueue(downloader *Downloader, bus *events.Bus, opts Options) *Queue {
	q := &Queue{downloader: downloader, bus: bus, opts: opts.withDefaults(), state: stateIdle}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends items to the pending list, re-sorting the batch so
// smaller artifacts are dispatched first within it; items
// already in flight are unaffected.
func (q *Queue) Enqueue(items []*Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := append([]*Item{}, items...)
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].SizeHint < batch[j].SizeHint })
	q.pending = append(q.pending, batch...)
	q.cond.Broadcast()
}

// Close tells the queue no further Enqueue calls are coming; workers then
// exit once the pending list drains, instead of waiting for more items.
// Required for the orchestrator's streaming enqueue.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Depth reports the number of items waiting for a worker, used by the
// orchestrator to cap queue depth at 4 x concurrency.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start launches opts.Concurrency workers that drain the pending list
// until it's empty and Close has been called. Start returns immediately; call Wait to block until every worker
// has exited.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.state = stateRunning
	q.mu.Unlock()

	// Wake any worker blocked waiting for items when the context ends, so
	// cancellation propagates within the 2s bound.
	go func() {
		<-ctx.Done()
		q.cond.Broadcast()
	}()

	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Wait blocks until every worker has exited (queue drained, or cancelled).
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Pause stops dispatch of new items until Resume. Downloads already in
// flight are not suspended: they run to completion (or failure) while
// paused.
func (q *Queue) Pause() {
	q.mu.Lock()
	if q.state == stateRunning {
		q.state = statePaused
	}
	q.mu.Unlock()
}

func (q *Queue) Resume() {
	q.mu.Lock()
	if q.state == statePaused {
		q.state = stateRunning
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

// Cancel aborts in-flight downloads and marks every remaining pending item
// skipped.
func (q *Queue) Cancel() {
	q.mu.Lock()
	q.state = stateCancelled
	for _, item := range q.pending {
		item.setStatus(Skipped)
	}
	q.pending = nil
	cancel := q.cancel
	q.cond.Broadcast()
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset returns the queue to idle, clearing pending items, for reuse by a
// subsequent job.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.state = stateIdle
	q.closed = false
	q.cancel = nil
}

// next blocks until an item is available, the queue is cancelled, or ctx
// is done; it also blocks while paused, since pause stops dispatch of new
// items.
func (q *Queue) next(ctx context.Context) (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.state == stateCancelled || ctx.Err() != nil {
			return nil, false
		}
		if q.state == statePaused {
			q.cond.Wait()
			continue
		}
		if len(q.pending) > 0 {
			item := q.pending[0]
			q.pending = q.pending[1:]
			q.cond.Broadcast()
			return item, true
		}
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		item, ok := q.next(ctx)
		if !ok {
			return
		}
		q.process(ctx, item)
	}
}

func (q *Queue) process(ctx context.Context, item *Item) {
	var lastErr error
	checksumRetried := false
	for attempt := 0; attempt <= q.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(q.opts.BackoffBase, q.opts.BackoffCap, attempt)
			select {
			case <-ctx.Done():
				item.setStatus(Skipped)
				q.emitItemComplete(item)
				return
			case <-time.After(delay):
			}
		}

		err := q.downloader.Fetch(ctx, item, func(done, total int64, speed float64) {
			q.bus.EmitProgress(progressPayload(item, done, total, speed))
		})
		if err == nil {
			q.emitItemComplete(item)
			return
		}
		lastErr = err

		if kind, ok := airgaperr.ClassifyKind(err); ok && kind == airgaperr.Cancelled {
			item.setStatus(Skipped)
			q.emitItemComplete(item)
			return
		}
		kind, _ := airgaperr.ClassifyKind(err)
		if !retryable(err) || (kind == airgaperr.ChecksumMismatch && checksumRetried) {
			item.setStatus(Failed)
			item.recordFailure(err)
			q.emitItemComplete(item)
			return
		}
		if kind == airgaperr.ChecksumMismatch {
			checksumRetried = true
		}
		item.recordFailure(err)
	}

	item.setStatus(Failed)
	_ = lastErr
	q.emitItemComplete(item)
}

func (q *Queue) emitItemComplete(item *Item) {
	snap := item.Snapshot()
	p := events.ItemCompletePayload{
		ID:     snap.ID,
		Coord:  snap.Coord,
		Status: string(snap.Status),
	}
	if snap.Err != nil {
		p.Error = snap.Err.Error()
	}
	q.bus.EmitItemComplete(p)
}

func progressPayload(item *Item, done, total int64, speed float64) events.ProgressPayload {
	pct := float64(0)
	if total > 0 {
		pct = float64(done) * 100 / float64(total)
	}
	return events.ProgressPayload{
		ID:         item.ID,
		Name:       item.Coord.Name,
		Version:    item.Coord.Version,
		BytesDone:  done,
		BytesTotal: total,
		Speed:      speed,
		Percent:    pct,
	}
}

// retryable classifies an error: network and checksum-mismatch errors get
// retried (process caps checksum-mismatch at one retry); any other kind
// (terminal 4xx, parse errors, cancellation) does not.
func retryable(err error) bool {
	kind, ok := airgaperr.ClassifyKind(err)
	if !ok {
		return false
	}
	return kind.Retryable()
}

// backoff computes delay = min(base*2^(attempt-1), cap) for the 1-based
// retry number attempt, then returns a jittered value between delay/2 and
// delay.
func backoff(base, cap time.Duration, attempt int) time.Duration {
	delay := base * time.Duration(1<<uint(attempt-1))
	if delay > cap || delay <= 0 {
		delay = cap
	}
	jitter := time.Duration(rand.Int64N(int64(delay/2 + 1)))
	return delay/2 + jitter
}
