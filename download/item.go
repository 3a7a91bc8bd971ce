// Package download implements the bounded-concurrency download queue and
// per-item artifact downloader: FIFO dispatch with a
// priority override, pause/resume/cancel, retries with exponential backoff
// plus jitter, HTTP range-resume, checksum verification, and atomic rename
// into the artifact cache.
package download

import (
	"sync"
	"time"

	"github.com/a-h/airgap/coordinate"
	"github.com/google/uuid"
)

// Status is one DownloadItem lifecycle state.
type Status string

const (
	Pending     Status = "pending"
	Downloading Status = "downloading"
	Completed   Status = "completed"
	Failed      Status = "failed"
	Skipped     Status = "skipped"
	Paused      Status = "paused"
)

// Item is one DownloadItem. Its mutable fields (status,
// byte counters, speed, retry count, error) are protected by an internal
// lock since the queue's dispatcher and a worker's progress reporting touch
// them concurrently; Snapshot returns a consistent, lock-free copy for
// events and tests.
type Item struct {
	ID               string
	Coord            coordinate.Coordinate
	URL              string
	ExpectedChecksum string
	Algorithm        string // empty defaults to sha256.

	// Optional marks an item whose failure does not fail the job overall;
	// only required items count against a job's success.
	Optional bool

	// SizeHint, when known ahead of the request (e.g. from metadata),
	// lets the queue prioritize smaller artifacts first within a batch,
	// minimizing tail latency.
	SizeHint int64

	mu         sync.Mutex
	status     Status
	bytesTotal int64
	bytesDone  int64
	speed      float64
	retryCount int
	err        error
}

// NewItem constructs a pending Item with a generated ID.
func NewItem(coord coordinate.Coordinate, url, checksum, algorithm string) *Item {
	return &Item{
		ID:               uuid.NewString(),
		Coord:            coord,
		URL:              url,
		ExpectedChecksum: checksum,
		Algorithm:        algorithm,
		SizeHint:         0,
		status:           Pending,
	}
}

// Snapshot is an immutable point-in-time view of an Item, safe to pass to
// event subscribers or store in test assertions.
type Snapshot struct {
	ID         string
	Coord      coordinate.Coordinate
	Status     Status
	BytesTotal int64
	BytesDone  int64
	Speed      float64
	RetryCount int
	Err        error
}

func (i *Item) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Snapshot{
		ID:         i.ID,
		Coord:      i.Coord,
		Status:     i.status,
		BytesTotal: i.bytesTotal,
		BytesDone:  i.bytesDone,
		Speed:      i.speed,
		RetryCount: i.retryCount,
		Err:        i.err,
	}
}

// Skip marks the item skipped without it ever entering a queue, used by the
// orchestrator when the artifact cache already holds a verified copy.
func (i *Item) Skip() {
	i.setStatus(Skipped)
}

func (i *Item) setStatus(s Status) {
	i.mu.Lock()
	i.status = s
	i.mu.Unlock()
}

func (i *Item) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

func (i *Item) setProgress(done, total int64, speed float64) {
	i.mu.Lock()
	i.bytesDone = done
	i.bytesTotal = total
	i.speed = speed
	i.mu.Unlock()
}

func (i *Item) recordFailure(err error) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.err = err
	i.retryCount++
	return i.retryCount
}

// ewma maintains the instantaneous speed estimate: an exponentially
// weighted moving average over the last 5 samples.
type ewma struct {
	alpha float64
	value float64
	set   bool
}

func newEWMA() *ewma { return &ewma{alpha: 2.0 / (5.0 + 1.0)} }

func (e *ewma) sample(bytesPerSec float64) float64 {
	if !e.set {
		e.value = bytesPerSec
		e.set = true
		return e.value
	}
	e.value = e.alpha*bytesPerSec + (1-e.alpha)*e.value
	return e.value
}

// progressInterval is the per-worker reporting cadence: every 100ms or
// every 256KiB, whichever comes first.
const (
	progressInterval = 100 * time.Millisecond
	progressBytes    = 256 * 1024
)
