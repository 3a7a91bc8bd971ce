// Package events implements the progress/event bus: buffered channels of
// typed lifecycle events, delivered in order per item and interleaved
// across items, with a stable JSON shape for external subscribers.
package events

import (
	"context"
	"time"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/resolve"
)

// Type identifies one of the stable event kinds.
type Type string

const (
	Status       Type = "status"
	Progress     Type = "progress"
	DepsResolved Type = "deps-resolved"
	ItemComplete Type = "item-complete"
	Complete     Type = "complete"
)

// Phase is the orchestrator phase named in a Status event.
type Phase string

const (
	PhaseResolving   Phase = "resolving"
	PhaseDownloading Phase = "downloading"
)

// Event is the single envelope type carried on the Bus; exactly one of the
// payload fields is populated, matching Type. The JSON shape is stable and
// consumed by the UI shell and CLI.
type Event struct {
	Type Type      `json:"type"`
	At   time.Time `json:"at"`

	StatusMsg   *StatusPayload       `json:"status,omitempty"`
	ProgressMsg *ProgressPayload     `json:"progress,omitempty"`
	DepsMsg     *DepsResolvedPayload `json:"deps_resolved,omitempty"`
	ItemMsg     *ItemCompletePayload `json:"item_complete,omitempty"`
	CompleteMsg *CompletePayload     `json:"complete,omitempty"`
}

type StatusPayload struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
}

type ProgressPayload struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Version    string  `json:"version"`
	BytesDone  int64   `json:"bytes_done"`
	BytesTotal int64   `json:"bytes_total"`
	Speed      float64 `json:"speed"`
	Percent    float64 `json:"percent"`
}

type DepsResolvedPayload struct {
	Original []coordinate.Coordinate   `json:"original"`
	All      []coordinate.Coordinate   `json:"all"`
	Trees    []*resolve.DependencyNode `json:"trees,omitempty"`
	Failed   []FailedPackage           `json:"failed,omitempty"`
}

type FailedPackage struct {
	Coord  coordinate.Coordinate `json:"coord"`
	Reason string                `json:"reason"`
}

type ItemCompletePayload struct {
	ID     string                `json:"id"`
	Coord  coordinate.Coordinate `json:"coord"`
	Status string                `json:"status"`
	Error  string                `json:"error,omitempty"`
}

// CompleteStats is the stats block of the complete event.
type CompleteStats struct {
	TotalItems int   `json:"total_items"`
	Completed  int   `json:"completed"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
	TotalBytes int64 `json:"total_bytes"`
}

type CompletePayload struct {
	Success    bool          `json:"success"`
	OutputPath string        `json:"output_path"`
	Stats      CompleteStats `json:"stats"`
}

// Bus fans out lifecycle events to one or more subscribers: status,
// deps-resolved, progress, item-complete, then complete. Publishing never
// blocks the caller
// past bufferSize pending events per subscriber; a slow subscriber drops
// the oldest rather than stalling the orchestrator, since progress events
// are inherently superseded by later ones.
type Bus struct {
	subs []chan Event
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel of events, closed when the Bus is closed.
func (b *Bus) Subscribe(ctx context.Context, bufferSize int) <-chan Event {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ch := make(chan Event, bufferSize)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) emit(ev Event) {
	ev.At = now()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop the oldest buffered event for this subscriber to make
			// room, rather than block the publisher (progress events are
			// superseded; losing one is harmless).
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (b *Bus) EmitStatus(phase Phase, message string) {
	b.emit(Event{Type: Status, StatusMsg: &StatusPayload{Phase: phase, Message: message}})
}

func (b *Bus) EmitProgress(p ProgressPayload) {
	b.emit(Event{Type: Progress, ProgressMsg: &p})
}

func (b *Bus) EmitDepsResolved(p DepsResolvedPayload) {
	b.emit(Event{Type: DepsResolved, DepsMsg: &p})
}

func (b *Bus) EmitItemComplete(p ItemCompletePayload) {
	b.emit(Event{Type: ItemComplete, ItemMsg: &p})
}

func (b *Bus) EmitComplete(p CompletePayload) {
	b.emit(Event{Type: Complete, CompleteMsg: &p})
}

// Close shuts down every subscriber channel; call once no further events
// will be published.
func (b *Bus) Close() {
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

var now = time.Now
