// Package orchestrator ties the resolvers to the download queue: it drives
// a job through its resolving and downloading phases, emits lifecycle
// events at each boundary, dedupes and cache-filters resolved artifacts,
// and coordinates pause/resume/cancel across both phases. One job is
// active at a time per Orchestrator; a second Run call fails until the
// first reaches a terminal state.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/a-h/airgap/artifactcache"
	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/download"
	"github.com/a-h/airgap/events"
	"github.com/a-h/airgap/metadata"
	"github.com/a-h/airgap/metrics"
	"github.com/a-h/airgap/resolve"
)

// State is the orchestrator's job lifecycle state: idle, resolving,
// downloading, paused, then one of the terminals (completed, cancelled,
// failed). Paused is reachable only from downloading and returns to it.
type State string

const (
	StateIdle        State = "idle"
	StateResolving   State = "resolving"
	StateDownloading State = "downloading"
	StatePaused      State = "paused"
	StateCompleted   State = "completed"
	StateCancelled   State = "cancelled"
	StateFailed      State = "failed"
)

func (s State) terminal() bool {
	return s == StateIdle || s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Config assembles an Orchestrator. Resolvers is the registry keyed by
// ecosystem tag; ecosystems absent from it simply can't be resolved by
// this instance.
type Config struct {
	Resolvers  map[coordinate.Ecosystem]resolve.Adapter
	Cache      *artifactcache.Cache
	Downloader *download.Downloader
	Metrics    metrics.Metrics
	Log        *slog.Logger

	// Docker handles image references, which resolve to layer blobs rather
	// than traversing a name/constraint dependency graph, so they bypass
	// the Adapter registry.
	Docker *metadata.DockerFetcher
}

// Orchestrator owns the resolver registry, the artifact cache, and the
// currently active job, threading them through calls rather than relying
// on package-level singletons.
type Orchestrator struct {
	resolvers  map[coordinate.Ecosystem]resolve.Adapter
	cache      *artifactcache.Cache
	downloader *download.Downloader
	metrics    metrics.Metrics
	log        *slog.Logger
	docker     *metadata.DockerFetcher

	mu        sync.Mutex
	state     State
	queue     *download.Queue
	cancelJob context.CancelFunc
}

func New(cfg Config) *Orchestrator {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		resolvers:  cfg.Resolvers,
		cache:      cfg.Cache,
		downloader: cfg.Downloader,
		metrics:    cfg.Metrics,
		log:        log,
		docker:     cfg.Docker,
		state:      StateIdle,
	}
}

// State returns the current job state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// RootRequest is one requested root: an ecosystem-tagged name plus a
// version constraint and any addressing hints.
type RootRequest struct {
	Ecosystem  coordinate.Ecosystem
	Name       string
	Constraint string
	Hints      coordinate.Hints
}

// Request is the input to Resolve.
type Request struct {
	Roots   []RootRequest
	Options resolve.Options
}

// Resolve traverses the transitive dependencies of req.Roots, grouping
// roots by ecosystem and running one DFS engine per group. Failures for
// one ecosystem don't abort the others; they land in the merged result's
// Failed list.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) (resolve.ResolutionResult, error) {
	grouped := make(map[coordinate.Ecosystem][]resolve.Root)
	var order []coordinate.Ecosystem
	for _, r := range req.Roots {
		if _, ok := grouped[r.Ecosystem]; !ok {
			order = append(order, r.Ecosystem)
		}
		grouped[r.Ecosystem] = append(grouped[r.Ecosystem], resolve.Root{Name: r.Name, Constraint: r.Constraint, Hints: r.Hints})
	}

	merged := resolve.ResolutionResult{Tree: &resolve.DependencyNode{}}
	for _, eco := range order {
		if eco == coordinate.Docker && o.docker != nil {
			o.resolveDocker(ctx, grouped[eco], &merged)
			continue
		}
		adapter, ok := o.resolvers[eco]
		if !ok {
			for _, r := range grouped[eco] {
				merged.Failed = append(merged.Failed, resolve.Failed{
					Coord:  coordinate.WithConstraint{Ecosystem: eco, Name: r.Name, Constraint: r.Constraint, Hints: r.Hints},
					Reason: fmt.Sprintf("no resolver registered for ecosystem %q", eco),
				})
			}
			continue
		}

		start := time.Now()
		result, err := resolve.NewEngine().Resolve(ctx, adapter, grouped[eco], req.Options)
		if err != nil {
			return resolve.ResolutionResult{}, fmt.Errorf("orchestrator: resolve %s: %w", eco, err)
		}
		o.metrics.RecordResolution(ctx, string(eco), time.Since(start).Milliseconds(), len(result.Conflicts))

		merged.Tree.Children = append(merged.Tree.Children, result.Tree.Children...)
		merged.Packages = append(merged.Packages, result.Packages...)
		merged.Conflicts = append(merged.Conflicts, result.Conflicts...)
		merged.Failed = append(merged.Failed, result.Failed...)
	}
	return merged, nil
}

// resolveDocker flattens each image reference into its layer and config
// blobs. The root's Constraint carries the tag or digest.
func (o *Orchestrator) resolveDocker(ctx context.Context, roots []resolve.Root, merged *resolve.ResolutionResult) {
	for _, r := range roots {
		start := time.Now()
		result, err := resolve.ResolveDocker(ctx, o.docker, r.Name, r.Constraint, r.Hints)
		if err != nil {
			merged.Failed = append(merged.Failed, resolve.Failed{
				Coord:  coordinate.WithConstraint{Ecosystem: coordinate.Docker, Name: r.Name, Constraint: r.Constraint, Hints: r.Hints},
				Reason: err.Error(),
			})
			continue
		}
		o.metrics.RecordResolution(ctx, string(coordinate.Docker), time.Since(start).Milliseconds(), 0)
		merged.Tree.Children = append(merged.Tree.Children, result.Tree)
		merged.Packages = append(merged.Packages, result.Packages...)
	}
}

// JobPackage is one artifact a job should fetch: a coordinate plus its
// download URL and checksum if already known (e.g. from a prior Resolve).
type JobPackage struct {
	Coord     coordinate.Coordinate
	URL       string
	Checksum  string
	Algorithm string
	Optional  bool
}

// Job is the input to Run. When ResolveFirst is set, Roots are resolved
// and the resulting flat artifact list is downloaded (merged with any
// explicit Packages); otherwise only Packages are fetched.
type Job struct {
	Packages []JobPackage
	Roots    []RootRequest
	Options  resolve.Options

	OutputDir       string
	Concurrency     int
	VerifyChecksums bool
	ResolveFirst    bool
}

// Run starts a job and returns its event stream. The channel yields
// status, deps-resolved, progress, item-complete, and finally complete,
// then closes. Run fails if a job is already active.
func (o *Orchestrator) Run(ctx context.Context, job Job) (<-chan events.Event, error) {
	o.mu.Lock()
	if !o.state.terminal() {
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestrator: a job is already active (state %s)", o.state)
	}
	jobCtx, cancel := context.WithCancel(ctx)
	o.cancelJob = cancel
	o.state = StateResolving
	o.mu.Unlock()

	bus := events.NewBus()
	stream := bus.Subscribe(jobCtx, 1024)

	go o.run(jobCtx, job, bus)
	return stream, nil
}

// Pause suspends dispatch of new downloads until Resume. In-flight items
// are not suspended: they run to completion (or failure) while paused.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateDownloading && o.queue != nil {
		o.queue.Pause()
		o.state = StatePaused
	}
}

// Resume continues a paused job.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StatePaused && o.queue != nil {
		o.queue.Resume()
		o.state = StateDownloading
	}
}

// Cancel aborts the active job: in-flight metadata fetches and downloads
// are aborted via the shared context, queued items become skipped, and the
// job emits its cancelled complete event shortly after.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancelJob
	queue := o.queue
	o.mu.Unlock()
	if queue != nil {
		queue.Cancel()
	}
	if cancel != nil {
		cancel()
	}
}

// CacheStats reports artifact cache totals.
func (o *Orchestrator) CacheStats(ctx context.Context) (artifactcache.Stats, error) {
	return o.cache.Stats(ctx)
}

// ClearCache removes every cached artifact.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	return o.cache.Clear(ctx)
}

func (o *Orchestrator) run(ctx context.Context, job Job, bus *events.Bus) {
	start := time.Now()

	pkgs := append([]JobPackage{}, job.Packages...)

	if job.ResolveFirst {
		bus.EmitStatus(events.PhaseResolving, fmt.Sprintf("resolving %d roots", len(job.Roots)))

		result, err := o.Resolve(ctx, Request{Roots: job.Roots, Options: job.Options})
		if err != nil || ctx.Err() != nil {
			terminal := StateFailed
			if ctx.Err() != nil {
				terminal = StateCancelled
			}
			o.finish(bus, terminal, events.CompletePayload{
				Success:    false,
				OutputPath: job.OutputDir,
				Stats:      events.CompleteStats{DurationMS: time.Since(start).Milliseconds()},
			})
			return
		}

		required := requiredKeys(result.Tree)
		for _, p := range result.Packages {
			pkgs = append(pkgs, JobPackage{
				Coord:     p.Coord,
				URL:       p.URL,
				Checksum:  p.Checksum,
				Algorithm: p.Algorithm,
				Optional:  !required[p.Coord.CanonicalKey()],
			})
		}

		bus.EmitDepsResolved(depsResolvedPayload(job.Roots, result))
	} else {
		// Still announce the final artifact list so subscribers always see
		// deps-resolved before any progress event.
		payload := events.DepsResolvedPayload{}
		for _, p := range pkgs {
			payload.Original = append(payload.Original, p.Coord)
			payload.All = append(payload.All, p.Coord)
		}
		bus.EmitDepsResolved(payload)
	}

	pkgs = dedupe(pkgs)

	bus.EmitStatus(events.PhaseDownloading, fmt.Sprintf("downloading %d artifacts", len(pkgs)))

	queue := download.NewQueue(o.downloader, bus, download.Options{Concurrency: job.Concurrency})
	o.mu.Lock()
	o.queue = queue
	if o.state == StateResolving {
		o.state = StateDownloading
	}
	o.mu.Unlock()

	allItems := make([]*download.Item, 0, len(pkgs))
	feed := make([]*download.Item, 0, len(pkgs))
	for _, p := range pkgs {
		checksum := p.Checksum
		if !job.VerifyChecksums {
			checksum = ""
		}
		item := download.NewItem(p.Coord, p.URL, checksum, p.Algorithm)
		item.Optional = p.Optional
		allItems = append(allItems, item)

		// Filter out artifacts the cache already holds (checksum verified
		// when one is known); survivors feed the queue.
		key := artifactcache.KeyFor(p.Coord, download.FilenameFromURL(p.URL))
		if _, ok, err := o.cache.Lookup(ctx, key, checksum); err == nil && ok {
			item.Skip()
			bus.EmitItemComplete(events.ItemCompletePayload{ID: item.ID, Coord: item.Coord, Status: string(download.Skipped)})
			continue
		}
		feed = append(feed, item)
	}

	queue.Start(ctx)

	// Stream survivors into the queue as slots free rather than enqueueing
	// the whole resolution at once, capping queue depth at 4 x concurrency.
	maxDepth := 4 * queueConcurrency(job.Concurrency)
feedLoop:
	for _, item := range feed {
		for queue.Depth() >= maxDepth {
			select {
			case <-ctx.Done():
				break feedLoop
			case <-time.After(25 * time.Millisecond):
			}
		}
		if ctx.Err() != nil {
			break
		}
		queue.Enqueue([]*download.Item{item})
	}
	queue.Close()
	queue.Wait()

	stats := events.CompleteStats{DurationMS: time.Since(start).Milliseconds()}
	success := ctx.Err() == nil
	for _, item := range allItems {
		snap := item.Snapshot()
		stats.TotalItems++
		switch snap.Status {
		case download.Completed:
			stats.Completed++
			stats.TotalBytes += snap.BytesDone
		case download.Failed:
			stats.Failed++
			if !item.Optional {
				success = false
			}
		default:
			// Pending/paused items at terminal time were never dispatched
			// (cancelled mid-job); count them with the skipped.
			stats.Skipped++
		}
		o.metrics.RecordItem(ctx, string(snap.Coord.Ecosystem), string(snap.Status), snap.BytesDone, snap.RetryCount)
	}

	terminal := StateCompleted
	if ctx.Err() != nil {
		terminal = StateCancelled
		success = false
	}
	o.finish(bus, terminal, events.CompletePayload{
		Success:    success,
		OutputPath: job.OutputDir,
		Stats:      stats,
	})
}

func (o *Orchestrator) finish(bus *events.Bus, terminal State, payload events.CompletePayload) {
	o.mu.Lock()
	o.state = terminal
	o.queue = nil
	o.cancelJob = nil
	o.mu.Unlock()

	bus.EmitComplete(payload)
	bus.Close()
}

func queueConcurrency(requested int) int {
	if requested <= 0 {
		return 3
	}
	if requested > 16 {
		return 16
	}
	return requested
}

// dedupe keeps the first occurrence per canonical key.
func dedupe(pkgs []JobPackage) []JobPackage {
	seen := make(map[string]bool, len(pkgs))
	out := pkgs[:0]
	for _, p := range pkgs {
		key := p.Coord.CanonicalKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// requiredKeys walks the tree and reports which coordinates are required:
// a package is optional only if every edge reaching it is optional.
func requiredKeys(tree *resolve.DependencyNode) map[string]bool {
	required := make(map[string]bool)
	var walk func(node *resolve.DependencyNode, optionalPath bool)
	walk = func(node *resolve.DependencyNode, optionalPath bool) {
		for _, child := range node.Children {
			opt := optionalPath || child.Optional
			if !opt {
				required[child.Coord.CanonicalKey()] = true
			}
			walk(child, opt)
		}
	}
	if tree != nil {
		walk(tree, false)
	}
	return required
}

func depsResolvedPayload(roots []RootRequest, result resolve.ResolutionResult) events.DepsResolvedPayload {
	payload := events.DepsResolvedPayload{Trees: result.Tree.Children}
	for _, r := range roots {
		payload.Original = append(payload.Original, coordinate.Coordinate{Ecosystem: r.Ecosystem, Name: r.Name})
	}
	for _, p := range result.Packages {
		payload.All = append(payload.All, p.Coord)
	}
	for _, f := range result.Failed {
		payload.Failed = append(payload.Failed, events.FailedPackage{
			Coord:  coordinate.Coordinate{Ecosystem: f.Coord.Ecosystem, Name: f.Coord.Name, Architecture: f.Coord.Architecture, Hints: f.Coord.Hints},
			Reason: f.Reason,
		})
	}
	return payload
}
