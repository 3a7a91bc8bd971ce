package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a-h/airgap/artifactcache"
	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/download"
	"github.com/a-h/airgap/events"
	"github.com/a-h/airgap/httpclient"
	"github.com/a-h/airgap/metadata"
	"github.com/a-h/airgap/metrics"
	"github.com/a-h/airgap/resolve"
)

// cannedAdapter resolves from a fixed dependency graph, pointing download
// URLs at baseURL.
type cannedAdapter struct {
	baseURL string
	deps    map[string][]metadata.Dependency
}

func (a *cannedAdapter) Ecosystem() coordinate.Ecosystem { return coordinate.Pip }
func (a *cannedAdapter) IsSystemPackage(string) bool     { return false }

func (a *cannedAdapter) Resolve(ctx context.Context, name, constraint string, hints coordinate.Hints, opts resolve.Options) (string, resolve.Package, []metadata.Dependency, error) {
	if _, ok := a.deps[name]; !ok {
		return "", resolve.Package{}, nil, fmt.Errorf("not found: %s", name)
	}
	pkg := resolve.Package{
		Coord: coordinate.Coordinate{Ecosystem: coordinate.Pip, Name: name, Version: "1.0"},
		URL:   fmt.Sprintf("%s/%s-1.0.tar.gz", a.baseURL, name),
	}
	return "1.0", pkg, a.deps[name], nil
}

func (a *cannedAdapter) Filter(dep metadata.Dependency, opts resolve.Options) (bool, string) {
	return true, ""
}

func (a *cannedAdapter) PreferNearest(int, int) bool { return false }

func newTestOrchestrator(t *testing.T, adapter resolve.Adapter) *Orchestrator {
	t.Helper()
	cache := artifactcache.New(artifactcache.NewFileSystem(t.TempDir()), 0)
	client := httpclient.New(httpclient.Config{MaxRetries: 1, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond})
	return New(Config{
		Resolvers:  map[coordinate.Ecosystem]resolve.Adapter{coordinate.Pip: adapter},
		Cache:      cache,
		Downloader: download.NewDownloader(client, cache, t.TempDir()),
		Metrics:    metrics.Metrics{},
	})
}

func collect(t *testing.T, stream <-chan events.Event) []events.Event {
	t.Helper()
	var out []events.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for the event stream to close; got %d events", len(out))
		}
	}
}

func TestRunResolveFirstEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("artifact"))
	}))
	defer srv.Close()

	adapter := &cannedAdapter{baseURL: srv.URL, deps: map[string][]metadata.Dependency{
		"a": {{Name: "b"}, {Name: "c"}},
		"b": {{Name: "c"}},
		"c": {},
	}}
	o := newTestOrchestrator(t, adapter)

	stream, err := o.Run(context.Background(), Job{
		Roots:        []RootRequest{{Ecosystem: coordinate.Pip, Name: "a"}},
		ResolveFirst: true,
		Concurrency:  2,
		OutputDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evs := collect(t, stream)

	if evs[0].Type != events.Status || evs[0].StatusMsg.Phase != events.PhaseResolving {
		t.Errorf("first event should be the resolving status, got %+v", evs[0])
	}
	last := evs[len(evs)-1]
	if last.Type != events.Complete {
		t.Fatalf("last event should be complete, got %+v", last)
	}
	if !last.CompleteMsg.Success {
		t.Errorf("expected success, got %+v", last.CompleteMsg)
	}
	if last.CompleteMsg.Stats.Completed != 3 {
		t.Errorf("expected 3 completed items, got %+v", last.CompleteMsg.Stats)
	}

	// deps-resolved must precede every progress event; item terminals must
	// all precede complete.
	depsAt, firstProgressAt := -1, -1
	for i, ev := range evs {
		switch ev.Type {
		case events.DepsResolved:
			depsAt = i
			if len(ev.DepsMsg.All) != 3 {
				t.Errorf("expected 3 resolved coords, got %d", len(ev.DepsMsg.All))
			}
			if len(ev.DepsMsg.Trees) != 1 {
				t.Errorf("expected 1 root tree, got %d", len(ev.DepsMsg.Trees))
			}
		case events.Progress:
			if firstProgressAt == -1 {
				firstProgressAt = i
			}
		}
	}
	if depsAt == -1 {
		t.Fatal("no deps-resolved event seen")
	}
	if firstProgressAt != -1 && firstProgressAt < depsAt {
		t.Errorf("progress event at %d precedes deps-resolved at %d", firstProgressAt, depsAt)
	}

	if got := o.State(); got != StateCompleted {
		t.Errorf("state = %s, want %s", got, StateCompleted)
	}
}

func TestRunRejectsConcurrentJobs(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("x"))
	}))
	defer srv.Close()
	defer close(release)

	adapter := &cannedAdapter{baseURL: srv.URL, deps: map[string][]metadata.Dependency{"a": {}}}
	o := newTestOrchestrator(t, adapter)

	stream, err := o.Run(context.Background(), Job{
		Roots:        []RootRequest{{Ecosystem: coordinate.Pip, Name: "a"}},
		ResolveFirst: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := o.Run(context.Background(), Job{}); err == nil {
		t.Errorf("expected the second job to be rejected while the first is active")
	}

	o.Cancel()
	collect(t, stream)
}

func TestRunCancelEmitsCancelledComplete(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.Write([]byte("x"))
	}))
	defer srv.Close()
	defer close(release)

	adapter := &cannedAdapter{baseURL: srv.URL, deps: map[string][]metadata.Dependency{
		"a": {{Name: "b"}}, "b": {},
	}}
	o := newTestOrchestrator(t, adapter)

	stream, err := o.Run(context.Background(), Job{
		Roots:        []RootRequest{{Ecosystem: coordinate.Pip, Name: "a"}},
		ResolveFirst: true,
		Concurrency:  1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	o.Cancel()
	evs := collect(t, stream)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("terminal event took %s after cancel, want under 2s", elapsed)
	}

	last := evs[len(evs)-1]
	if last.Type != events.Complete || last.CompleteMsg.Success {
		t.Errorf("expected an unsuccessful complete event, got %+v", last)
	}
	if got := o.State(); got != StateCancelled {
		t.Errorf("state = %s, want %s", got, StateCancelled)
	}
}

func TestRunSkipsAlreadyCachedItems(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte("artifact"))
	}))
	defer srv.Close()

	adapter := &cannedAdapter{baseURL: srv.URL, deps: map[string][]metadata.Dependency{"a": {}}}
	o := newTestOrchestrator(t, adapter)

	job := Job{
		Roots:        []RootRequest{{Ecosystem: coordinate.Pip, Name: "a"}},
		ResolveFirst: true,
	}

	stream, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	collect(t, stream)
	firstRunRequests := atomic.LoadInt32(&requests)

	stream, err = o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evs := collect(t, stream)

	if got := atomic.LoadInt32(&requests); got != firstRunRequests {
		t.Errorf("second run should be served from cache, saw %d extra requests", got-firstRunRequests)
	}
	last := evs[len(evs)-1]
	if !last.CompleteMsg.Success || last.CompleteMsg.Stats.Skipped != 1 {
		t.Errorf("expected one skipped item, got %+v", last.CompleteMsg)
	}
}

func TestRunFailedRequiredItemFailsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	adapter := &cannedAdapter{baseURL: srv.URL, deps: map[string][]metadata.Dependency{"a": {}}}
	o := newTestOrchestrator(t, adapter)

	stream, err := o.Run(context.Background(), Job{
		Roots:        []RootRequest{{Ecosystem: coordinate.Pip, Name: "a"}},
		ResolveFirst: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evs := collect(t, stream)

	last := evs[len(evs)-1]
	if last.Type != events.Complete {
		t.Fatalf("last event should be complete, got %+v", last)
	}
	if last.CompleteMsg.Success {
		t.Errorf("a failed required item must fail the job")
	}
	if last.CompleteMsg.Stats.Failed != 1 {
		t.Errorf("expected 1 failed item, got %+v", last.CompleteMsg.Stats)
	}
	if got := o.State(); got != StateCompleted {
		t.Errorf("state = %s, want %s (the job ran to completion, unsuccessfully)", got, StateCompleted)
	}
}

func TestResolveWithoutRegisteredAdapter(t *testing.T) {
	o := newTestOrchestrator(t, &cannedAdapter{deps: map[string][]metadata.Dependency{}})

	result, err := o.Resolve(context.Background(), Request{
		Roots: []RootRequest{{Ecosystem: coordinate.Maven, Name: "org.example:thing", Constraint: "1.0"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("expected the unregistered ecosystem to land in failed, got %+v", result)
	}
}
