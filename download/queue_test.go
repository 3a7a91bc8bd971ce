package download

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
	"github.com/a-h/airgap/events"
	"github.com/a-h/airgap/httpclient"
)

func newTestDownloader(t *testing.T) *Downloader {
	t.Helper()
	dir := t.TempDir()
	cache := artifactcache.New(artifactcache.NewFileSystem(dir), 0)
	client := httpclient.New(httpclient.Config{MaxRetries: 1, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond})
	return NewDownloader(client, cache, t.TempDir())
}

func testItem(name, url string) *Item {
	return NewItem(coordinate.Coordinate{Ecosystem: coordinate.Pip, Name: name, Version: "1.0"}, url, "", "")
}

func TestQueueRetriesTransientFailuresWithBackoff(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The first two requests exhaust the HTTP client's own retry,
		// surfacing one transient failure to the queue; the queue's retry
		// then succeeds.
		if atomic.AddInt32(&requests, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("artifact-bytes"))
	}))
	defer srv.Close()

	bus := events.NewBus()
	q := NewQueue(newTestDownloader(t), bus, Options{Concurrency: 1, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond})

	item := testItem("flaky", srv.URL+"/flaky-1.0.tar.gz")
	q.Enqueue([]*Item{item})
	q.Close()
	q.Start(context.Background())
	q.Wait()

	snap := item.Snapshot()
	if snap.Status != Completed {
		t.Fatalf("expected completed, got %s (err: %v)", snap.Status, snap.Err)
	}
	if snap.RetryCount != 1 {
		t.Errorf("expected exactly one queue-level retry, got %d", snap.RetryCount)
	}
	if snap.BytesDone != int64(len("artifact-bytes")) {
		t.Errorf("expected %d bytes, got %d", len("artifact-bytes"), snap.BytesDone)
	}
}

func TestQueueTerminal4xxIsNotRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	bus := events.NewBus()
	q := NewQueue(newTestDownloader(t), bus, Options{Concurrency: 1})

	item := testItem("forbidden", srv.URL+"/forbidden-1.0.tar.gz")
	q.Enqueue([]*Item{item})
	q.Close()
	q.Start(context.Background())
	q.Wait()

	if got := item.Status(); got != Failed {
		t.Fatalf("expected failed, got %s", got)
	}
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Errorf("terminal 4xx should not be retried, saw %d requests", got)
	}
}

func TestQueueBoundsConcurrency(t *testing.T) {
	var inflight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	bus := events.NewBus()
	q := NewQueue(newTestDownloader(t), bus, Options{Concurrency: 4})

	items := make([]*Item, 20)
	for i := range items {
		items[i] = testItem(fmt.Sprintf("pkg%d", i), fmt.Sprintf("%s/pkg%d-1.0.tar.gz", srv.URL, i))
	}
	q.Enqueue(items)
	q.Close()
	q.Start(context.Background())
	q.Wait()

	for _, item := range items {
		if got := item.Status(); got != Completed {
			t.Errorf("%s: expected completed, got %s", item.Coord.Name, got)
		}
	}
	if got := atomic.LoadInt32(&peak); got > 4 {
		t.Errorf("in-flight downloads exceeded concurrency: peak %d > 4", got)
	}
}

func TestQueueSmallerArtifactsDispatchFirst(t *testing.T) {
	bus := events.NewBus()
	q := NewQueue(newTestDownloader(t), bus, Options{Concurrency: 1})

	big := testItem("big", "https://example.com/big.tar.gz")
	big.SizeHint = 1 << 20
	small := testItem("small", "https://example.com/small.tar.gz")
	small.SizeHint = 1 << 10

	q.Enqueue([]*Item{big, small})

	first, ok := q.next(context.Background())
	if !ok || first.Coord.Name != "small" {
		t.Errorf("expected the smaller artifact to dispatch first, got %+v", first)
	}
}

func TestQueueCancelSkipsPending(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("x"))
	}))
	defer srv.Close()
	defer close(release)

	bus := events.NewBus()
	q := NewQueue(newTestDownloader(t), bus, Options{Concurrency: 1})

	items := make([]*Item, 5)
	for i := range items {
		items[i] = testItem(fmt.Sprintf("pkg%d", i), fmt.Sprintf("%s/pkg%d.tar.gz", srv.URL, i))
	}
	q.Enqueue(items)
	q.Close()
	q.Start(context.Background())

	time.Sleep(20 * time.Millisecond) // let the first item go in-flight.
	done := make(chan struct{})
	go func() {
		q.Cancel()
		q.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not complete within 2s")
	}

	for _, item := range items {
		switch item.Status() {
		case Skipped, Failed:
		default:
			t.Errorf("%s: expected a terminal state after cancel, got %s", item.Coord.Name, item.Status())
		}
	}
}

func TestQueuePauseStopsDispatch(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	bus := events.NewBus()
	q := NewQueue(newTestDownloader(t), bus, Options{Concurrency: 1})

	// Start with nothing queued, pause, then enqueue: the worker must not
	// dispatch while paused.
	q.Start(context.Background())
	q.Pause()

	items := []*Item{
		testItem("p0", srv.URL+"/p0.tar.gz"),
		testItem("p1", srv.URL+"/p1.tar.gz"),
	}
	q.Enqueue(items)
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&requests); got != 0 {
		t.Errorf("paused queue should not dispatch, saw %d requests", got)
	}

	q.Resume()
	q.Close()
	q.Wait()
	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Errorf("expected both items fetched after resume, got %d requests", got)
	}
}
