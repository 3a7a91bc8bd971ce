package metadatacache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchCachesAndDeduplicates(t *testing.T) {
	c := New(nil, 16)
	var calls int32

	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return []byte("payload"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, _, err := c.Fetch(context.Background(), "key", time.Minute, fetch)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if string(body) != "payload" {
				t.Errorf("got %q", body)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly one network fetch, got %d", got)
	}

	// A subsequent call should be served from memory, not the network.
	_, fromCache, err := c.Fetch(context.Background(), "key", time.Minute, fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fromCache {
		t.Errorf("expected second fetch to be served from cache")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected no additional network fetch, got %d calls", got)
	}
}

func TestFetchRefetchesAfterTTL(t *testing.T) {
	c := New(nil, 16)
	var calls int32
	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("v"), nil
	}

	if _, _, err := c.Fetch(context.Background(), "k", time.Millisecond, fetch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, _, err := c.Fetch(context.Background(), "k", time.Millisecond, fetch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected refetch after TTL expiry, got %d calls", got)
	}
}
