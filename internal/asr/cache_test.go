package asr

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestResolveModelAliases(t *testing.T) {
	cases := map[string]string{
		"large-v3": "large",
		"large-v2": "large",
		"large":    "large",
		"medium":   "medium",
		"small":    "small",
	}
	for in, want := range cases {
		if got := ResolveModel(in); got != want {
			t.Errorf("ResolveModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCacheSingleFlight(t *testing.T) {
	cache := NewCache()
	var loads atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := cache.Get("medium", func() (any, error) {
				loads.Add(1)
				return "medium", nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if handle != "medium" {
				t.Errorf("unexpected handle: %v", handle)
			}
		}()
	}
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
	if !cache.Warm() {
		t.Fatal("expected cache to report warm after a successful load")
	}
}

func TestCacheRetriesAfterFailedLoad(t *testing.T) {
	cache := NewCache()
	boom := errors.New("no weights")

	if _, err := cache.Get("small", func() (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if cache.Warm() {
		t.Fatal("failed load must not mark the cache warm")
	}

	handle, err := cache.Get("small", func() (any, error) { return "small", nil })
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if handle != "small" {
		t.Fatalf("unexpected handle: %v", handle)
	}
}
