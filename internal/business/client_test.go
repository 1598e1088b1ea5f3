package business

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/business/3" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Fatalf("Authorization = %q, want bearer token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Business{
			ID:       "3",
			Name:     "Tri Creative Group",
			Hours:    "Mon-Fri 9-5",
			Services: []string{"branding", "web design"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1", "3")
	b, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if b.Name != "Tri Creative Group" {
		t.Fatalf("Name = %q", b.Name)
	}
}

func TestClientFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Business{ID: "3", Name: "Tri Creative Group"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "3")
	b, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if b.Name != "Tri Creative Group" {
		t.Fatalf("Name = %q", b.Name)
	}
	if calls.Load() < 2 {
		t.Fatalf("expected a retry, got %d calls", calls.Load())
	}
}

func TestClientFetchLookupFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "3")
	if _, err := c.Fetch(context.Background()); !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("Fetch() error = %v, want ErrLookupFailed", err)
	}
}

func TestCacheFallsBackAndRetries(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Business{ID: "3", Name: "Tri Creative Group"})
	}))
	defer srv.Close()

	cache := NewCache(NewClient(srv.URL, "", "3"), "Tri Creative Group")
	b := cache.Get(context.Background())
	if b.Name != "Tri Creative Group" {
		t.Fatalf("fallback Name = %q", b.Name)
	}
	if !cache.FetchedAt().IsZero() {
		t.Fatalf("failed lookup must not populate the cache")
	}

	fail.Store(false)
	if _, err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if cache.FetchedAt().IsZero() {
		t.Fatalf("Refresh() should record a fetch time")
	}
}

func TestCacheInstructions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Business{
			ID:       "3",
			Name:     "Tri Creative Group",
			Hours:    "Mon-Fri 9-5",
			Services: []string{"branding"},
		})
	}))
	defer srv.Close()

	cache := NewCache(NewClient(srv.URL, "", "3"), "Tri Creative Group")
	got := cache.Instructions(context.Background())
	if !strings.Contains(got, "Tri Creative Group") || !strings.Contains(got, "Mon-Fri 9-5") {
		t.Fatalf("Instructions() = %q, want business details", got)
	}
}

func TestCacheInstructionsFallback(t *testing.T) {
	cache := NewCache(nil, "")
	got := cache.Instructions(context.Background())
	if got != fallbackInstructions {
		t.Fatalf("Instructions() = %q, want generic fallback", got)
	}
}

func TestCacheInstructionsPrefersProviderPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Business{ID: "3", Name: "Tri Creative Group", Prompt: "Always greet in rhyme."})
	}))
	defer srv.Close()

	cache := NewCache(NewClient(srv.URL, "", "3"), "Tri Creative Group")
	if got := cache.Instructions(context.Background()); got != "Always greet in rhyme." {
		t.Fatalf("Instructions() = %q, want the provider prompt", got)
	}
}
