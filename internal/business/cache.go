package business

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const fallbackInstructions = "You are a friendly, professional AI receptionist. Greet the caller, answer general questions about the business, and offer to take a message when you do not know something."

// Cache holds the process-wide business data. It is lazily populated, read
// mostly, and only rebuilt on an explicit Refresh (startup, tool call, or the
// diagnostic endpoint) — there is no time-based eviction.
type Cache struct {
	mu           sync.RWMutex
	client       *Client
	data         *Business
	fetchedAt    time.Time
	fallbackName string
}

func NewCache(client *Client, fallbackName string) *Cache {
	if strings.TrimSpace(fallbackName) == "" {
		fallbackName = "the business"
	}
	return &Cache{client: client, fallbackName: fallbackName}
}

// Get returns the cached business data, fetching it on first use. Lookup
// failures return a minimal fallback record and are not cached, so the next
// Get retries.
func (c *Cache) Get(ctx context.Context) *Business {
	c.mu.RLock()
	data := c.data
	c.mu.RUnlock()
	if data != nil {
		return data
	}

	fresh, err := c.Refresh(ctx)
	if err != nil {
		return &Business{Name: c.fallbackName}
	}
	return fresh
}

// Refresh reinvokes the context provider and replaces the cached record on
// success. On failure the previous record (if any) is kept.
func (c *Cache) Refresh(ctx context.Context) (*Business, error) {
	if c.client == nil {
		return nil, fmt.Errorf("%w: no client configured", ErrLookupFailed)
	}
	fresh, err := c.client.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.data = fresh
	c.fetchedAt = time.Now().UTC()
	c.mu.Unlock()
	return fresh, nil
}

// FetchedAt reports when the cache was last rebuilt.
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// Instructions renders the per-call prompt from the cached business data.
// It never fails: when no real lookup has ever succeeded it returns the
// generic fallback rather than templating around the placeholder name.
func (c *Cache) Instructions(ctx context.Context) string {
	c.mu.RLock()
	b := c.data
	c.mu.RUnlock()
	if b == nil {
		var err error
		if b, err = c.Refresh(ctx); err != nil {
			return fallbackInstructions
		}
	}
	if strings.TrimSpace(b.Prompt) != "" {
		return strings.TrimSpace(b.Prompt)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the AI receptionist for %s.", b.Name)
	if strings.TrimSpace(b.Description) != "" {
		fmt.Fprintf(&sb, " %s.", strings.TrimSuffix(strings.TrimSpace(b.Description), "."))
	}
	if strings.TrimSpace(b.Hours) != "" {
		fmt.Fprintf(&sb, " Business hours: %s.", strings.TrimSpace(b.Hours))
	}
	if len(b.Services) > 0 {
		fmt.Fprintf(&sb, " Services offered: %s.", strings.Join(b.Services, ", "))
	}
	if strings.TrimSpace(b.Phone) != "" {
		fmt.Fprintf(&sb, " Phone: %s.", strings.TrimSpace(b.Phone))
	}
	sb.WriteString(" Answer briefly and naturally; this is a phone call. Offer to take a message when you do not know something.")
	return sb.String()
}
