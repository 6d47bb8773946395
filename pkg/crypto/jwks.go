package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-jose/go-jose/v4"
)

// JWKSFetcher handles fetching and caching of JSON Web Key Sets.
type JWKSFetcher interface {
	Fetch(ctx context.Context, url string) (*jose.JSONWebKeySet, error)
}

type cacheEntry struct {
	jwks      *jose.JSONWebKeySet
	expiresAt time.Time
}

// DefaultJWKSFetcher fetches key sets over HTTP, retrying transient failures
// with exponential backoff and caching results for a TTL.
type DefaultJWKSFetcher struct {
	client     *http.Client
	cache      map[string]cacheEntry
	refreshed  map[string]time.Time
	mu         sync.RWMutex
	ttl        time.Duration
	minRefresh time.Duration
	maxRetries uint64
}

// DefaultMinRefreshInterval bounds how often an unknown kid can force a refetch.
const DefaultMinRefreshInterval = time.Minute

// NewDefaultJWKSFetcher creates a new fetcher with a default HTTP client, 1 hour
// cache TTL and two retries.
func NewDefaultJWKSFetcher() *DefaultJWKSFetcher {
	return &DefaultJWKSFetcher{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:      make(map[string]cacheEntry),
		refreshed:  make(map[string]time.Time),
		ttl:        1 * time.Hour,
		minRefresh: DefaultMinRefreshInterval,
		maxRetries: 2,
	}
}

// SetTTL configures the cache time-to-live.
func (f *DefaultJWKSFetcher) SetTTL(ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl = ttl
}

// SetMinRefreshInterval configures the minimum time between refetches forced
// by an unknown kid.
func (f *DefaultJWKSFetcher) SetMinRefreshInterval(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minRefresh = d
}

// SetMaxRetries configures how many times a failed fetch is retried.
func (f *DefaultJWKSFetcher) SetMaxRetries(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxRetries = n
}

// FlushCache clears all cached JWKS entries.
func (f *DefaultJWKSFetcher) FlushCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]cacheEntry)
	f.refreshed = make(map[string]time.Time)
}

// Fetch retrieves the JWKS from the specified URL, using cache if available.
func (f *DefaultJWKSFetcher) Fetch(ctx context.Context, url string) (*jose.JSONWebKeySet, error) {
	// 1. Check Cache
	f.mu.RLock()
	entry, found := f.cache[url]
	f.mu.RUnlock()

	if found && time.Now().Before(entry.expiresAt) {
		return entry.jwks, nil
	}

	// 2. Fetch from Network
	return f.refetch(ctx, url)
}

// refetch loads url from the network and caches the result. A failed fetch
// leaves any existing entry in place.
func (f *DefaultJWKSFetcher) refetch(ctx context.Context, url string) (*jose.JSONWebKeySet, error) {
	f.mu.RLock()
	retries := f.maxRetries
	ttl := f.ttl
	f.mu.RUnlock()

	var jwks *jose.JSONWebKeySet
	op := func() error {
		var err error
		jwks, err = f.fetchOnce(ctx, url)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.cache[url] = cacheEntry{
		jwks:      jwks,
		expiresAt: time.Now().Add(ttl),
	}
	f.mu.Unlock()

	return jwks, nil
}

// Key returns the key with the given kid. An unknown kid refetches the set so
// rotated keys are picked up, at most once per minimum refresh interval per URL.
func (f *DefaultJWKSFetcher) Key(ctx context.Context, url, kid string) (*jose.JSONWebKey, error) {
	jwks, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if keys := jwks.Key(kid); len(keys) > 0 {
		return &keys[0], nil
	}

	if !f.allowRefresh(url) {
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}

	jwks, err = f.refetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if keys := jwks.Key(kid); len(keys) > 0 {
		return &keys[0], nil
	}
	return nil, fmt.Errorf("key %q not found in JWKS", kid)
}

// allowRefresh records a forced refresh of url unless one happened within the
// minimum interval.
func (f *DefaultJWKSFetcher) allowRefresh(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	if last, ok := f.refreshed[url]; ok && now.Sub(last) < f.minRefresh {
		return false
	}
	f.refreshed[url] = now
	return true
}

func (f *DefaultJWKSFetcher) fetchOnce(ctx context.Context, url string) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("failed to fetch JWKS: status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var jwks jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode JWKS: %w", err))
	}

	return &jwks, nil
}
