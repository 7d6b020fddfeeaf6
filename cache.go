package synchub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const primeConcurrency = 4

// ============================================================================
// Store contract
// ============================================================================

// Invalidator marks cached keys stale so they refetch.
type Invalidator interface {
	Invalidate(ctx context.Context, filter KeyFilter)
}

// Store is the query-keyed cache the hub keeps in sync. One Store is created
// at application start and shared by every handler for the life of the
// process; tests build their own.
//
// Writers must call CancelInFlight for a key before Set, otherwise a fetch
// that started earlier may land after the write and replace it.
type Store interface {
	Invalidator
	Get(key Key) (any, bool)
	// Set replaces the value of key with updater(old). old is nil when the
	// key is absent; a nil result leaves the key untouched.
	Set(key Key, updater func(old any) any)
	// CancelInFlight aborts any running fetch of key and waits for it to
	// stop, or for ctx to end.
	CancelInFlight(ctx context.Context, key Key) error
}

// FetchFunc loads the authoritative value of a key.
type FetchFunc func(ctx context.Context, key Key) (any, error)

// ============================================================================
// QueryCache
// ============================================================================

type cacheEntry struct {
	key       Key
	value     any
	stale     bool
	updatedAt time.Time
}

type inflightFetch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type fetchRoute struct {
	prefix Key
	fn     FetchFunc
}

// QueryCache is the in-process Store implementation. It keeps the latest
// value per key, runs registered fetchers on demand, and refetches stale
// keys in the background after Invalidate.
type QueryCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	gens     map[string]uint64
	inflight map[string]*inflightFetch
	routes   []fetchRoute

	group   singleflight.Group
	refetch sync.WaitGroup
	log     *logrus.Entry
}

// QueryCacheOption configures a QueryCache.
type QueryCacheOption func(*QueryCache)

// WithCacheLogger sets the logger used for background refetch failures.
func WithCacheLogger(log *logrus.Entry) QueryCacheOption {
	return func(c *QueryCache) { c.log = log }
}

// NewQueryCache creates an empty cache.
func NewQueryCache(opts ...QueryCacheOption) *QueryCache {
	c := &QueryCache{
		entries:  make(map[string]*cacheEntry),
		gens:     make(map[string]uint64),
		inflight: make(map[string]*inflightFetch),
		log:      logrus.WithField("component", "cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterFetcher routes every key starting with prefix to fn. The longest
// matching prefix wins.
func (c *QueryCache) RegisterFetcher(prefix Key, fn FetchFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes = append(c.routes, fetchRoute{prefix: append(Key(nil), prefix...), fn: fn})
	sort.SliceStable(c.routes, func(i, j int) bool {
		return len(c.routes[i].prefix) > len(c.routes[j].prefix)
	})
}

func (c *QueryCache) fetcherFor(key Key) FetchFunc {
	for _, r := range c.routes {
		if key.HasPrefix(r.prefix) {
			return r.fn
		}
	}
	return nil
}

// ── Reads and writes ─────────────────────────────────────

// Get returns the cached value of key.
func (c *QueryCache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// IsStale reports whether key was invalidated and has not been refreshed.
func (c *QueryCache) IsStale(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	return ok && e.stale
}

// Set applies updater to the current value under the cache lock. Any fetch
// still running for key loses: its result is discarded on completion.
func (c *QueryCache) Set(key Key, updater func(old any) any) {
	k := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	var old any
	if e, ok := c.entries[k]; ok {
		old = e.value
	}
	next := updater(old)
	if next == nil {
		return
	}
	c.gens[k]++
	c.entries[k] = &cacheEntry{key: append(Key(nil), key...), value: next, updatedAt: time.Now()}
}

// Remove drops key from the cache.
func (c *QueryCache) Remove(key Key) {
	k := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[k]++
	delete(c.entries, k)
}

// Keys lists every cached key, sorted.
func (c *QueryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ── Fetching ─────────────────────────────────────────────

// Fetch loads key through its registered fetcher and stores the result.
// Concurrent fetches of one key share a single call.
func (c *QueryCache) Fetch(ctx context.Context, key Key) (any, error) {
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.runFetch(key)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *QueryCache) runFetch(key Key) (any, error) {
	k := key.String()

	c.mu.Lock()
	fn := c.fetcherFor(key)
	if fn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, k)
	}
	gen := c.gens[k]
	fetchCtx, cancel := context.WithCancel(context.Background())
	f := &inflightFetch{cancel: cancel, done: make(chan struct{})}
	c.inflight[k] = f
	c.mu.Unlock()

	value, err := fn(fetchCtx, key)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(f.done)
	defer cancel()
	if c.inflight[k] == f {
		delete(c.inflight, k)
	}

	if fetchCtx.Err() != nil || c.gens[k] != gen {
		return nil, fmt.Errorf("fetch %s: %w", k, ErrFetchCancelled)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", k, err)
	}
	c.gens[k]++
	c.entries[k] = &cacheEntry{key: append(Key(nil), key...), value: value, updatedAt: time.Now()}
	return value, nil
}

// Prime fetches every key that is not cached yet. Keys are loaded
// concurrently; failures do not stop the others and are returned joined.
func (c *QueryCache) Prime(ctx context.Context, keys ...Key) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(primeConcurrency)
	for _, key := range keys {
		if _, ok := c.Get(key); ok {
			continue
		}
		g.Go(func() error {
			if _, err := c.Fetch(gctx, key); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// CancelInFlight aborts a running fetch of key and waits until it has
// returned. The aborted fetch never writes its result.
func (c *QueryCache) CancelInFlight(ctx context.Context, key Key) error {
	k := key.String()

	c.mu.Lock()
	f := c.inflight[k]
	c.gens[k]++
	c.mu.Unlock()

	if f == nil {
		return nil
	}
	f.cancel()

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invalidate marks every matching key stale and refetches those that have a
// fetcher in the background.
func (c *QueryCache) Invalidate(ctx context.Context, filter KeyFilter) {
	var refetch []Key

	c.mu.Lock()
	for _, e := range c.entries {
		if !filter.Matches(e.key) {
			continue
		}
		e.stale = true
		if c.fetcherFor(e.key) != nil {
			refetch = append(refetch, e.key)
		}
	}
	c.mu.Unlock()

	for _, key := range refetch {
		c.refetch.Add(1)
		go func(key Key) {
			defer c.refetch.Done()
			if _, err := c.Fetch(context.WithoutCancel(ctx), key); err != nil && !errors.Is(err, ErrFetchCancelled) {
				c.log.WithError(err).WithField("key", key.String()).Warn("background refetch failed")
			}
		}(key)
	}
}

// Wait blocks until every background refetch started by Invalidate is done.
func (c *QueryCache) Wait() {
	c.refetch.Wait()
}
