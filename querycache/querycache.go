// Package querycache implements a fingerprinted read-through cache:
// entries are keyed by a stable hash of (model, operation,
// canonical filter, parameters, columns, order-by), stored through a Backend
// implementation, and invalidated by bumping a per-model generation counter
// baked into the key rather than by sweeping.
package querycache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// Backend is the storage interface a Cache delegates to. The root package's
// Cache type is an alias of this interface; it is declared here, not there,
// because the root package imports this one to wire the cache into the
// engine facade and an import back would cycle.
type Backend interface {
	// Get retrieves a value from the cache. Returns nil, nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a value with an optional TTL; ttl of 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a single value from the cache.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// Key identifies one cache entry by the fields its fingerprint is computed
// from.
type Key struct {
	Model     string
	Operation string
	Filter    string // canonical filter string, see CanonicalFilterString
	Params    []any
	Columns   []string
	OrderBy   []string
}

// Fingerprint returns a stable hash of k, not yet scoped to a generation.
func (k Key) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%v\x00%v\x00%v", k.Model, k.Operation, k.Filter, k.Params, k.Columns, k.OrderBy)
	return hex.EncodeToString(h.Sum(nil))
}

// Options configures a Cache.
type Options struct {
	TTL     time.Duration // default 300s
	MaxSize int           // default 10,000 locally-tracked keys, LRU evicted
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 300 * time.Second
	}
	if o.MaxSize <= 0 {
		o.MaxSize = 10_000
	}
	return o
}

// Cache is a fingerprinted read-through cache. It
// delegates storage to a Backend (in-memory, Redis, whatever an adapter
// provides) and layers three things on top that a bare byte-oriented backend
// doesn't give you: per-model generation invalidation, a local LRU index
// bounding how many distinct fingerprints are tracked, and msgpack
// serialization of arbitrary Go values.
type Cache struct {
	backend Backend
	opts    Options

	mu          sync.Mutex
	order       *list.List // LRU order of backend keys, front = most recently used
	elems       map[string]*list.Element
	generations map[string]int64 // model name -> generation

	group singleflight.Group
}

// New wraps backend with fingerprinting, TTL, LRU-bounded key tracking, and
// generation invalidation.
func New(backend Backend, opts Options) *Cache {
	return &Cache{
		backend:     backend,
		opts:        opts.withDefaults(),
		order:       list.New(),
		elems:       make(map[string]*list.Element),
		generations: make(map[string]int64),
	}
}

func (c *Cache) backendKey(key Key) string {
	return fmt.Sprintf("%s:g%d", key.Fingerprint(), c.generation(key.Model))
}

// Get returns the cached value for key, decoded into dest, or (false, nil)
// on a miss.
func (c *Cache) Get(ctx context.Context, key Key, dest any) (bool, error) {
	bk := c.backendKey(key)
	payload, err := c.backend.Get(ctx, bk)
	if err != nil {
		return false, fmt.Errorf("querycache: backend get: %w", err)
	}
	if payload == nil {
		c.touchMiss(bk)
		return false, nil
	}
	if err := msgpack.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("querycache: decode: %w", err)
	}
	c.touchHit(bk)
	return true, nil
}

// Load runs fn under singleflight dedup keyed by key's fingerprint on a
// miss, storing its result before returning it — the common
// "get-or-compute" path every Read/List/Count handler uses.
func (c *Cache) Load(ctx context.Context, key Key, fn func() (any, error)) (any, error) {
	var hit any
	// A backend or decode fault on the lookup is handled as a miss.
	found, err := c.Get(ctx, key, &hit)
	if err == nil && found {
		return hit, nil
	}
	v, err, _ := c.group.Do(key.Fingerprint(), func() (any, error) {
		result, err := fn()
		if err != nil {
			return nil, err
		}
		if serr := c.Set(ctx, key, result); serr != nil {
			// A cache-write fault never fails the read it was serving
			// (the cache is read-through, not write-through).
			_ = serr
		}
		return result, nil
	})
	return v, err
}

// Set stores value under key with the configured TTL, evicting the
// least-recently-used tracked key from the backend if MaxSize would be
// exceeded.
func (c *Cache) Set(ctx context.Context, key Key, value any) error {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("querycache: encode: %w", err)
	}
	bk := c.backendKey(key)
	if err := c.backend.Set(ctx, bk, payload, c.opts.TTL); err != nil {
		return fmt.Errorf("querycache: backend set: %w", err)
	}
	c.mu.Lock()
	c.trackLocked(bk)
	var evict []string
	for c.order.Len() > c.opts.MaxSize {
		back := c.order.Back()
		if back == nil {
			break
		}
		victim := back.Value.(string)
		c.order.Remove(back)
		delete(c.elems, victim)
		evict = append(evict, victim)
	}
	c.mu.Unlock()
	for _, v := range evict {
		_ = c.backend.Delete(ctx, v)
	}
	return nil
}

func (c *Cache) trackLocked(bk string) {
	if e, ok := c.elems[bk]; ok {
		c.order.MoveToFront(e)
		return
	}
	c.elems[bk] = c.order.PushFront(bk)
}

func (c *Cache) touchHit(bk string) {
	c.mu.Lock()
	c.trackLocked(bk)
	c.mu.Unlock()
}

func (c *Cache) touchMiss(bk string) {
	c.mu.Lock()
	if e, ok := c.elems[bk]; ok {
		c.order.Remove(e)
		delete(c.elems, bk)
	}
	c.mu.Unlock()
}

// InvalidateModel bumps name's generation counter, logically invalidating
// every entry for that model: future keys for name are computed against the
// new generation and never hit the stale backend entries again.
func (c *Cache) InvalidateModel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[name]++
}

func (c *Cache) generation(model string) int64 { return c.generations[model] }

// Clear drops every locally-tracked key from the backend and resets the LRU
// index. Generation counters are left untouched.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.elems))
	for k := range c.elems {
		keys = append(keys, k)
	}
	c.order.Init()
	c.elems = make(map[string]*list.Element)
	c.mu.Unlock()
	for _, k := range keys {
		if err := c.backend.Delete(ctx, k); err != nil {
			return fmt.Errorf("querycache: backend delete: %w", err)
		}
	}
	return nil
}

// CanonicalFilterString renders a filter-translator input into the stable
// string the fingerprint is computed from: sorted keys, recursively, so
// equivalent filters built in different field orders fingerprint identically.
func CanonicalFilterString(doc map[string]any) string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := "{"
	for i, k := range keys {
		if i > 0 {
			s += ","
		}
		v := doc[k]
		if sub, ok := v.(map[string]any); ok {
			s += k + ":" + CanonicalFilterString(sub)
		} else {
			s += fmt.Sprintf("%s:%v", k, v)
		}
	}
	return s + "}"
}
