// Package cache keeps client views consistent with the server. Every key is
// refreshed by polling, by push invalidation and after optimistic
// mutations, and all three feed the same refetch path.
//
// Each key carries a request generation and a mutation version. A fetch
// response is applied only if it is newer than the last applied one and was
// issued after the latest optimistic mutation started; a failed mutation
// restores its snapshot only while it is still the latest mutation.
package cache

import (
	"context"
	"sort"
	"sync"
)

// Fetcher loads the authoritative value for a key.
type Fetcher func(ctx context.Context) (any, error)

// Notifier surfaces a failed optimistic mutation to the user. It is called
// exactly once per failure.
type Notifier interface {
	MutationFailed(key Key, err error)
}

type NotifierFunc func(key Key, err error)

func (f NotifierFunc) MutationFailed(key Key, err error) { f(key, err) }

type entry struct {
	value   any
	loaded  bool
	fetcher Fetcher

	// requested is the generation of the last fetch issued, applied the
	// generation of the value held. Fetches below floor were issued before
	// the latest optimistic mutation and are discarded.
	requested uint64
	applied   uint64
	floor     uint64

	version uint64
	pending int
	// stale is set when a mutation failed without rolling back because a
	// newer one had already applied on top of it.
	stale bool
}

type Cache struct {
	mu          sync.Mutex
	entries     map[Key]*entry
	subscribers map[Key]map[int]func(any)
	nextSub     int
	notifier    Notifier
}

func New(notifier Notifier) *Cache {
	if notifier == nil {
		notifier = NotifierFunc(func(Key, error) {})
	}
	return &Cache{
		entries:     make(map[Key]*entry),
		subscribers: make(map[Key]map[int]func(any)),
		notifier:    notifier,
	}
}

// Register holds key and sets how it is fetched. Only held keys are polled
// and invalidated by push events.
func (c *Cache) Register(key Key, fetcher Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	e.fetcher = fetcher
}

// Release drops key and its value.
func (c *Cache) Release(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.notify(key, nil)
}

func (c *Cache) Held() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.entries))
	for key, e := range c.entries {
		if e.fetcher != nil {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (c *Cache) holds(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.fetcher != nil
}

func (c *Cache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.loaded {
		return nil, false
	}
	return e.value, true
}

// Value returns the value under key as T.
func Value[T any](c *Cache, key Key) (T, bool) {
	var zero T
	raw, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	value, ok := raw.(T)
	return value, ok
}

// Set stores an authoritative value, e.g. one returned by a REST call the
// caller made directly.
func (c *Cache) Set(key Key, value any) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.value = value
	e.loaded = true
	e.applied = e.requested
	c.mu.Unlock()
	c.notify(key, value)
}

// Subscribe calls fn with the new value after every change to key. A
// released key is reported as nil.
func (c *Cache) Subscribe(key Key, fn func(any)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	subs, ok := c.subscribers[key]
	if !ok {
		subs = make(map[int]func(any))
		c.subscribers[key] = subs
	}
	subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers[key], id)
	}
}

// Refetch issues a fetch for key. Late responses never overwrite newer ones,
// and responses to fetches issued before an optimistic mutation, or
// arriving while one is in flight, are discarded. Unheld keys are a no-op.
func (c *Cache) Refetch(ctx context.Context, key Key) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.fetcher == nil {
		c.mu.Unlock()
		return nil
	}
	e.requested++
	generation := e.requested
	fetcher := e.fetcher
	c.mu.Unlock()

	value, err := fetcher(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	current, ok := c.entries[key]
	if !ok || current != e || generation <= e.applied || generation < e.floor || e.pending > 0 {
		c.mu.Unlock()
		return nil
	}
	e.value = value
	e.loaded = true
	e.applied = generation
	e.stale = false
	c.mu.Unlock()

	c.notify(key, value)
	return nil
}

// Invalidate refetches key if it is held. It is safe to call any number of
// times for the same change.
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	if !c.holds(key) {
		return nil
	}
	return c.Refetch(ctx, key)
}

// Update applies a local edit known to match the server, such as removing a
// message the server reported deleted. In-flight fetches issued before it
// are discarded.
func (c *Cache) Update(key Key, fn func(current any) any) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || !e.loaded {
		c.mu.Unlock()
		return
	}
	e.value = fn(e.value)
	e.floor = e.requested + 1
	value := e.value
	c.mu.Unlock()
	c.notify(key, value)
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) notify(key Key, value any) {
	c.mu.Lock()
	subs := make([]func(any), 0, len(c.subscribers[key]))
	for _, fn := range c.subscribers[key] {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(value)
	}
}
