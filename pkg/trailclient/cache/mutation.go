package cache

import (
	"context"
)

// Mutation is one optimistic change to a single key.
type Mutation struct {
	Key Key
	// Apply returns the optimistic value. It runs under the cache lock and
	// must not modify current in place.
	Apply func(current any) any
	// Commit performs the server call.
	Commit func(ctx context.Context) (any, error)
	// Reconcile optionally folds the canonical result into the value before
	// the refetch lands, e.g. swapping a temporary message for the persisted
	// one.
	Reconcile func(current any, result any) any
	// Invalidate lists other keys to refetch after a successful commit.
	Invalidate []Key
}

// Mutate snapshots the key, applies the optimistic value, then commits.
// On success the value is reconciled and refetched. On failure the
// snapshot is restored only if no newer mutation has applied since, and
// the notifier is told once.
func (c *Cache) Mutate(ctx context.Context, m Mutation) (any, error) {
	c.mu.Lock()
	e := c.entryLocked(m.Key)
	snapshot, snapshotLoaded := e.value, e.loaded
	e.version++
	version := e.version
	e.pending++
	e.floor = e.requested + 1
	if m.Apply != nil {
		e.value = m.Apply(e.value)
		e.loaded = true
	}
	optimistic := e.value
	c.mu.Unlock()
	c.notify(m.Key, optimistic)

	result, err := m.Commit(ctx)
	if err != nil {
		c.fail(ctx, m.Key, e, version, snapshot, snapshotLoaded)
		c.notifier.MutationFailed(m.Key, err)
		return nil, err
	}

	c.mu.Lock()
	e.pending--
	settled := e.pending == 0
	var reconciled any
	changed := false
	if m.Reconcile != nil && c.entries[m.Key] == e {
		e.value = m.Reconcile(e.value, result)
		reconciled = e.value
		changed = true
	}
	c.mu.Unlock()
	if changed {
		c.notify(m.Key, reconciled)
	}

	if settled {
		_ = c.Refetch(ctx, m.Key)
	}
	for _, key := range m.Invalidate {
		_ = c.Invalidate(ctx, key)
	}
	return result, nil
}

func (c *Cache) fail(ctx context.Context, key Key, e *entry, version uint64, snapshot any, snapshotLoaded bool) {
	c.mu.Lock()
	e.pending--
	settled := e.pending == 0
	live := c.entries[key] == e
	restored := false
	if live && e.version == version {
		e.value = snapshot
		e.loaded = snapshotLoaded
		restored = true
	} else {
		e.stale = true
	}
	refetch := live && settled && e.stale
	c.mu.Unlock()

	if restored {
		c.notify(key, snapshot)
	}
	if refetch {
		_ = c.Refetch(ctx, key)
	}
}
