package cache

import (
	"context"
	"sync"
	"time"
)

const DefaultPollInterval = 15 * time.Second

// Poller refetches every held key on a fixed interval. A key whose previous
// poll is still in flight is skipped until it resolves; the late response is
// still applied if no newer request superseded it.
type Poller struct {
	cache    *Cache
	interval time.Duration
	onError  func(Key, error)

	mu       sync.Mutex
	inFlight map[Key]struct{}
}

func NewPoller(cache *Cache, interval time.Duration, onError func(Key, error)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if onError == nil {
		onError = func(Key, error) {}
	}
	return &Poller{
		cache:    cache,
		interval: interval,
		onError:  onError,
		inFlight: make(map[Key]struct{}),
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll starts one refetch per held key that has none outstanding and returns
// without waiting.
func (p *Poller) Poll(ctx context.Context) {
	for _, key := range p.cache.Held() {
		if !p.claim(key) {
			continue
		}
		go func(key Key) {
			defer p.release(key)
			if err := p.cache.Refetch(ctx, key); err != nil && ctx.Err() == nil {
				p.onError(key, err)
			}
		}(key)
	}
}

func (p *Poller) claim(key Key) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[key]; busy {
		return false
	}
	p.inFlight[key] = struct{}{}
	return true
}

func (p *Poller) release(key Key) {
	p.mu.Lock()
	delete(p.inFlight, key)
	p.mu.Unlock()
}

func (p *Poller) outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}
