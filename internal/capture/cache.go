// Package capture produces location fixes from the two capture paths: the
// foreground watcher and the OS-scheduled background agent.
package capture

import (
	"sync"

	"github.com/NomadCrew/nomad-crew-proximity/types"
)

// LocationCache holds the most recent fix from either capture path. Writes
// are last-write-wins in arrival order.
type LocationCache struct {
	mu     sync.RWMutex
	fix    *types.LocationFix
	nextID int
	subs   map[int]func(types.LocationFix)
}

func NewLocationCache() *LocationCache {
	return &LocationCache{subs: make(map[int]func(types.LocationFix))}
}

// Set stores fix and notifies listeners.
func (c *LocationCache) Set(fix types.LocationFix) {
	c.mu.Lock()
	f := fix
	c.fix = &f
	subs := make([]func(types.LocationFix), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(fix)
	}
}

// Get returns a copy of the cached fix, or nil.
func (c *LocationCache) Get() *types.LocationFix {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fix == nil {
		return nil
	}
	f := *c.fix
	return &f
}

func (c *LocationCache) Clear() {
	c.mu.Lock()
	c.fix = nil
	c.mu.Unlock()
}

// Subscribe registers fn to run after every Set.
func (c *LocationCache) Subscribe(fn func(types.LocationFix)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}
