package monitor

import (
	"sync"
)

// renderCache keeps the last rendered view until the dashboard data or the
// terminal size changes.
type renderCache struct {
	mu         sync.RWMutex
	rendered   string
	dirty      bool
	width      int
	height     int
	renderings int
}

func newRenderCache() *renderCache {
	return &renderCache{dirty: true}
}

// get returns the cached view, calling render when the cache is dirty or the
// size changed.
func (c *renderCache) get(width, height int, render func() string) string {
	c.mu.RLock()
	if !c.dirty && c.width == width && c.height == height {
		s := c.rendered
		c.mu.RUnlock()
		return s
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty && c.width == width && c.height == height {
		return c.rendered
	}
	c.width, c.height = width, height
	c.rendered = render()
	c.renderings++
	c.dirty = false
	return c.rendered
}

func (c *renderCache) invalidate() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}
