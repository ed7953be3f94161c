package authority

import (
	"context"
	"sync"

	"github.com/opensur/platform/internal/shared/metrics"
)

// Lister loads the full authority list.
type Lister interface {
	ListAuthorities(ctx context.Context) ([]Authority, error)
}

// HierarchyCache serves a shared Hierarchy snapshot and rebuilds it lazily
// after Invalidate.
type HierarchyCache struct {
	mu   sync.RWMutex
	snap *Hierarchy
	src  Lister
}

// NewHierarchyCache creates an empty cache over src.
func NewHierarchyCache(src Lister) *HierarchyCache {
	return &HierarchyCache{src: src}
}

// Get returns the current snapshot, building it on first use.
func (c *HierarchyCache) Get(ctx context.Context) (*Hierarchy, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap != nil {
		return c.snap, nil
	}

	list, err := c.src.ListAuthorities(ctx)
	if err != nil {
		return nil, err
	}
	h, err := NewHierarchy(list)
	if err != nil {
		return nil, err
	}
	metrics.RecordHierarchyRebuild()
	c.snap = h
	return h, nil
}

// Invalidate drops the snapshot. Call it after every committed authority
// mutation.
func (c *HierarchyCache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}
