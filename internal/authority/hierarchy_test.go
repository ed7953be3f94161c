package authority

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
)

func chain(n int) []Authority {
	out := make([]Authority, n)
	for i := range out {
		out[i] = Authority{ID: types.NewID(), Code: fmt.Sprintf("a%04d", i)}
		if i > 0 {
			parent := out[i-1].ID
			out[i].ParentID = &parent
		}
	}
	return out
}

func ids(list []Authority) []types.ID {
	out := make([]types.ID, len(list))
	for i, a := range list {
		out[i] = a.ID
	}
	return out
}

func TestHierarchyAncestorsAndDescendants(t *testing.T) {
	root := Authority{ID: types.NewID(), Code: "root"}
	left := Authority{ID: types.NewID(), Code: "left", ParentID: &root.ID}
	right := Authority{ID: types.NewID(), Code: "right", ParentID: &root.ID}
	leaf := Authority{ID: types.NewID(), Code: "leaf", ParentID: &left.ID}
	lone := Authority{ID: types.NewID(), Code: "lone"}

	h, err := NewHierarchy([]Authority{leaf, right, root, lone, left})
	require.NoError(t, err)

	assert.Equal(t, []types.ID{leaf.ID, left.ID, root.ID}, ids(h.AncestorsOf(leaf.ID)))
	assert.Equal(t, []types.ID{root.ID}, ids(h.AncestorsOf(root.ID)))
	assert.Nil(t, h.AncestorsOf(types.NewID()))

	desc := h.DescendantsOf(root.ID)
	assert.Len(t, desc, 4)
	for _, id := range []types.ID{root.ID, left.ID, right.ID, leaf.ID} {
		assert.Contains(t, desc, id)
	}
	assert.Len(t, h.DescendantsOf(lone.ID), 1)

	assert.Equal(t, []string{"left", "right"}, []string{h.Children(root.ID)[0].Code, h.Children(root.ID)[1].Code})
	assert.Equal(t, []string{"lone", "root"}, []string{h.Roots()[0].Code, h.Roots()[1].Code})
}

func TestHierarchyClosureProperties(t *testing.T) {
	list := chain(6)
	branch := Authority{ID: types.NewID(), Code: "branch", ParentID: &list[2].ID}
	list = append(list, branch)

	h, err := NewHierarchy(list)
	require.NoError(t, err)

	for _, a := range list {
		anc := h.AncestorsOf(a.ID)
		require.NotEmpty(t, anc)
		assert.Equal(t, a.ID, anc[0].ID, "ancestors start with self")
		assert.Nil(t, anc[len(anc)-1].ParentID, "ancestors end at a root")
		assert.Contains(t, h.DescendantsOf(a.ID), a.ID, "descendants include self")

		for _, b := range list {
			inAnc := false
			for _, x := range h.AncestorsOf(b.ID) {
				if x.ID == a.ID {
					inAnc = true
				}
			}
			_, inDesc := h.DescendantsOf(a.ID)[b.ID]
			assert.Equal(t, inAnc, inDesc, "a ancestor of b iff b descendant of a")
		}
	}
}

func TestHierarchyDeepChain(t *testing.T) {
	list := chain(2000)
	h, err := NewHierarchy(list)
	require.NoError(t, err)

	assert.Len(t, h.AncestorsOf(list[len(list)-1].ID), 2000)
	assert.Len(t, h.DescendantsOf(list[0].ID), 2000)
	assert.True(t, h.IsDescendant(list[0].ID, list[1999].ID))
	assert.False(t, h.IsDescendant(list[1999].ID, list[0].ID))
}

func TestHierarchyRejectsCycles(t *testing.T) {
	a := Authority{ID: types.NewID(), Code: "a"}
	b := Authority{ID: types.NewID(), Code: "b"}
	c := Authority{ID: types.NewID(), Code: "c"}
	a.ParentID = &c.ID
	b.ParentID = &a.ID
	c.ParentID = &b.ID

	_, err := NewHierarchy([]Authority{a, b, c})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStructural))

	self := Authority{ID: types.NewID(), Code: "self"}
	self.ParentID = &self.ID
	_, err = NewHierarchy([]Authority{self})
	assert.True(t, errors.Is(err, errors.ErrStructural))
}

func TestHierarchyRejectsUnknownParent(t *testing.T) {
	missing := types.NewID()
	_, err := NewHierarchy([]Authority{{ID: types.NewID(), Code: "orphan", ParentID: &missing}})
	assert.True(t, errors.Is(err, errors.ErrStructural))
}

type countingLister struct {
	mu    sync.Mutex
	list  []Authority
	calls int
}

func (l *countingLister) ListAuthorities(context.Context) ([]Authority, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return append([]Authority(nil), l.list...), nil
}

func TestHierarchyCacheInvalidate(t *testing.T) {
	root := Authority{ID: types.NewID(), Code: "root"}
	child := Authority{ID: types.NewID(), Code: "child", ParentID: &root.ID}
	other := Authority{ID: types.NewID(), Code: "other"}
	src := &countingLister{list: []Authority{root, child, other}}
	cache := NewHierarchyCache(src)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, src.calls, "concurrent readers share one build")

	h, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.True(t, h.IsDescendant(root.ID, child.ID))

	src.mu.Lock()
	src.list[1].ParentID = &other.ID
	src.mu.Unlock()

	h, _ = cache.Get(ctx)
	assert.True(t, h.IsDescendant(root.ID, child.ID), "stale until invalidated")

	cache.Invalidate()
	h, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.False(t, h.IsDescendant(root.ID, child.ID))
	assert.True(t, h.IsDescendant(other.ID, child.ID))
	assert.Equal(t, 2, src.calls)
}
