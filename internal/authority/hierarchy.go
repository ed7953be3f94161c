package authority

import (
	"fmt"
	"sort"

	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
)

// Hierarchy is an immutable closure over a set of authorities. Every lookup
// is answered from maps precomputed by NewHierarchy.
type Hierarchy struct {
	byID        map[types.ID]Authority
	ancestors   map[types.ID][]types.ID
	descendants map[types.ID]types.IDSet
	children    map[types.ID][]types.ID
}

// NewHierarchy builds the closure. A parent reference that is unknown or
// that closes a cycle is a structural error.
func NewHierarchy(authorities []Authority) (*Hierarchy, error) {
	h := &Hierarchy{
		byID:        make(map[types.ID]Authority, len(authorities)),
		ancestors:   make(map[types.ID][]types.ID, len(authorities)),
		descendants: make(map[types.ID]types.IDSet, len(authorities)),
		children:    make(map[types.ID][]types.ID),
	}
	for _, a := range authorities {
		h.byID[a.ID] = a
	}

	for _, a := range authorities {
		if a.ParentID == nil {
			continue
		}
		if _, ok := h.byID[*a.ParentID]; !ok {
			return nil, errors.Structural("authority hierarchy is malformed", map[string]string{
				a.ID.String(): fmt.Sprintf("parent %s does not exist", *a.ParentID),
			})
		}
		h.children[*a.ParentID] = append(h.children[*a.ParentID], a.ID)
	}

	for id := range h.byID {
		chain, err := h.walkUp(id)
		if err != nil {
			return nil, err
		}
		h.ancestors[id] = chain
		for _, anc := range chain {
			set, ok := h.descendants[anc]
			if !ok {
				set = types.NewIDSet()
				h.descendants[anc] = set
			}
			set.Add(id)
		}
	}

	for parent, kids := range h.children {
		sort.Slice(kids, func(i, j int) bool { return h.byID[kids[i]].Code < h.byID[kids[j]].Code })
		h.children[parent] = kids
	}

	return h, nil
}

// walkUp returns id followed by each ancestor up to the root.
func (h *Hierarchy) walkUp(id types.ID) ([]types.ID, error) {
	seen := types.NewIDSet()
	var chain []types.ID
	for cur := id; ; {
		if seen.Has(cur) {
			return nil, errors.Structural("authority hierarchy is malformed", map[string]string{
				id.String(): "parent chain contains a cycle",
			})
		}
		seen.Add(cur)
		chain = append(chain, cur)

		parent := h.byID[cur].ParentID
		if parent == nil {
			return chain, nil
		}
		cur = *parent
	}
}

// Get returns the authority with id.
func (h *Hierarchy) Get(id types.ID) (Authority, bool) {
	a, ok := h.byID[id]
	return a, ok
}

// Len returns the number of authorities.
func (h *Hierarchy) Len() int {
	return len(h.byID)
}

// AncestorsOf returns id itself followed by its ancestors up to the root.
// Unknown ids yield nil.
func (h *Hierarchy) AncestorsOf(id types.ID) []Authority {
	chain := h.ancestors[id]
	if chain == nil {
		return nil
	}
	out := make([]Authority, len(chain))
	for i, anc := range chain {
		out[i] = h.byID[anc]
	}
	return out
}

// DescendantsOf returns id itself and every authority below it.
func (h *Hierarchy) DescendantsOf(id types.ID) map[types.ID]Authority {
	set := h.descendants[id]
	out := make(map[types.ID]Authority, len(set))
	for d := range set {
		out[d] = h.byID[d]
	}
	return out
}

// DescendantIDs returns the inclusive descendant ids of id in sorted order.
func (h *Hierarchy) DescendantIDs(id types.ID) []types.ID {
	return h.descendants[id].Sorted()
}

// IsDescendant reports whether id is root or lies below it.
func (h *Hierarchy) IsDescendant(root, id types.ID) bool {
	return h.descendants[root].Has(id)
}

// Children returns the direct children of id ordered by code.
func (h *Hierarchy) Children(id types.ID) []Authority {
	kids := h.children[id]
	out := make([]Authority, len(kids))
	for i, k := range kids {
		out[i] = h.byID[k]
	}
	return out
}

// Roots returns every authority without a parent, ordered by code.
func (h *Hierarchy) Roots() []Authority {
	var out []Authority
	for _, a := range h.byID {
		if a.ParentID == nil {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
