// Package memory provides an in-memory implementation of every persistence
// port, used for tests and ephemeral environments.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/opensur/platform/internal/authority"
	"github.com/opensur/platform/internal/case/domain"
	"github.com/opensur/platform/internal/notification"
	"github.com/opensur/platform/internal/shared/types"
	"github.com/opensur/platform/internal/workflow"
)

// Compile-time contract assertions.
var (
	_ authority.Store    = (*Store)(nil)
	_ workflow.Store     = (*Store)(nil)
	_ domain.Repository  = (*Store)(nil)
	_ notification.Store = (*Store)(nil)
	_ authority.Lister   = (*Store)(nil)
)

// Store keeps every record in maps guarded by one mutex. Values are copied
// on the way in and out.
type Store struct {
	mu sync.RWMutex

	authorities map[types.ID]authority.Authority
	users       map[types.ID]authority.User

	stateDefinitions map[types.ID]workflow.StateDefinition
	steps            map[types.ID]workflow.StateStep
	transitions      map[types.ID]workflow.StateTransition
	caseDefinitions  map[types.ID]workflow.CaseDefinition

	reports map[types.ID]domain.Report
	cases   map[types.ID]domain.Case
	states  map[types.ID][]domain.CaseState
	records map[types.ID][]domain.CaseStateTransition

	templates map[types.ID]notification.Template
	overrides map[overrideKey]notification.AuthorityNotification
}

type overrideKey struct {
	authority types.ID
	template  types.ID
}

// New creates an empty store
func New() *Store {
	return &Store{
		authorities:      make(map[types.ID]authority.Authority),
		users:            make(map[types.ID]authority.User),
		stateDefinitions: make(map[types.ID]workflow.StateDefinition),
		steps:            make(map[types.ID]workflow.StateStep),
		transitions:      make(map[types.ID]workflow.StateTransition),
		caseDefinitions:  make(map[types.ID]workflow.CaseDefinition),
		reports:          make(map[types.ID]domain.Report),
		cases:            make(map[types.ID]domain.Case),
		states:           make(map[types.ID][]domain.CaseState),
		records:          make(map[types.ID][]domain.CaseStateTransition),
		templates:        make(map[types.ID]notification.Template),
		overrides:        make(map[overrideKey]notification.AuthorityNotification),
	}
}

func cloneIDs(ids []types.ID) []types.ID {
	if ids == nil {
		return nil
	}
	return append([]types.ID(nil), ids...)
}

func cloneID(id *types.ID) *types.ID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// byCreated orders by creation time then id.
func byCreated[T any](items []T, key func(T) (time.Time, types.ID)) {
	sort.Slice(items, func(i, j int) bool {
		ti, ii := key(items[i])
		tj, ij := key(items[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ii < ij
	})
}

// page slices items by offset and limit, returning the total before
// slicing. A non-positive limit means 50.
func page[T any](items []T, limit, offset int) ([]T, int) {
	total := len(items)
	if limit <= 0 {
		limit = 50
	}
	start := min(max(offset, 0), total)
	end := min(start+limit, total)
	return append([]T{}, items[start:end]...), total
}
