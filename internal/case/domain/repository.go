package domain

import (
	"context"

	"github.com/opensur/platform/internal/shared/types"
)

// Repository defines the interface for case persistence
type Repository interface {
	GetReport(ctx context.Context, id types.ID) (*Report, error)

	// CreateFromReport stores c with its initial state and authorities and
	// stamps the report, in one transaction. A report promoted concurrently
	// yields a Validation error.
	CreateFromReport(ctx context.Context, c *Case, initial CaseState) error

	FindByID(ctx context.Context, id types.ID) (*Case, error)

	// List returns cases newest first with the total matching filter.
	List(ctx context.Context, filter ListFilter) ([]Case, int, error)

	// SaveAdvance appends the state and record and moves the case head, in
	// one transaction guarded by adv.ExpectedVersion. A lost race yields
	// ConcurrentModification.
	SaveAdvance(ctx context.Context, c *Case, adv *Advance) error

	// History returns the case's states in sequence order with the record
	// that produced each.
	History(ctx context.Context, caseID types.ID) ([]HistoryEntry, error)
}

// ListFilter defines filters for listing cases. Nil AuthorityIDs means all
// authorities; an empty non-nil slice matches none. A case matches when any
// of its authorities is listed.
type ListFilter struct {
	AuthorityIDs  []types.ID `json:"authority_ids,omitempty"`
	ReportTypeIDs []types.ID `json:"report_type_ids,omitempty"`
	IsFinished    *bool      `json:"is_finished,omitempty"`
	Limit         int        `json:"limit,omitempty"`
	Offset        int        `json:"offset,omitempty"`
}

// DefaultListLimit applies when ListFilter.Limit is not positive.
const DefaultListLimit = 50
