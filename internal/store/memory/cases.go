package memory

import (
	"context"
	"maps"
	"slices"
	"sort"

	"github.com/opensur/platform/internal/case/domain"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
)

func cloneReport(r domain.Report) domain.Report {
	r.Data = maps.Clone(r.Data)
	r.RelevantAuthorityIDs = cloneIDs(r.RelevantAuthorityIDs)
	r.ReportedBy = cloneID(r.ReportedBy)
	r.CaseID = cloneID(r.CaseID)
	return r
}

func cloneCase(c domain.Case) domain.Case {
	c.Authorities = cloneIDs(c.Authorities)
	return c
}

func cloneState(cs domain.CaseState) domain.CaseState {
	cs.TransitionID = cloneID(cs.TransitionID)
	return cs
}

func cloneRecord(rec domain.CaseStateTransition) domain.CaseStateTransition {
	rec.FormData = maps.Clone(rec.FormData)
	return rec
}

// PutReport stores a report. Reports are owned by the intake side, so the
// case repository only reads and stamps them.
func (s *Store) PutReport(r domain.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = cloneReport(r)
}

func (s *Store) GetReport(_ context.Context, id types.ID) (*domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, errors.NotFound("report", id.String())
	}
	r = cloneReport(r)
	return &r, nil
}

func (s *Store) CreateFromReport(_ context.Context, c *domain.Case, initial domain.CaseState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[c.ReportID]
	if !ok {
		return errors.NotFound("report", c.ReportID.String())
	}
	if r.Promoted() {
		return errors.Validation("report already has a case", map[string]string{
			"report_id": "report has already been promoted",
		})
	}

	s.cases[c.ID] = cloneCase(*c)
	s.states[c.ID] = []domain.CaseState{cloneState(initial)}
	caseID := c.ID
	r.CaseID = &caseID
	s.reports[r.ID] = r
	return nil
}

func (s *Store) FindByID(_ context.Context, id types.ID) (*domain.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, errors.NotFound("case", id.String())
	}
	c = cloneCase(c)
	return &c, nil
}

func (s *Store) List(_ context.Context, filter domain.ListFilter) ([]domain.Case, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var allowed types.IDSet
	if filter.AuthorityIDs != nil {
		allowed = types.NewIDSet(filter.AuthorityIDs...)
	}
	reportTypes := types.NewIDSet(filter.ReportTypeIDs...)

	var matched []domain.Case
	for _, c := range s.cases {
		if allowed != nil && !slices.ContainsFunc(c.Authorities, allowed.Has) {
			continue
		}
		if len(reportTypes) > 0 && !reportTypes.Has(c.ReportTypeID) {
			continue
		}
		if filter.IsFinished != nil && c.IsFinished != *filter.IsFinished {
			continue
		}
		matched = append(matched, cloneCase(c))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	out, total := page(matched, filter.Limit, filter.Offset)
	return out, total, nil
}

func (s *Store) SaveAdvance(_ context.Context, c *domain.Case, adv *domain.Advance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.cases[c.ID]
	if !ok {
		return errors.NotFound("case", c.ID.String())
	}
	if stored.Version != adv.ExpectedVersion {
		return errors.ConcurrentModification("case", c.ID.String())
	}

	s.cases[c.ID] = cloneCase(*c)
	s.states[c.ID] = append(s.states[c.ID], cloneState(adv.State))
	s.records[c.ID] = append(s.records[c.ID], cloneRecord(adv.Record))
	return nil
}

func (s *Store) History(_ context.Context, caseID types.ID) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byState := make(map[types.ID]domain.CaseStateTransition, len(s.records[caseID]))
	for _, rec := range s.records[caseID] {
		byState[rec.StateID] = rec
	}

	out := make([]domain.HistoryEntry, 0, len(s.states[caseID]))
	for _, cs := range s.states[caseID] {
		entry := domain.HistoryEntry{State: cloneState(cs)}
		if rec, ok := byState[cs.ID]; ok {
			rec = cloneRecord(rec)
			entry.Record = &rec
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State.Seq < out[j].State.Seq })
	return out, nil
}
