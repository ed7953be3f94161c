package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opensur/platform/internal/case/domain"
	"github.com/opensur/platform/internal/shared/database"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
)

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	db *database.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *database.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ domain.Repository = (*PostgresRepository)(nil)

func toIDs(ss []string) []types.ID {
	out := make([]types.ID, len(ss))
	for i, s := range ss {
		out[i] = types.ID(s)
	}
	return out
}

// GetReport loads a report
func (r *PostgresRepository) GetReport(ctx context.Context, id types.ID) (*domain.Report, error) {
	var (
		rep         domain.Report
		data        []byte
		authorities []string
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, report_type_id, data, relevant_authority_ids::text[], reported_by, case_id, created_at
		FROM reports WHERE id = $1`, id,
	).Scan(&rep.ID, &rep.ReportTypeID, &data, &authorities, &rep.ReportedBy, &rep.CaseID, &rep.CreatedAt)
	if database.IsNoRows(err) {
		return nil, errors.NotFound("report", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get report")
	}
	if err := json.Unmarshal(data, &rep.Data); err != nil {
		return nil, errors.Wrap(err, "failed to decode report data")
	}
	rep.RelevantAuthorityIDs = toIDs(authorities)
	return &rep, nil
}

// CreateFromReport saves a new case and stamps its report
func (r *PostgresRepository) CreateFromReport(ctx context.Context, c *domain.Case, initial domain.CaseState) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var existing *types.ID
		err := tx.QueryRow(ctx, `SELECT case_id FROM reports WHERE id = $1 FOR UPDATE`, c.ReportID).Scan(&existing)
		if database.IsNoRows(err) {
			return errors.NotFound("report", c.ReportID.String())
		}
		if err != nil {
			return err
		}
		if existing != nil {
			return alreadyPromoted()
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO cases (
				id, report_id, report_type_id, case_definition_id, state_definition_id,
				description, is_finished, current_state_id, current_step_id, version,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			c.ID, c.ReportID, c.ReportTypeID, c.CaseDefinitionID, c.StateDefinitionID,
			c.Description, c.IsFinished, c.CurrentStateID, c.CurrentStepID, c.Version,
			c.CreatedAt, c.UpdatedAt,
		)
		if database.IsUniqueViolation(err) {
			return alreadyPromoted()
		}
		if err != nil {
			return err
		}

		if err := insertState(ctx, tx, initial); err != nil {
			return err
		}

		for _, a := range c.Authorities {
			if _, err := tx.Exec(ctx,
				`INSERT INTO case_authorities (case_id, authority_id) VALUES ($1, $2)`, c.ID, a); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `UPDATE reports SET case_id = $2 WHERE id = $1`, c.ReportID, c.ID)
		return err
	})
	if err != nil {
		var appErr *errors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return errors.Wrap(err, "failed to create case")
	}
	return nil
}

func alreadyPromoted() error {
	return errors.Validation("report already has a case", map[string]string{
		"report_id": "report has already been promoted",
	})
}

func insertState(ctx context.Context, tx pgx.Tx, s domain.CaseState) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO case_states (id, case_id, step_id, transition_id, seq, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.CaseID, s.StepID, s.TransitionID, s.Seq, s.CreatedAt,
	)
	return err
}

const caseSelect = `
	SELECT c.id, c.report_id, c.report_type_id, c.case_definition_id, c.state_definition_id,
	       c.description, c.is_finished, c.current_state_id, c.current_step_id, c.version,
	       c.created_at, c.updated_at, COALESCE(s.seq, 0),
	       ARRAY(SELECT authority_id::text FROM case_authorities WHERE case_id = c.id ORDER BY authority_id)
	FROM cases c
	LEFT JOIN case_states s ON s.id = c.current_state_id`

func scanCase(row pgx.Row) (*domain.Case, error) {
	var (
		c           domain.Case
		authorities []string
	)
	err := row.Scan(
		&c.ID, &c.ReportID, &c.ReportTypeID, &c.CaseDefinitionID, &c.StateDefinitionID,
		&c.Description, &c.IsFinished, &c.CurrentStateID, &c.CurrentStepID, &c.Version,
		&c.CreatedAt, &c.UpdatedAt, &c.Seq, &authorities,
	)
	if err != nil {
		return nil, err
	}
	c.Authorities = toIDs(authorities)
	return &c, nil
}

// FindByID retrieves a case by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*domain.Case, error) {
	c, err := scanCase(r.db.Pool.QueryRow(ctx, caseSelect+` WHERE c.id = $1`, id))
	if database.IsNoRows(err) {
		return nil, errors.NotFound("case", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get case")
	}
	return c, nil
}

// List retrieves cases with filtering, newest first
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Case, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.AuthorityIDs != nil {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM case_authorities ca WHERE ca.case_id = c.id AND ca.authority_id = ANY($%d::uuid[]))", argNum))
		args = append(args, types.Strings(filter.AuthorityIDs))
		argNum++
	}
	if len(filter.ReportTypeIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("c.report_type_id = ANY($%d::uuid[])", argNum))
		args = append(args, types.Strings(filter.ReportTypeIDs))
		argNum++
	}
	if filter.IsFinished != nil {
		conditions = append(conditions, fmt.Sprintf("c.is_finished = $%d", argNum))
		args = append(args, *filter.IsFinished)
		argNum++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM cases c`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count cases")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = domain.DefaultListLimit
	}
	query := caseSelect + where + fmt.Sprintf(" ORDER BY c.created_at DESC, c.id LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list cases")
	}
	defer rows.Close()

	cases := []domain.Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan case")
		}
		cases = append(cases, *c)
	}
	return cases, total, rows.Err()
}

// SaveAdvance commits a transition. The version predicate takes the row
// lock; a concurrent writer that committed first leaves nothing to update.
func (r *PostgresRepository) SaveAdvance(ctx context.Context, c *domain.Case, adv *domain.Advance) error {
	formData, err := json.Marshal(adv.Record.FormData)
	if err != nil {
		return errors.Wrap(err, "failed to encode form data")
	}

	err = r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE cases
			SET current_state_id = $3, current_step_id = $4, is_finished = $5, version = $6, updated_at = $7
			WHERE id = $1 AND version = $2`,
			c.ID, adv.ExpectedVersion, c.CurrentStateID, c.CurrentStepID, c.IsFinished, c.Version, c.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errors.ConcurrentModification("case", c.ID.String())
		}

		if err := insertState(ctx, tx, adv.State); err != nil {
			if database.IsUniqueViolation(err) {
				return errors.ConcurrentModification("case", c.ID.String())
			}
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO case_state_transitions (id, case_id, transition_id, state_id, form_data, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			adv.Record.ID, adv.Record.CaseID, adv.Record.TransitionID, adv.Record.StateID,
			formData, adv.Record.CreatedBy, adv.Record.CreatedAt,
		)
		return err
	})
	if err != nil {
		var appErr *errors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return errors.Wrap(err, "failed to save case transition")
	}
	return nil
}

// History returns the case's states with the records that produced them
func (r *PostgresRepository) History(ctx context.Context, caseID types.ID) ([]domain.HistoryEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT s.id, s.case_id, s.step_id, s.transition_id, s.seq, s.created_at,
		       t.id, t.transition_id, t.form_data, t.created_by, t.created_at
		FROM case_states s
		LEFT JOIN case_state_transitions t ON t.state_id = s.id
		WHERE s.case_id = $1
		ORDER BY s.seq`, caseID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load case history")
	}
	defer rows.Close()

	out := []domain.HistoryEntry{}
	for rows.Next() {
		var (
			e          domain.HistoryEntry
			recID      *types.ID
			recTrans   *types.ID
			recForm    []byte
			recBy      *types.ID
			recCreated *time.Time
		)
		if err := rows.Scan(
			&e.State.ID, &e.State.CaseID, &e.State.StepID, &e.State.TransitionID, &e.State.Seq, &e.State.CreatedAt,
			&recID, &recTrans, &recForm, &recBy, &recCreated,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan case state")
		}
		if recID != nil {
			rec := &domain.CaseStateTransition{
				ID:           *recID,
				CaseID:       e.State.CaseID,
				TransitionID: *recTrans,
				StateID:      e.State.ID,
			}
			if recBy != nil {
				rec.CreatedBy = *recBy
			}
			if recCreated != nil {
				rec.CreatedAt = *recCreated
			}
			if len(recForm) > 0 {
				if err := json.Unmarshal(recForm, &rec.FormData); err != nil {
					return nil, errors.Wrap(err, "failed to decode form data")
				}
			}
			e.Record = rec
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
