package workflow

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/opensur/platform/internal/shared/database"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
)

// Repository persists workflow definitions in Postgres
type Repository struct {
	db *database.DB
}

// NewRepository creates a new workflow repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func collect[T any](ctx context.Context, q queryer, scan func(pgx.Row) (*T, error), sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (r *Repository) count(ctx context.Context, sql string, id types.ID) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, sql, id).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count references")
	}
	return n, nil
}

func (r *Repository) delete(ctx context.Context, resource, sql string, id types.ID) error {
	tag, err := r.db.Pool.Exec(ctx, sql, id)
	if database.IsForeignKeyViolation(err) {
		return errors.Conflict(resource + " is still referenced")
	}
	if err != nil {
		return errors.Wrap(err, "failed to delete "+resource)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound(resource, id.String())
	}
	return nil
}

// --- State definitions ---

const stateDefinitionColumns = `id, name, is_default, created_at, updated_at`

func scanStateDefinition(row pgx.Row) (*StateDefinition, error) {
	d := &StateDefinition{}
	err := row.Scan(&d.ID, &d.Name, &d.IsDefault, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (r *Repository) ListStateDefinitions(ctx context.Context) ([]StateDefinition, error) {
	out, err := collect(ctx, r.db.Pool, scanStateDefinition,
		`SELECT `+stateDefinitionColumns+` FROM state_definitions ORDER BY name, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list state definitions")
	}
	return out, nil
}

func (r *Repository) GetStateDefinition(ctx context.Context, id types.ID) (*StateDefinition, error) {
	d, err := scanStateDefinition(r.db.Pool.QueryRow(ctx,
		`SELECT `+stateDefinitionColumns+` FROM state_definitions WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, errors.NotFound("state definition", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get state definition")
	}
	return d, nil
}

func (r *Repository) GetDefaultStateDefinition(ctx context.Context) (*StateDefinition, error) {
	d, err := scanStateDefinition(r.db.Pool.QueryRow(ctx,
		`SELECT `+stateDefinitionColumns+` FROM state_definitions WHERE is_default`))
	if database.IsNoRows(err) {
		return nil, errors.NotFound("state definition", "default")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get default state definition")
	}
	return d, nil
}

// CreateStateDefinition inserts d, taking over the default flag when set.
func (r *Repository) CreateStateDefinition(ctx context.Context, d *StateDefinition) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := clearDefault(ctx, tx, d); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO state_definitions (id, name, is_default, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)`,
			d.ID, d.Name, d.IsDefault, d.CreatedAt, d.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "failed to create state definition")
	}
	return nil
}

func (r *Repository) UpdateStateDefinition(ctx context.Context, d *StateDefinition) error {
	var affected int64
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := clearDefault(ctx, tx, d); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE state_definitions SET name = $2, is_default = $3, updated_at = $4
			WHERE id = $1`,
			d.ID, d.Name, d.IsDefault, d.UpdatedAt,
		)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return errors.Wrap(err, "failed to update state definition")
	}
	if affected == 0 {
		return errors.NotFound("state definition", d.ID.String())
	}
	return nil
}

func clearDefault(ctx context.Context, tx pgx.Tx, d *StateDefinition) error {
	if !d.IsDefault {
		return nil
	}
	_, err := tx.Exec(ctx,
		`UPDATE state_definitions SET is_default = FALSE, updated_at = $2 WHERE is_default AND id <> $1`,
		d.ID, d.UpdatedAt)
	return err
}

func (r *Repository) DeleteStateDefinition(ctx context.Context, id types.ID) error {
	return r.delete(ctx, "state definition", `DELETE FROM state_definitions WHERE id = $1`, id)
}

func (r *Repository) StateDefinitionReferences(ctx context.Context, id types.ID) (int, error) {
	return r.count(ctx, `
		SELECT (SELECT COUNT(*) FROM state_steps WHERE state_definition_id = $1)
		     + (SELECT COUNT(*) FROM case_definitions WHERE state_definition_id = $1)
		     + (SELECT COUNT(*) FROM cases WHERE state_definition_id = $1)`, id)
}

// --- Steps ---

const stepColumns = `id, state_definition_id, name, is_start_state, is_stop_state, is_default, created_at, updated_at`

func scanStep(row pgx.Row) (*StateStep, error) {
	s := &StateStep{}
	err := row.Scan(&s.ID, &s.StateDefinitionID, &s.Name, &s.IsStartState, &s.IsStopState,
		&s.IsDefault, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *Repository) ListSteps(ctx context.Context, stateDefinitionID types.ID) ([]StateStep, error) {
	out, err := collect(ctx, r.db.Pool, scanStep,
		`SELECT `+stepColumns+` FROM state_steps WHERE state_definition_id = $1 ORDER BY created_at, id`,
		stateDefinitionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list state steps")
	}
	return out, nil
}

func (r *Repository) GetStep(ctx context.Context, id types.ID) (*StateStep, error) {
	s, err := scanStep(r.db.Pool.QueryRow(ctx, `SELECT `+stepColumns+` FROM state_steps WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, errors.NotFound("state step", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get state step")
	}
	return s, nil
}

func (r *Repository) CreateStep(ctx context.Context, s *StateStep) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO state_steps (id, state_definition_id, name, is_start_state, is_stop_state, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.StateDefinitionID, s.Name, s.IsStartState, s.IsStopState, s.IsDefault, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create state step")
	}
	return nil
}

func (r *Repository) UpdateStep(ctx context.Context, s *StateStep) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE state_steps
		SET state_definition_id = $2, name = $3, is_start_state = $4, is_stop_state = $5, is_default = $6, updated_at = $7
		WHERE id = $1`,
		s.ID, s.StateDefinitionID, s.Name, s.IsStartState, s.IsStopState, s.IsDefault, s.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update state step")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("state step", s.ID.String())
	}
	return nil
}

func (r *Repository) DeleteStep(ctx context.Context, id types.ID) error {
	return r.delete(ctx, "state step", `DELETE FROM state_steps WHERE id = $1`, id)
}

func (r *Repository) StepReferences(ctx context.Context, id types.ID) (int, error) {
	return r.count(ctx, `
		SELECT (SELECT COUNT(*) FROM state_transitions WHERE from_step_id = $1 OR to_step_id = $1)
		     + (SELECT COUNT(*) FROM case_states WHERE step_id = $1)`, id)
}

// --- Transitions ---

const transitionColumns = `t.id, t.from_step_id, t.to_step_id, t.form_definition, t.created_at, t.updated_at`

func scanTransition(row pgx.Row) (*StateTransition, error) {
	t := &StateTransition{}
	var form []byte
	err := row.Scan(&t.ID, &t.FromStepID, &t.ToStepID, &form, &t.CreatedAt, &t.UpdatedAt)
	if len(form) > 0 {
		t.FormDefinition = form
	}
	return t, err
}

// ListTransitions returns transitions whose source or target step belongs
// to the definition, so cross-definition edges surface in validation.
func (r *Repository) ListTransitions(ctx context.Context, stateDefinitionID types.ID) ([]StateTransition, error) {
	out, err := collect(ctx, r.db.Pool, scanTransition, `
		SELECT `+transitionColumns+`
		FROM state_transitions t
		WHERE t.from_step_id IN (SELECT id FROM state_steps WHERE state_definition_id = $1)
		   OR t.to_step_id IN (SELECT id FROM state_steps WHERE state_definition_id = $1)
		ORDER BY t.created_at, t.id`, stateDefinitionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list state transitions")
	}
	return out, nil
}

func (r *Repository) GetTransition(ctx context.Context, id types.ID) (*StateTransition, error) {
	t, err := scanTransition(r.db.Pool.QueryRow(ctx,
		`SELECT `+transitionColumns+` FROM state_transitions t WHERE t.id = $1`, id))
	if database.IsNoRows(err) {
		return nil, errors.NotFound("state transition", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get state transition")
	}
	return t, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (r *Repository) CreateTransition(ctx context.Context, t *StateTransition) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO state_transitions (id, from_step_id, to_step_id, form_definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)`,
		t.ID, t.FromStepID, t.ToStepID, nullableJSON(t.FormDefinition), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create state transition")
	}
	return nil
}

func (r *Repository) UpdateTransition(ctx context.Context, t *StateTransition) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE state_transitions SET from_step_id = $2, to_step_id = $3, form_definition = $4::jsonb, updated_at = $5
		WHERE id = $1`,
		t.ID, t.FromStepID, t.ToStepID, nullableJSON(t.FormDefinition), t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update state transition")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("state transition", t.ID.String())
	}
	return nil
}

func (r *Repository) DeleteTransition(ctx context.Context, id types.ID) error {
	return r.delete(ctx, "state transition", `DELETE FROM state_transitions WHERE id = $1`, id)
}

func (r *Repository) TransitionReferences(ctx context.Context, id types.ID) (int, error) {
	return r.count(ctx, `
		SELECT (SELECT COUNT(*) FROM case_state_transitions WHERE transition_id = $1)
		     + (SELECT COUNT(*) FROM case_states WHERE transition_id = $1)
		     + (SELECT COUNT(*) FROM notification_templates WHERE state_transition_id = $1)`, id)
}

// --- Case definitions ---

const caseDefinitionColumns = `id, report_type_id, description, condition, is_active, state_definition_id, created_at, updated_at`

func scanCaseDefinition(row pgx.Row) (*CaseDefinition, error) {
	d := &CaseDefinition{}
	err := row.Scan(&d.ID, &d.ReportTypeID, &d.Description, &d.Condition, &d.IsActive,
		&d.StateDefinitionID, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (r *Repository) ListCaseDefinitions(ctx context.Context, filter CaseDefinitionFilter) ([]CaseDefinition, error) {
	var reportType any
	if filter.ReportTypeID != nil {
		reportType = *filter.ReportTypeID
	}
	out, err := collect(ctx, r.db.Pool, scanCaseDefinition, `
		SELECT `+caseDefinitionColumns+` FROM case_definitions
		WHERE ($1::uuid IS NULL OR report_type_id = $1)
		  AND (NOT $2 OR is_active)
		ORDER BY created_at, id`, reportType, filter.ActiveOnly)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list case definitions")
	}
	return out, nil
}

func (r *Repository) GetCaseDefinition(ctx context.Context, id types.ID) (*CaseDefinition, error) {
	d, err := scanCaseDefinition(r.db.Pool.QueryRow(ctx,
		`SELECT `+caseDefinitionColumns+` FROM case_definitions WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, errors.NotFound("case definition", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get case definition")
	}
	return d, nil
}

func (r *Repository) CreateCaseDefinition(ctx context.Context, d *CaseDefinition) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO case_definitions (id, report_type_id, description, condition, is_active, state_definition_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.ReportTypeID, d.Description, d.Condition, d.IsActive, d.StateDefinitionID, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create case definition")
	}
	return nil
}

func (r *Repository) UpdateCaseDefinition(ctx context.Context, d *CaseDefinition) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE case_definitions
		SET report_type_id = $2, description = $3, condition = $4, is_active = $5, state_definition_id = $6, updated_at = $7
		WHERE id = $1`,
		d.ID, d.ReportTypeID, d.Description, d.Condition, d.IsActive, d.StateDefinitionID, d.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update case definition")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("case definition", d.ID.String())
	}
	return nil
}

func (r *Repository) DeleteCaseDefinition(ctx context.Context, id types.ID) error {
	return r.delete(ctx, "case definition", `DELETE FROM case_definitions WHERE id = $1`, id)
}

func (r *Repository) CaseDefinitionReferences(ctx context.Context, id types.ID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM cases WHERE case_definition_id = $1`, id)
}
