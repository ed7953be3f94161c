package notification

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opensur/platform/internal/shared/database"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
)

// Repository persists templates and authority overrides in Postgres
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new notification repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const templateColumns = `id, name, type, state_transition_id, report_type_id, title_template, body_template, created_at, updated_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	t := &Template{}
	err := row.Scan(&t.ID, &t.Name, &t.Type, &t.StateTransitionID, &t.ReportTypeID,
		&t.TitleTemplate, &t.BodyTemplate, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// ListTemplates returns templates ordered by name
func (r *Repository) ListTemplates(ctx context.Context, filter TemplateFilter) ([]Template, error) {
	var transition any
	if filter.StateTransitionID != nil {
		transition = *filter.StateTransitionID
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+` FROM notification_templates
		WHERE ($1::uuid IS NULL OR state_transition_id = $1)
		ORDER BY name, id`, transition)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list notification templates")
	}
	defer rows.Close()

	out := []Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan notification template")
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetTemplate retrieves a template by ID
func (r *Repository) GetTemplate(ctx context.Context, id types.ID) (*Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM notification_templates WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, errors.NotFound("notification template", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get notification template")
	}
	return t, nil
}

func (r *Repository) CreateTemplate(ctx context.Context, t *Template) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Name, t.Type, t.StateTransitionID, t.ReportTypeID,
		t.TitleTemplate, t.BodyTemplate, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create notification template")
	}
	return nil
}

func (r *Repository) UpdateTemplate(ctx context.Context, t *Template) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_templates
		SET name = $2, type = $3, state_transition_id = $4, report_type_id = $5,
		    title_template = $6, body_template = $7, updated_at = $8
		WHERE id = $1`,
		t.ID, t.Name, t.Type, t.StateTransitionID, t.ReportTypeID,
		t.TitleTemplate, t.BodyTemplate, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update notification template")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("notification template", t.ID.String())
	}
	return nil
}

func (r *Repository) DeleteTemplate(ctx context.Context, id types.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notification_templates WHERE id = $1`, id)
	if database.IsForeignKeyViolation(err) {
		return errors.Conflict("notification template is still referenced")
	}
	if err != nil {
		return errors.Wrap(err, "failed to delete notification template")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("notification template", id.String())
	}
	return nil
}

func (r *Repository) TemplateReferences(ctx context.Context, id types.ID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM authority_notifications WHERE template_id = $1`, id).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count template references")
	}
	return n, nil
}

// --- Authority overrides ---

const overrideColumns = `id, authority_id, template_id, "to", created_at, updated_at`

func scanOverride(row pgx.Row) (*AuthorityNotification, error) {
	n := &AuthorityNotification{}
	err := row.Scan(&n.ID, &n.AuthorityID, &n.TemplateID, &n.To, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

// UpsertAuthorityNotification inserts or updates on (authority_id, template_id)
func (r *Repository) UpsertAuthorityNotification(ctx context.Context, n *AuthorityNotification) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO authority_notifications (id, authority_id, template_id, "to", created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (authority_id, template_id)
		DO UPDATE SET "to" = EXCLUDED."to", updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		n.ID, n.AuthorityID, n.TemplateID, n.To, n.CreatedAt, n.UpdatedAt,
	).Scan(&n.ID, &n.CreatedAt)
	if database.IsForeignKeyViolation(err) {
		return errors.Validation("authority notification references a missing record", map[string]string{
			"template_id": "template or authority does not exist",
		})
	}
	if err != nil {
		return errors.Wrap(err, "failed to upsert authority notification")
	}
	return nil
}

func (r *Repository) GetAuthorityNotification(ctx context.Context, authorityID, templateID types.ID) (*AuthorityNotification, error) {
	n, err := scanOverride(r.pool.QueryRow(ctx, `
		SELECT `+overrideColumns+` FROM authority_notifications
		WHERE authority_id = $1 AND template_id = $2`, authorityID, templateID))
	if database.IsNoRows(err) {
		return nil, errors.NotFound("authority notification", templateID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get authority notification")
	}
	return n, nil
}

func (r *Repository) ListAuthorityNotifications(ctx context.Context, authorityID types.ID) ([]AuthorityNotification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+overrideColumns+` FROM authority_notifications
		WHERE authority_id = $1 ORDER BY created_at, id`, authorityID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list authority notifications")
	}
	defer rows.Close()

	out := []AuthorityNotification{}
	for rows.Next() {
		n, err := scanOverride(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan authority notification")
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}
