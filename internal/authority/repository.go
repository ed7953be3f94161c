package authority

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opensur/platform/internal/shared/database"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
)

// Repository provides database operations for authorities and their users
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new authority repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// --- Authority Operations ---

const authorityColumns = `id, code, name, parent_id, created_at, updated_at`

func scanAuthority(row pgx.Row) (*Authority, error) {
	a := &Authority{}
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.ParentID, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// ListAuthorities returns every authority ordered by code
func (r *Repository) ListAuthorities(ctx context.Context) ([]Authority, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+authorityColumns+` FROM authorities ORDER BY code`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list authorities")
	}
	defer rows.Close()

	var out []Authority
	for rows.Next() {
		a, err := scanAuthority(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan authority")
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetAuthority retrieves an authority by ID
func (r *Repository) GetAuthority(ctx context.Context, id types.ID) (*Authority, error) {
	a, err := scanAuthority(r.pool.QueryRow(ctx, `SELECT `+authorityColumns+` FROM authorities WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, errors.NotFound("authority", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get authority")
	}
	return a, nil
}

// CreateAuthority inserts a new authority
func (r *Repository) CreateAuthority(ctx context.Context, a *Authority) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO authorities (id, code, name, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Code, a.Name, a.ParentID, a.CreatedAt, a.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return errors.Conflict("authority with this code already exists")
	}
	if err != nil {
		return errors.Wrap(err, "failed to create authority")
	}
	return nil
}

// UpdateAuthority updates an authority
func (r *Repository) UpdateAuthority(ctx context.Context, a *Authority) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE authorities SET code = $2, name = $3, parent_id = $4, updated_at = $5
		WHERE id = $1`,
		a.ID, a.Code, a.Name, a.ParentID, a.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return errors.Conflict("authority with this code already exists")
	}
	if err != nil {
		return errors.Wrap(err, "failed to update authority")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("authority", a.ID.String())
	}
	return nil
}

// DeleteAuthority removes an authority. Foreign keys restrict deletion of
// authorities still referenced by cases or notifications.
func (r *Repository) DeleteAuthority(ctx context.Context, id types.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM authorities WHERE id = $1`, id)
	if database.IsForeignKeyViolation(err) {
		return errors.Conflict("authority is still referenced")
	}
	if err != nil {
		return errors.Wrap(err, "failed to delete authority")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("authority", id.String())
	}
	return nil
}

// AuthorityCodeTaken reports whether another authority uses code
func (r *Repository) AuthorityCodeTaken(ctx context.Context, code string, exclude types.ID) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM authorities WHERE code = $1 AND ($2::uuid IS NULL OR id <> $2))`,
		code, exclude,
	).Scan(&taken)
	if err != nil {
		return false, errors.Wrap(err, "failed to check authority code")
	}
	return taken, nil
}

// CountChildAuthorities counts direct children of id
func (r *Repository) CountChildAuthorities(ctx context.Context, id types.ID) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM authorities WHERE parent_id = $1`, id).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count child authorities")
	}
	return n, nil
}

// CountUsers counts users bound to authorityID
func (r *Repository) CountUsers(ctx context.Context, authorityID types.ID) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM authority_users WHERE authority_id = $1`, authorityID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count authority users")
	}
	return n, nil
}

// CountCases counts cases assigned to authorityID
func (r *Repository) CountCases(ctx context.Context, authorityID types.ID) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM case_authorities WHERE authority_id = $1`, authorityID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count authority cases")
	}
	return n, nil
}

// --- User Operations ---

const userColumns = `id, username, first_name, last_name, email, telephone, authority_id,
	role, is_staff, is_superuser, password_hash, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email, &u.Telephone, &u.AuthorityID,
		&u.Role, &u.IsStaff, &u.IsSuperuser, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

// GetUser retrieves an authority user by ID
func (r *Repository) GetUser(ctx context.Context, id types.ID) (*User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM authority_users WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, errors.NotFound("authority user", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get authority user")
	}
	return u, nil
}

// ListUsers lists authority users matching filter
func (r *Repository) ListUsers(ctx context.Context, filter UserFilter) ([]User, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.AuthorityIDs != nil {
		conditions = append(conditions, fmt.Sprintf("authority_id = ANY($%d::uuid[])", argNum))
		args = append(args, types.Strings(filter.AuthorityIDs))
		argNum++
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(username ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)", argNum, argNum, argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM authority_users `+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count authority users")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM authority_users %s ORDER BY username LIMIT $%d OFFSET $%d`,
		userColumns, where, argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list authority users")
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan authority user")
		}
		users = append(users, *u)
	}
	return users, total, rows.Err()
}

// CreateUser inserts an authority user
func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO authority_users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID, u.Username, u.FirstName, u.LastName, u.Email, u.Telephone, u.AuthorityID,
		u.Role, u.IsStaff, u.IsSuperuser, u.PasswordHash, u.CreatedAt, u.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return errors.Conflict("authority user with this username already exists")
	}
	if err != nil {
		return errors.Wrap(err, "failed to create authority user")
	}
	return nil
}

// UpdateUser updates an authority user
func (r *Repository) UpdateUser(ctx context.Context, u *User) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE authority_users SET
			username = $2, first_name = $3, last_name = $4, email = $5, telephone = $6,
			authority_id = $7, role = $8, is_staff = $9, is_superuser = $10,
			password_hash = $11, updated_at = $12
		WHERE id = $1`,
		u.ID, u.Username, u.FirstName, u.LastName, u.Email, u.Telephone,
		u.AuthorityID, u.Role, u.IsStaff, u.IsSuperuser, u.PasswordHash, u.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return errors.Conflict("authority user with this username already exists")
	}
	if err != nil {
		return errors.Wrap(err, "failed to update authority user")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("authority user", u.ID.String())
	}
	return nil
}

// DeleteUser removes an authority user
func (r *Repository) DeleteUser(ctx context.Context, id types.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM authority_users WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete authority user")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("authority user", id.String())
	}
	return nil
}

// UsernameTaken reports whether another user holds username
func (r *Repository) UsernameTaken(ctx context.Context, username string, exclude types.ID) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM authority_users WHERE username = $1 AND ($2::uuid IS NULL OR id <> $2))`,
		username, exclude,
	).Scan(&taken)
	if err != nil {
		return false, errors.Wrap(err, "failed to check username")
	}
	return taken, nil
}
