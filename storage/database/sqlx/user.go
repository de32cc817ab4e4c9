package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/user"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type (
	userRow struct {
		ID           string     `db:"id"`
		SchoolID     string     `db:"school_id"`
		Name         string     `db:"name"`
		Email        string     `db:"email"`
		Phone        string     `db:"phone"`
		Role         string     `db:"role"`
		IsActive     bool       `db:"is_active"`
		PasswordHash null.Bytes `db:"password_hash"`
		CreatedAt    time.Time  `db:"created_at"`
		UpdatedAt    time.Time  `db:"updated_at"`
	}

	profileRow struct {
		UserID    string         `db:"user_id"`
		Reference string         `db:"reference"`
		ClassName string         `db:"class_name"`
		Subjects  pq.StringArray `db:"subjects"`
		ChildIDs  pq.StringArray `db:"child_ids"`
	}

	userRepository struct {
		exec core.DBExecutor
	}
)

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) user.Repository {
	return &userRepository{exec: exec}
}

func (repo *userRepository) toRow(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		SchoolID:     usr.SchoolID,
		Name:         usr.Name,
		Email:        usr.Email,
		Phone:        usr.Phone,
		Role:         string(usr.Role),
		IsActive:     usr.IsActive,
		PasswordHash: null.NewBytes(usr.PasswordHash, usr.PasswordHash != nil),
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
	}
}

func (repo *userRepository) fromRow(row userRow) user.User {
	return user.User{
		ID:           row.ID,
		SchoolID:     row.SchoolID,
		Name:         row.Name,
		Email:        row.Email,
		Phone:        row.Phone,
		Role:         user.Role(row.Role),
		IsActive:     row.IsActive,
		PasswordHash: row.PasswordHash.Bytes,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	q := `INSERT INTO users (id, school_id, name, email, phone, role, is_active, password_hash, created_at, updated_at)
		VALUES (:id, :school_id, :name, :email, :phone, :role, :is_active, :password_hash, :created_at, :updated_at)`
	if _, err := repo.exec.NamedExecContext(ctx, q, repo.toRow(usr)); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.GetUserByID(ctx, usr.ID)
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `UPDATE users SET school_id = :school_id, name = :name, email = :email, phone = :phone, role = :role,
		is_active = :is_active, password_hash = COALESCE(:password_hash, password_hash), updated_at = :updated_at
		WHERE id = :id`
	res, err := repo.exec.NamedExecContext(ctx, q, repo.toRow(usr))
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUserByID(ctx, usr.ID)
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, user.ErrNotFound
	}
	var row userRow
	if err := repo.exec.GetContext(ctx, &row, `SELECT * FROM users WHERE id = $1`, id); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "getting user by id")
	}
	return repo.fromRow(row), nil
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row userRow
	if err := repo.exec.GetContext(ctx, &row, `SELECT * FROM users WHERE email = $1`, email); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "getting user by email")
	}
	return repo.fromRow(row), nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter user.QueryFilter) ([]user.User, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.SchoolID != "" {
		where = append(where, "school_id = ?")
		args = append(args, filter.SchoolID)
	}
	if len(filter.Roles) > 0 {
		roles := make([]string, 0, len(filter.Roles))
		for _, r := range filter.Roles {
			roles = append(roles, string(r))
		}
		where = append(where, "role = ANY(?)")
		args = append(args, pq.StringArray(roles))
	}
	if filter.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, *filter.IsActive)
	}
	if len(filter.IDs) > 0 {
		ids := make([]string, 0, len(filter.IDs))
		for _, id := range filter.IDs {
			if _, err := uuid.Parse(id); err == nil {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return []user.User{}, nil
		}
		where = append(where, "id::text = ANY(?)")
		args = append(args, pq.StringArray(ids))
	}

	q := `SELECT * FROM users`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + core.DBOrdering{Field: "created_at", Ascending: true}.String() + ", id"

	var rows []userRow
	if err := repo.exec.SelectContext(ctx, &rows, repo.exec.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, repo.fromRow(row))
	}
	return users, nil
}

func (repo *userRepository) GetProfile(ctx context.Context, userID string) (user.Profile, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return user.Profile{}, user.ErrProfileNotFound
	}
	var row profileRow
	if err := repo.exec.GetContext(ctx, &row, `SELECT * FROM user_profiles WHERE user_id = $1`, userID); err != nil {
		return user.Profile{}, trapNoRowsErr(err, user.ErrProfileNotFound, "getting profile")
	}
	return user.Profile{
		UserID:    row.UserID,
		Reference: row.Reference,
		ClassName: row.ClassName,
		Subjects:  []string(row.Subjects),
		ChildIDs:  []string(row.ChildIDs),
	}, nil
}

func (repo *userRepository) SaveProfile(ctx context.Context, p user.Profile) (user.Profile, error) {
	row := profileRow{
		UserID:    p.UserID,
		Reference: p.Reference,
		ClassName: p.ClassName,
		Subjects:  pq.StringArray(nonNil(p.Subjects)),
		ChildIDs:  pq.StringArray(nonNil(p.ChildIDs)),
	}
	q := `INSERT INTO user_profiles (user_id, reference, class_name, subjects, child_ids)
		VALUES (:user_id, :reference, :class_name, :subjects, :child_ids)
		ON CONFLICT (user_id) DO UPDATE SET reference = EXCLUDED.reference, class_name = EXCLUDED.class_name,
		subjects = EXCLUDED.subjects, child_ids = EXCLUDED.child_ids`
	if _, err := repo.exec.NamedExecContext(ctx, q, row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return user.Profile{}, user.ErrNotFound
		}
		return user.Profile{}, errors.Wrap(err, "saving profile")
	}
	return p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ensure *sqlx.DB and *sqlx.Tx keep satisfying core.DBExecutor
var (
	_ core.DBExecutor = (*sqlx.DB)(nil)
	_ core.DBExecutor = (*sqlx.Tx)(nil)
)
