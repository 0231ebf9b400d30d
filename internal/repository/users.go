package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/atinyakov/timecapsule/internal/models"
)

// PostgresUserRepository implements user persistence against PostgreSQL.
type PostgresUserRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresUserRepository creates a PostgresUserRepository with the given database connection.
func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{DB: db}
}

const userColumns = `id, email, password_hash, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// ListUsers returns every user ordered by signup time.
func (r *PostgresUserRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("ListUsers: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateUser inserts u. A taken email yields models.ErrDuplicateEmail.
func (r *PostgresUserRepository) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	created, err := scanUser(r.DB.QueryRowContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING `+userColumns,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt,
	))
	if err != nil {
		if pqCode(err) == uniqueViolation {
			return models.User{}, models.ErrDuplicateEmail
		}
		return models.User{}, fmt.Errorf("CreateUser: %w", err)
	}
	return created, nil
}

// GetUser fetches a user by id.
func (r *PostgresUserRepository) GetUser(ctx context.Context, id string) (models.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, models.ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("GetUser: %w", err)
	}
	return u, nil
}

// UpdateUser applies the non-nil fields of patch to user id.
func (r *PostgresUserRepository) UpdateUser(ctx context.Context, id string, patch models.UserPatch, at time.Time) (models.User, error) {
	if patch.Empty() {
		return models.User{}, models.ErrNoFields
	}

	sets := []string{}
	args := []any{}
	if patch.Email != nil {
		args = append(args, *patch.Email)
		sets = append(sets, "email = $"+strconv.Itoa(len(args)))
	}
	if patch.PasswordHash != nil {
		args = append(args, *patch.PasswordHash)
		sets = append(sets, "password_hash = $"+strconv.Itoa(len(args)))
	}
	args = append(args, at)
	sets = append(sets, "updated_at = $"+strconv.Itoa(len(args)))
	args = append(args, id)

	query := `UPDATE users SET ` + strings.Join(sets, ", ") +
		` WHERE id = $` + strconv.Itoa(len(args)) + ` RETURNING ` + userColumns

	u, err := scanUser(r.DB.QueryRowContext(ctx, query, args...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.User{}, models.ErrNotFound
	case pqCode(err) == uniqueViolation:
		return models.User{}, models.ErrDuplicateEmail
	case err != nil:
		return models.User{}, fmt.Errorf("UpdateUser: %w", err)
	}
	return u, nil
}

// DeleteUser removes a user together with everything they own. Files of the
// user's capsule media are queued for removal in the same transaction.
func (r *PostgresUserRepository) DeleteUser(ctx context.Context, id string) error {
	return execTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_deletions (file_url)
			SELECT m.file_url FROM capsule_media m
			JOIN capsules c ON c.id = m.capsule_id
			WHERE c.owner_id = $1
			ON CONFLICT DO NOTHING
		`, id); err != nil {
			return fmt.Errorf("queue media files: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}
