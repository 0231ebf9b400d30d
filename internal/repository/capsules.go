package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/atinyakov/timecapsule/internal/models"
)

// PostgresCapsuleRepository implements capsule persistence against PostgreSQL,
// including content, media and recipients.
type PostgresCapsuleRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresCapsuleRepository creates a PostgresCapsuleRepository using the provided *sql.DB.
func NewPostgresCapsuleRepository(db *sql.DB) *PostgresCapsuleRepository {
	return &PostgresCapsuleRepository{DB: db}
}

const capsuleColumns = `id, title, unlock_at, is_unlocked, owner_id, created_at`

func scanCapsule(row interface{ Scan(...any) error }) (models.Capsule, error) {
	var c models.Capsule
	err := row.Scan(&c.ID, &c.Title, &c.UnlockAt, &c.IsUnlocked, &c.OwnerID, &c.CreatedAt)
	return c, err
}

// CreateCapsule inserts c. An owner that does not exist yields models.ErrUnknownUser.
func (r *PostgresCapsuleRepository) CreateCapsule(ctx context.Context, c models.Capsule) (models.Capsule, error) {
	created, err := scanCapsule(r.DB.QueryRowContext(ctx, `
		INSERT INTO capsules (id, title, unlock_at, is_unlocked, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+capsuleColumns,
		c.ID, c.Title, c.UnlockAt, c.IsUnlocked, c.OwnerID, c.CreatedAt,
	))
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return models.Capsule{}, models.ErrUnknownUser
		}
		return models.Capsule{}, fmt.Errorf("CreateCapsule: %w", err)
	}
	return created, nil
}

// GetCapsule fetches the capsule row only, without relations.
func (r *PostgresCapsuleRepository) GetCapsule(ctx context.Context, id string) (*models.Capsule, error) {
	c, err := scanCapsule(r.DB.QueryRowContext(ctx, `SELECT `+capsuleColumns+` FROM capsules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetCapsule: %w", err)
	}
	return &c, nil
}

// GetCapsuleDetails fetches a capsule with its content, media and recipients.
func (r *PostgresCapsuleRepository) GetCapsuleDetails(ctx context.Context, id string) (*models.Capsule, error) {
	c, err := r.GetCapsule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, []*models.Capsule{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCapsulesByOwner returns the owner's capsules, newest first, with relations.
func (r *PostgresCapsuleRepository) ListCapsulesByOwner(ctx context.Context, ownerID string) ([]*models.Capsule, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+capsuleColumns+` FROM capsules WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListCapsulesByOwner: %w", err)
	}

	capsules := []*models.Capsule{}
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan: %w", err)
		}
		capsules = append(capsules, &c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("ListCapsulesByOwner: %w", err)
	}
	_ = rows.Close()

	if len(capsules) == 0 {
		return capsules, nil
	}
	if err := r.loadRelations(ctx, capsules); err != nil {
		return nil, err
	}
	return capsules, nil
}

// loadRelations fills content, media and recipients of capsules with one
// query per relation.
func (r *PostgresCapsuleRepository) loadRelations(ctx context.Context, capsules []*models.Capsule) error {
	ids := make([]string, 0, len(capsules))
	byID := make(map[string]*models.Capsule, len(capsules))
	for _, c := range capsules {
		ids = append(ids, c.ID)
		byID[c.ID] = c
		c.Media = []models.CapsuleMedia{}
		c.Recipients = []models.CapsuleRecipient{}
	}

	if err := r.loadContents(ctx, ids, byID); err != nil {
		return err
	}
	if err := r.loadMedia(ctx, ids, byID); err != nil {
		return err
	}
	return r.loadRecipients(ctx, ids, byID)
}

func (r *PostgresCapsuleRepository) loadContents(ctx context.Context, ids []string, byID map[string]*models.Capsule) error {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, capsule_id, message, content_type, updated_at
		FROM capsule_contents WHERE capsule_id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load contents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cc models.CapsuleContent
		if err := rows.Scan(&cc.ID, &cc.CapsuleID, &cc.Message, &cc.ContentType, &cc.UpdatedAt); err != nil {
			return fmt.Errorf("scan content: %w", err)
		}
		if c, ok := byID[cc.CapsuleID]; ok {
			c.Content = &cc
		}
	}
	return rows.Err()
}

func (r *PostgresCapsuleRepository) loadMedia(ctx context.Context, ids []string, byID map[string]*models.Capsule) error {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, capsule_id, file_url, file_type, size, created_at
		FROM capsule_media WHERE capsule_id = ANY($1) ORDER BY created_at
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load media: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.CapsuleMedia
		if err := rows.Scan(&m.ID, &m.CapsuleID, &m.FileURL, &m.FileType, &m.Size, &m.CreatedAt); err != nil {
			return fmt.Errorf("scan media: %w", err)
		}
		if c, ok := byID[m.CapsuleID]; ok {
			c.Media = append(c.Media, m)
		}
	}
	return rows.Err()
}

func (r *PostgresCapsuleRepository) loadRecipients(ctx context.Context, ids []string, byID map[string]*models.Capsule) error {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, capsule_id, email, created_at
		FROM capsule_recipients WHERE capsule_id = ANY($1) ORDER BY created_at
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rc models.CapsuleRecipient
		if err := rows.Scan(&rc.ID, &rc.CapsuleID, &rc.Email, &rc.CreatedAt); err != nil {
			return fmt.Errorf("scan recipient: %w", err)
		}
		if c, ok := byID[rc.CapsuleID]; ok {
			c.Recipients = append(c.Recipients, rc)
		}
	}
	return rows.Err()
}

// UpdateCapsule applies the non-nil fields of patch and returns the capsule
// with its relations.
func (r *PostgresCapsuleRepository) UpdateCapsule(ctx context.Context, id string, patch models.CapsulePatch) (*models.Capsule, error) {
	if patch.Empty() {
		return nil, models.ErrNoFields
	}

	sets := []string{}
	args := []any{}
	if patch.Title != nil {
		args = append(args, *patch.Title)
		sets = append(sets, "title = $"+strconv.Itoa(len(args)))
	}
	if patch.UnlockAt != nil {
		args = append(args, *patch.UnlockAt)
		sets = append(sets, "unlock_at = $"+strconv.Itoa(len(args)))
	}
	args = append(args, id)

	query := `UPDATE capsules SET ` + strings.Join(sets, ", ") +
		` WHERE id = $` + strconv.Itoa(len(args)) + ` RETURNING ` + capsuleColumns

	c, err := scanCapsule(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateCapsule: %w", err)
	}
	if err := r.loadRelations(ctx, []*models.Capsule{&c}); err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCapsule removes a capsule and its content, media and recipients in a
// single transaction. Media files are queued for removal in the same
// transaction.
func (r *PostgresCapsuleRepository) DeleteCapsule(ctx context.Context, id string) error {
	return execTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_deletions (file_url)
			SELECT file_url FROM capsule_media WHERE capsule_id = $1
			ON CONFLICT DO NOTHING
		`, id); err != nil {
			return fmt.Errorf("queue media files: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM capsule_contents WHERE capsule_id = $1`, id); err != nil {
			return fmt.Errorf("delete content: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM capsule_media WHERE capsule_id = $1`, id); err != nil {
			return fmt.Errorf("delete media: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM capsule_recipients WHERE capsule_id = $1`, id); err != nil {
			return fmt.Errorf("delete recipients: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM capsules WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete capsule: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// UpsertContent creates or replaces the single content record of a capsule.
func (r *PostgresCapsuleRepository) UpsertContent(ctx context.Context, cc models.CapsuleContent) (models.CapsuleContent, error) {
	var out models.CapsuleContent
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO capsule_contents (id, capsule_id, message, content_type, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (capsule_id) DO UPDATE SET
			message = EXCLUDED.message,
			content_type = EXCLUDED.content_type,
			updated_at = EXCLUDED.updated_at
		RETURNING id, capsule_id, message, content_type, updated_at
	`, cc.ID, cc.CapsuleID, cc.Message, cc.ContentType, cc.UpdatedAt).
		Scan(&out.ID, &out.CapsuleID, &out.Message, &out.ContentType, &out.UpdatedAt)
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return models.CapsuleContent{}, models.ErrNotFound
		}
		return models.CapsuleContent{}, fmt.Errorf("UpsertContent: %w", err)
	}
	return out, nil
}

// CreateMedia records an uploaded file.
func (r *PostgresCapsuleRepository) CreateMedia(ctx context.Context, m models.CapsuleMedia) (models.CapsuleMedia, error) {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO capsule_media (id, capsule_id, file_url, file_type, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.CapsuleID, m.FileURL, m.FileType, m.Size, m.CreatedAt)
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return models.CapsuleMedia{}, models.ErrNotFound
		}
		return models.CapsuleMedia{}, fmt.Errorf("CreateMedia: %w", err)
	}
	return m, nil
}

// UpsertRecipients adds recipients to a capsule in one transaction. An email
// already on the capsule keeps its existing row, which is returned as is.
func (r *PostgresCapsuleRepository) UpsertRecipients(ctx context.Context, recipients []models.CapsuleRecipient) ([]models.CapsuleRecipient, error) {
	stored := make([]models.CapsuleRecipient, 0, len(recipients))
	err := execTx(ctx, r.DB, func(tx *sql.Tx) error {
		for _, rc := range recipients {
			var out models.CapsuleRecipient
			err := tx.QueryRowContext(ctx, `
				INSERT INTO capsule_recipients (id, capsule_id, email, created_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (capsule_id, email) DO UPDATE SET email = EXCLUDED.email
				RETURNING id, capsule_id, email, created_at
			`, rc.ID, rc.CapsuleID, rc.Email, rc.CreatedAt).
				Scan(&out.ID, &out.CapsuleID, &out.Email, &out.CreatedAt)
			if err != nil {
				if pqCode(err) == foreignKeyViolation {
					return models.ErrNotFound
				}
				return fmt.Errorf("upsert recipient: %w", err)
			}
			stored = append(stored, out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// DeleteRecipient removes one recipient of the given capsule.
func (r *PostgresCapsuleRepository) DeleteRecipient(ctx context.Context, capsuleID, recipientID string) error {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM capsule_recipients WHERE id = $1 AND capsule_id = $2
	`, recipientID, capsuleID)
	if err != nil {
		return fmt.Errorf("DeleteRecipient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrRecipientNotFound
	}
	return nil
}
