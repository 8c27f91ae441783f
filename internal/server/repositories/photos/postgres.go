// Package photos provides the PostgreSQL-backed record store for
// PhotoRecords.
package photos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/dmitrijs2005/shashinpass/internal/dbx"
	"github.com/dmitrijs2005/shashinpass/internal/server/models"
	"github.com/google/uuid"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new unpaid record. An empty ID is replaced with a fresh UUID.
func (r *PostgresRepository) Create(ctx context.Context, photo *models.Photo) (*models.Photo, error) {
	if photo.ID == "" {
		photo.ID = uuid.NewString()
	}

	query := `
		INSERT INTO photo_records (id, input_ref, contact_email)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`
	if err := r.db.QueryRowContext(ctx, query, photo.ID, photo.InputRef, photo.ContactEmail).
		Scan(&photo.CreatedAt, &photo.UpdatedAt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	photo.Paid = false
	return photo, nil
}

// Get returns the record by id or common.ErrorNotFound. Ids that are not
// UUIDs cannot exist and are reported as not found without a query.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Photo, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}

	query := `
		SELECT id, paid, paid_at, contact_email, input_ref,
			COALESCE(output_ref, ''), COALESCE(preview_ref, ''),
			checkout_session_id, transform_fallback, created_at, updated_at
		FROM photo_records
		WHERE id = $1
	`
	var (
		p      models.Photo
		paidAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Paid, &paidAt, &p.ContactEmail, &p.InputRef,
		&p.OutputRef, &p.PreviewRef,
		&p.CheckoutSessionID, &p.TransformFallback, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	return &p, nil
}

// SetOutput writes the transform result only while output_ref is still NULL.
// A repeated call leaves the first result in place and returns it. An empty
// previewRef is stored as NULL.
func (r *PostgresRepository) SetOutput(ctx context.Context, id, outputRef, previewRef string, fallback bool) (*models.Photo, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}

	query := `
		UPDATE photo_records
		SET output_ref = $2, preview_ref = NULLIF($3, ''), transform_fallback = $4, updated_at = now()
		WHERE id = $1 AND output_ref IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, outputRef, previewRef, fallback)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected error: %w", err)
	}
	if n > 1 {
		return nil, fmt.Errorf("unexpected rows affected: %d", n)
	}
	return r.Get(ctx, id)
}

// MarkPaid sets paid once. The contact e-mail is only filled in when the
// record has none yet.
func (r *PostgresRepository) MarkPaid(ctx context.Context, id, email string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, common.ErrorNotFound
	}

	query := `
		UPDATE photo_records
		SET paid = TRUE, paid_at = now(),
			contact_email = CASE WHEN contact_email = '' THEN $2 ELSE contact_email END,
			updated_at = now()
		WHERE id = $1 AND paid = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, id, email)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return true, nil
	case 0:
		// Either already paid or missing.
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// AttachCheckout replaces the record's checkout session with sessionID, but
// only while the stored session is still prevSessionID and the record is
// unpaid. It reports whether the swap happened; a lost race yields (false, nil).
func (r *PostgresRepository) AttachCheckout(ctx context.Context, id, prevSessionID, sessionID, email string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, common.ErrorNotFound
	}

	query := `
		UPDATE photo_records
		SET checkout_session_id = $2,
			contact_email = COALESCE(NULLIF($3, ''), contact_email),
			updated_at = now()
		WHERE id = $1 AND checkout_session_id = $4 AND paid = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, id, sessionID, email, prevSessionID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return true, nil
	case 0:
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}
