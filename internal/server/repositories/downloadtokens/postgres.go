package downloadtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/dmitrijs2005/shashinpass/internal/dbx"
	"github.com/dmitrijs2005/shashinpass/internal/server/models"
)

// PostgresRepository keeps tokens in the download_tokens table.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts token. Digest collisions surface as a db error.
func (r *PostgresRepository) Create(ctx context.Context, token *models.DownloadToken) error {
	query := `
		INSERT INTO download_tokens (digest, record_id, object_key, scope, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query,
		token.Digest, token.RecordID, token.ObjectKey, string(token.Scope), token.ExpiresAt); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// Find returns the token row for digest or common.ErrorNotFound.
func (r *PostgresRepository) Find(ctx context.Context, digest string) (*models.DownloadToken, error) {
	query := `
		SELECT digest, record_id, object_key, scope, expires_at, created_at
		FROM download_tokens
		WHERE digest = $1
	`
	var (
		t     models.DownloadToken
		scope string
	)
	if err := r.db.QueryRowContext(ctx, query, digest).
		Scan(&t.Digest, &t.RecordID, &t.ObjectKey, &scope, &t.ExpiresAt, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	t.Scope = models.Scope(scope)
	return &t, nil
}

// DeleteExpired purges tokens whose expiry lies before the given time.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM download_tokens
		WHERE expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
