// Package downloadtokens declares the store contract for download tokens and
// provides PostgreSQL and in-memory implementations. Tokens are keyed by the
// digest of the raw token; the raw value is never stored.
package downloadtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/server/models"
)

// Repository defines operations for issuing and looking up download tokens.
type Repository interface {
	// Create stores a minted token under token.Digest.
	Create(ctx context.Context, token *models.DownloadToken) error

	// Find returns the token stored under digest, expired or not; expiry is
	// judged by the caller. Absent digests yield common.ErrorNotFound.
	Find(ctx context.Context, digest string) (*models.DownloadToken, error)

	// DeleteExpired removes tokens that expired before the given time and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
