package photos

import (
	"context"

	"github.com/dmitrijs2005/shashinpass/internal/server/models"
)

// Repository is the record store for PhotoRecords. Every mutation is a
// single-row conditional update, so concurrent callers need no extra locking.
type Repository interface {
	Create(ctx context.Context, photo *models.Photo) (*models.Photo, error)
	Get(ctx context.Context, id string) (*models.Photo, error)
	// SetOutput stores output and preview refs unless an output is already
	// set, and returns the record as stored.
	SetOutput(ctx context.Context, id, outputRef, previewRef string, fallback bool) (*models.Photo, error)
	// MarkPaid flips paid to true. It reports whether this call did the flip;
	// an already paid record yields (false, nil).
	MarkPaid(ctx context.Context, id, email string) (bool, error)
	// AttachCheckout swaps the stored checkout session from prevSessionID to
	// sessionID on an unpaid record and, if given, sets the contact e-mail.
	// It reports false when the stored session no longer matches.
	AttachCheckout(ctx context.Context, id, prevSessionID, sessionID, email string) (bool, error)
}
