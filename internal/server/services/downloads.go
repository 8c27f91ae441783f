// Package services contains server-side business logic. This file implements
// DownloadService, which mints and resolves download tokens.
package services

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/dmitrijs2005/shashinpass/internal/dbx"
	"github.com/dmitrijs2005/shashinpass/internal/logging"
	"github.com/dmitrijs2005/shashinpass/internal/server/config"
	"github.com/dmitrijs2005/shashinpass/internal/server/models"
	"github.com/dmitrijs2005/shashinpass/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/shashinpass/internal/server/storage"
	"golang.org/x/crypto/blake2b"
)

const (
	tokenBytes = 32
	// maxPresignTTL caps presigned URLs regardless of the token's lifetime.
	maxPresignTTL = 15 * time.Minute
)

// DownloadService authorizes access to stored objects through download
// tokens. A full-scope token is only minted after the record store confirms
// payment; the caller's view of the record is never trusted.
type DownloadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       storage.Store
	logger      logging.Logger
	callTimeout time.Duration
	now         func() time.Time
}

func NewDownloadService(db *sql.DB, m repomanager.RepositoryManager, store storage.Store, logger logging.Logger, cfg *config.Config) *DownloadService {
	return &DownloadService{
		db:          db,
		repomanager: m,
		store:       store,
		logger:      logger.With("module", "downloads"),
		callTimeout: cfg.CallTimeout,
		now:         time.Now,
	}
}

// RequestToken re-reads the record and mints a token for the object the
// scope allows. Full scope needs a paid record and binds the output;
// watermarked scope binds the preview.
func (s *DownloadService) RequestToken(ctx context.Context, recordID string, scope models.Scope, ttl time.Duration) (*models.DownloadToken, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: scope %q", common.ErrInvalidInput, scope)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", common.ErrInvalidInput)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var token *models.DownloadToken
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		photo, err := s.repomanager.Photos(tx).Get(ctx, recordID)
		if err != nil {
			return err
		}

		key, err := objectFor(photo, scope)
		if err != nil {
			return err
		}

		raw, err := common.MakeRandHexString(tokenBytes)
		if err != nil {
			return fmt.Errorf("error generating token: %w", err)
		}

		now := s.now()
		token = &models.DownloadToken{
			Token:     raw,
			Digest:    digest(raw),
			RecordID:  photo.ID,
			ObjectKey: key,
			Scope:     scope,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}
		if err := s.repomanager.DownloadTokens(tx).Create(ctx, token); err != nil {
			return fmt.Errorf("error storing token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "download token issued",
		"record_id", token.RecordID, "scope", token.Scope, "expires_at", token.ExpiresAt)
	return token, nil
}

func objectFor(photo *models.Photo, scope models.Scope) (string, error) {
	switch scope {
	case models.ScopeFull:
		if !photo.Paid {
			return "", common.ErrPaymentRequired
		}
		if photo.OutputRef == "" {
			return "", fmt.Errorf("%w: record has no output", common.ErrorNotFound)
		}
		return photo.OutputRef, nil
	default:
		if photo.PreviewRef == "" {
			return "", fmt.Errorf("%w: record has no preview", common.ErrorNotFound)
		}
		return photo.PreviewRef, nil
	}
}

// ResolveToken returns the stored token for raw. Unknown and expired tokens
// both wrap common.ErrDownloadUnavailable.
func (s *DownloadService) ResolveToken(ctx context.Context, raw string) (*models.DownloadToken, error) {
	if !wellFormed(raw) {
		s.logger.Debug(ctx, "malformed download token")
		return nil, common.ErrDownloadUnknown
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	token, err := s.repomanager.DownloadTokens(s.db).Find(ctx, digest(raw))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Info(ctx, "unknown download token")
			return nil, common.ErrDownloadUnknown
		}
		return nil, fmt.Errorf("error searching token: %w", err)
	}

	if token.Expired(s.now()) {
		s.logger.Info(ctx, "expired download token",
			"record_id", token.RecordID, "scope", token.Scope, "expired_at", token.ExpiresAt)
		return nil, common.ErrDownloadExpired
	}
	return token, nil
}

// ResolveDownload opens the object a token grants. The caller closes Body.
func (s *DownloadService) ResolveDownload(ctx context.Context, raw string) (*storage.Object, *models.DownloadToken, error) {
	token, err := s.ResolveToken(ctx, raw)
	if err != nil {
		return nil, nil, err
	}

	obj, err := s.store.Get(ctx, token.ObjectKey)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(ctx, "token points at a missing object",
				"record_id", token.RecordID, "object_key", token.ObjectKey)
		}
		return nil, nil, err
	}
	return obj, token, nil
}

// PresignDownload returns a presigned GET URL that never outlives the token.
func (s *DownloadService) PresignDownload(ctx context.Context, raw string) (string, error) {
	token, err := s.ResolveToken(ctx, raw)
	if err != nil {
		return "", err
	}

	ttl := token.ExpiresAt.Sub(s.now())
	if ttl > maxPresignTTL {
		ttl = maxPresignTTL
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return s.store.Presign(ctx, token.ObjectKey, ttl)
}

// PurgeExpired drops tokens that expired before now.
func (s *DownloadService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repomanager.DownloadTokens(s.db).DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("error purging tokens: %w", err)
	}
	return n, nil
}

func (s *DownloadService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

func digest(raw string) string {
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func wellFormed(raw string) bool {
	if len(raw) != 2*tokenBytes {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}
