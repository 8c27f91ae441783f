package services

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/dmitrijs2005/shashinpass/internal/logging"
	"github.com/dmitrijs2005/shashinpass/internal/server/auth"
	"github.com/dmitrijs2005/shashinpass/internal/server/config"
	"github.com/dmitrijs2005/shashinpass/internal/server/models"
	"github.com/dmitrijs2005/shashinpass/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/shashinpass/internal/server/storage"
	"github.com/dmitrijs2005/shashinpass/internal/server/transform"
	"github.com/google/uuid"
)

// MaxUploadSize bounds accepted originals.
const MaxUploadSize = 10 << 20

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// UploadResult is what a client needs to continue after uploading.
type UploadResult struct {
	Photo       *models.Photo
	RecordToken string
	Preview     *models.DownloadToken
}

// UploadService stores originals, creates records and runs the transform.
type UploadService struct {
	db               *sql.DB
	repomanager      repomanager.RepositoryManager
	store            storage.Store
	invoker          transform.Invoker
	downloads        *DownloadService
	logger           logging.Logger
	jwtSecret        []byte
	recordTokenTTL   time.Duration
	previewTTL       time.Duration
	transformTimeout time.Duration
	callTimeout      time.Duration
	newID            func() string
}

func NewUploadService(db *sql.DB, m repomanager.RepositoryManager, store storage.Store, inv transform.Invoker,
	ds *DownloadService, logger logging.Logger, cfg *config.Config) *UploadService {
	return &UploadService{
		db:               db,
		repomanager:      m,
		store:            store,
		invoker:          inv,
		downloads:        ds,
		logger:           logger.With("module", "uploads"),
		jwtSecret:        []byte(cfg.SecretKey),
		recordTokenTTL:   cfg.RecordTokenValidityDuration,
		previewTTL:       cfg.PreviewTokenTTL,
		transformTimeout: cfg.TransformTimeout,
		callTimeout:      cfg.CallTimeout,
		newID:            uuid.NewString,
	}
}

// Upload stores body as the record's original, runs the transform and
// returns the record capability token plus a preview token when the record
// has a preview.
func (s *UploadService) Upload(ctx context.Context, body []byte, email string) (*UploadResult, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty upload", common.ErrInvalidInput)
	}
	if len(body) > MaxUploadSize {
		return nil, fmt.Errorf("%w: upload exceeds %d bytes", common.ErrInvalidInput, MaxUploadSize)
	}

	contentType := http.DetectContentType(body)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported content type %s", common.ErrInvalidInput, contentType)
	}

	id := s.newID()
	inputKey := "in/" + id + ext
	if err := callWithTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		return s.store.Put(ctx, inputKey, body, contentType)
	}); err != nil {
		return nil, fmt.Errorf("error storing upload: %w", err)
	}

	photo, err := s.repomanager.Photos(s.db).Create(ctx, &models.Photo{
		ID:           id,
		InputRef:     inputKey,
		ContactEmail: email,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating record: %w", err)
	}
	s.logger.Info(ctx, "record created", "record_id", photo.ID, "input_ref", inputKey)

	photo, err = s.Transform(ctx, photo)
	if err != nil {
		return nil, err
	}

	var preview *models.DownloadToken
	if photo.PreviewRef != "" {
		preview, err = s.MintPreviewToken(ctx, photo.ID)
		if err != nil {
			return nil, err
		}
	}

	recordToken, err := auth.GenerateToken(photo.ID, s.jwtSecret, s.recordTokenTTL)
	if err != nil {
		return nil, common.ErrorInternal
	}

	return &UploadResult{Photo: photo, RecordToken: recordToken, Preview: preview}, nil
}

// Transform produces the record's output and watermarked preview. When any
// step of the AI call fails the input is copied to the output and the preview
// is watermarked locally; an input that cannot be decoded gets no preview.
// A record that already has an output is returned unchanged.
func (s *UploadService) Transform(ctx context.Context, photo *models.Photo) (*models.Photo, error) {
	if photo.HasOutput() {
		return photo, nil
	}

	outputKey := "out/" + photo.ID + ".jpg"
	previewKey := "preview/" + photo.ID + ".jpg"

	fallback := false
	err := s.invoke(ctx, photo, outputKey, previewKey)
	if err != nil {
		s.logger.Warn(ctx, "transform failed, using local fallback", "record_id", photo.ID, "error", err)
		if err := s.copyInput(ctx, photo.InputRef, outputKey); err != nil {
			return nil, fmt.Errorf("error copying input: %w", err)
		}
		if previewKey, err = s.localPreview(ctx, photo, previewKey); err != nil {
			return nil, fmt.Errorf("error rendering preview: %w", err)
		}
		fallback = true
	}

	stored, err := s.repomanager.Photos(s.db).SetOutput(ctx, photo.ID, outputKey, previewKey, fallback)
	if err != nil {
		return nil, fmt.Errorf("error storing output: %w", err)
	}
	return stored, nil
}

func (s *UploadService) invoke(ctx context.Context, photo *models.Photo, outputKey, previewKey string) error {
	inputURL, err := s.store.Presign(ctx, photo.InputRef, maxPresignTTL)
	if err != nil {
		return err
	}
	outputURL, err := s.store.PresignPut(ctx, outputKey, "image/jpeg", maxPresignTTL)
	if err != nil {
		return err
	}
	previewURL, err := s.store.PresignPut(ctx, previewKey, "image/jpeg", maxPresignTTL)
	if err != nil {
		return err
	}

	err = callWithTimeout(ctx, s.transformTimeout, func(ctx context.Context) error {
		return s.invoker.Transform(ctx, transform.Request{
			RecordID:   photo.ID,
			InputURL:   inputURL,
			OutputURL:  outputURL,
			PreviewURL: previewURL,
		})
	})
	if err != nil {
		return err
	}

	for _, key := range []string{outputKey, previewKey} {
		var ok bool
		if err := callWithTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
			var err error
			ok, err = s.store.Exists(ctx, key)
			return err
		}); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s was not written", common.ErrTransform, key)
		}
	}
	return nil
}

func (s *UploadService) copyInput(ctx context.Context, inputKey, outputKey string) error {
	return callWithTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		return s.store.Copy(ctx, inputKey, outputKey)
	})
}

// localPreview writes a locally watermarked preview and returns its key, or
// "" when the input cannot be rendered. The unmarked input is never used.
func (s *UploadService) localPreview(ctx context.Context, photo *models.Photo, previewKey string) (string, error) {
	var body []byte
	if err := callWithTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		obj, err := s.store.Get(ctx, photo.InputRef)
		if err != nil {
			return err
		}
		defer obj.Body.Close()
		body, err = io.ReadAll(io.LimitReader(obj.Body, MaxUploadSize+1))
		return err
	}); err != nil {
		return "", err
	}

	marked, err := transform.Watermark(bytes.NewReader(body))
	if err != nil {
		s.logger.Warn(ctx, "no preview for record", "record_id", photo.ID, "error", err)
		return "", nil
	}

	if err := callWithTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		return s.store.Put(ctx, previewKey, marked, "image/jpeg")
	}); err != nil {
		return "", err
	}
	return previewKey, nil
}

// MintPreviewToken issues a watermarked token for the record's preview.
func (s *UploadService) MintPreviewToken(ctx context.Context, recordID string) (*models.DownloadToken, error) {
	return s.downloads.RequestToken(ctx, recordID, models.ScopeWatermarked, s.previewTTL)
}

// GetRecord reloads a record so a client can recover its state.
func (s *UploadService) GetRecord(ctx context.Context, recordID string) (*models.Photo, error) {
	var photo *models.Photo
	err := callWithTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		var err error
		photo, err = s.repomanager.Photos(s.db).Get(ctx, recordID)
		return err
	})
	return photo, err
}
