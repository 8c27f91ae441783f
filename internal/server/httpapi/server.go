// Package httpapi exposes the photo release workflow as a JSON HTTP API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/logging"
	"github.com/dmitrijs2005/shashinpass/internal/server/models"
	"github.com/dmitrijs2005/shashinpass/internal/server/payments"
	"github.com/dmitrijs2005/shashinpass/internal/server/services"
	"github.com/dmitrijs2005/shashinpass/internal/server/storage"
	"github.com/gorilla/mux"
)

type Uploads interface {
	Upload(ctx context.Context, body []byte, email string) (*services.UploadResult, error)
	MintPreviewToken(ctx context.Context, recordID string) (*models.DownloadToken, error)
	GetRecord(ctx context.Context, recordID string) (*models.Photo, error)
}

type Checkout interface {
	CreateSession(ctx context.Context, recordID, email, returnURL string) (*models.CheckoutSession, error)
}

type Reconciler interface {
	ConfirmSession(ctx context.Context, sessionID string) (*models.Confirmation, error)
	ConfirmRecord(ctx context.Context, recordID string) (*models.Confirmation, error)
}

type Downloads interface {
	RequestToken(ctx context.Context, recordID string, scope models.Scope, ttl time.Duration) (*models.DownloadToken, error)
	ResolveDownload(ctx context.Context, raw string) (*storage.Object, *models.DownloadToken, error)
	PresignDownload(ctx context.Context, raw string) (string, error)
}

type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (*payments.Event, error)
}

// Server is the HTTP front of the service.
type Server struct {
	address     string
	logger      logging.Logger
	uploads     Uploads
	checkout    Checkout
	reconciler  Reconciler
	downloads   Downloads
	webhooks    WebhookVerifier
	jwtSecret   []byte
	downloadTTL time.Duration
}

// Deps groups the collaborators a Server needs.
type Deps struct {
	Uploads     Uploads
	Checkout    Checkout
	Reconciler  Reconciler
	Downloads   Downloads
	Webhooks    WebhookVerifier
	SecretKey   string
	DownloadTTL time.Duration
}

func NewServer(address string, l logging.Logger, d Deps) *Server {
	return &Server{
		address:     address,
		logger:      l.With("module", "http_server"),
		uploads:     d.Uploads,
		checkout:    d.Checkout,
		reconciler:  d.Reconciler,
		downloads:   d.Downloads,
		webhooks:    d.Webhooks,
		jwtSecret:   []byte(d.SecretKey),
		downloadTTL: d.DownloadTTL,
	}
}

// Handler builds the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverPanics, s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/photos", s.handleUpload).Methods(http.MethodPost)

	record := r.PathPrefix("/api/photos/{id}").Subrouter()
	record.Use(s.requireRecordToken)
	record.HandleFunc("", s.handleGetRecord).Methods(http.MethodGet)
	record.HandleFunc("/preview-token", s.handlePreviewToken).Methods(http.MethodPost)
	record.HandleFunc("/checkout", s.handleCheckout).Methods(http.MethodPost)
	record.HandleFunc("/confirm", s.handleConfirmRecord).Methods(http.MethodPost)
	record.HandleFunc("/download-token", s.handleDownloadToken).Methods(http.MethodPost)

	r.HandleFunc("/api/checkout/{session}/confirm", s.handleConfirmSession).Methods(http.MethodPost)
	r.HandleFunc("/api/downloads/{token}", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/api/downloads/{token}/url", s.handleDownloadURL).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/stripe", s.handleStripeWebhook).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, errNotFound)
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown error", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
