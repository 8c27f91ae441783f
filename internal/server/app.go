// Package server wires configuration, storage, payment and mail backends
// into the photo release services and runs the HTTP server until a
// termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/logging"
	"github.com/dmitrijs2005/shashinpass/internal/server/config"
	"github.com/dmitrijs2005/shashinpass/internal/server/httpapi"
	"github.com/dmitrijs2005/shashinpass/internal/server/notify"
	"github.com/dmitrijs2005/shashinpass/internal/server/payments"
	"github.com/dmitrijs2005/shashinpass/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/shashinpass/internal/server/services"
	"github.com/dmitrijs2005/shashinpass/internal/server/storage"
	"github.com/dmitrijs2005/shashinpass/internal/server/transform"
)

const tokenJanitorInterval = time.Hour

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	downloads *services.DownloadService
	server    *httpapi.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	var opts []repomanager.Option
	if c.TokenStore == config.TokenStoreMemory {
		opts = append(opts, repomanager.WithMemoryTokens())
	}
	rm := repomanager.NewPostgresRepositoryManager(opts...)

	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	store, err := storage.NewS3Store(ctx, storage.Options{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		Bucket:       c.S3Bucket,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("object store init error: %w", err)
	}

	var mailer notify.Mailer = notify.NopMailer{}
	if c.SMTPHost != "" {
		m, err := notify.NewSMTPMailer(notify.SMTPOptions{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			User:     c.SMTPUser,
			Password: c.SMTPPassword,
			From:     c.MailFrom,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("mailer init error: %w", err)
		}
		mailer = m
	} else {
		logger.Warn(ctx, "SMTP host not set, confirmation mail disabled")
	}

	provider := payments.NewStripeProvider(c.StripeSecretKey, c.StripeWebhookSecret)
	invoker := transform.NewHTTPClient(c.TransformEndpoint, c.TransformAPIKey, c.TransformTimeout)

	ds := services.NewDownloadService(db, rm, store, logger, c)
	cs := services.NewCheckoutService(db, rm, provider, logger, c)
	rs := services.NewReconcileService(db, rm, cs, ds, mailer, logger, c)
	us := services.NewUploadService(db, rm, store, invoker, ds, logger, c)

	srv := httpapi.NewServer(c.HTTPAddr, logger, httpapi.Deps{
		Uploads:     us,
		Checkout:    cs,
		Reconciler:  rs,
		Downloads:   ds,
		Webhooks:    provider,
		SecretKey:   c.SecretKey,
		DownloadTTL: c.DownloadTokenTTL,
	})

	return &App{config: c, logger: logger, db: db, downloads: ds, server: srv}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// runTokenJanitor drops expired download tokens until ctx is done.
func (app *App) runTokenJanitor(ctx context.Context) {
	ticker := time.NewTicker(tokenJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.downloads.PurgeExpired(ctx)
			if err != nil {
				app.logger.Warn(ctx, "purging expired tokens failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "expired tokens purged", "count", n)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.runTokenJanitor(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
