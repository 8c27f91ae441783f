// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/shashinpass/internal/dbx"
	"github.com/dmitrijs2005/shashinpass/internal/server/migrations"
	"github.com/dmitrijs2005/shashinpass/internal/server/repositories/downloadtokens"
	"github.com/dmitrijs2005/shashinpass/internal/server/repositories/photos"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook. When memoryTokens is set, download
// tokens live in process memory instead of the download_tokens table.
type PostgresRepositoryManager struct {
	memoryTokens *downloadtokens.MemoryRepository
}

// Photos returns a photos.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Photos(db dbx.DBTX) photos.Repository {
	return photos.NewPostgresRepository(db)
}

// DownloadTokens returns the token store. The in-memory store ignores db and
// therefore does not take part in transactions.
func (m *PostgresRepositoryManager) DownloadTokens(db dbx.DBTX) downloadtokens.Repository {
	if m.memoryTokens != nil {
		return m.memoryTokens
	}
	return downloadtokens.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// Option customises the manager.
type Option func(*PostgresRepositoryManager)

// WithMemoryTokens keeps download tokens in memory for the process lifetime.
func WithMemoryTokens() Option {
	return func(m *PostgresRepositoryManager) {
		m.memoryTokens = downloadtokens.NewMemoryRepository()
	}
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(opts ...Option) RepositoryManager {
	m := &PostgresRepositoryManager{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}
