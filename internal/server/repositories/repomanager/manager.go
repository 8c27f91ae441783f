package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/shashinpass/internal/dbx"
	"github.com/dmitrijs2005/shashinpass/internal/server/repositories/downloadtokens"
	"github.com/dmitrijs2005/shashinpass/internal/server/repositories/photos"
)

// RepositoryManager vends repositories bound to a DBTX so services can run
// them on the pool or inside dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Photos(db dbx.DBTX) photos.Repository
	DownloadTokens(db dbx.DBTX) downloadtokens.Repository
}
