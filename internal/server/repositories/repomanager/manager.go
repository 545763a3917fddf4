package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/kbsync/internal/dbx"
	"github.com/dmitrijs2005/kbsync/internal/server/repositories/files"
	"github.com/dmitrijs2005/kbsync/internal/server/repositories/history"
	"github.com/dmitrijs2005/kbsync/internal/server/repositories/roles"
	"github.com/dmitrijs2005/kbsync/internal/server/repositories/webhooks"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Files(db dbx.DBTX) files.Repository
	History(db dbx.DBTX) history.Repository
	Webhooks(db dbx.DBTX) webhooks.Repository
	Roles(db dbx.DBTX) roles.Repository
}
