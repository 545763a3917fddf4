package files

import (
	"context"

	"github.com/dmitrijs2005/kbsync/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, file *models.File) error
	GetByID(ctx context.Context, id, userID string) (*models.File, error)
	ListByUser(ctx context.Context, userID string) ([]*models.File, error)
	Names(ctx context.Context, userID string) ([]string, error)
	Delete(ctx context.Context, id, userID string) error
}
