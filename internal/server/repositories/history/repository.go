package history

import (
	"context"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, h *models.UploadHistory) error
	UpdateStatus(ctx context.Context, fileID, userID string, status models.UploadStatus, errorMessage *string, completedAt *time.Time) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.UploadHistory, error)
}
