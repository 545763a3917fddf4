package webhooks

import (
	"context"

	"github.com/dmitrijs2005/kbsync/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, w *models.WebhookResponse) error
	ListByFile(ctx context.Context, fileID, userID string) ([]*models.WebhookResponse, error)
}
