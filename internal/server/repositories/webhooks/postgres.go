package webhooks

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/kbsync/internal/dbx"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert appends w and fills its ID and CreatedAt.
func (r *PostgresRepository) Insert(ctx context.Context, w *models.WebhookResponse) error {
	query := `
		INSERT INTO webhook_responses
			(user_id, file_id, file_name, file_size, mime_type, webhook_url,
			 status_code, response_body, error_message, retry_count, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at;
	`
	err := r.db.QueryRowContext(ctx, query,
		w.UserID, w.FileID, w.FileName, w.FileSize, w.MimeType, w.WebhookURL,
		w.StatusCode, w.ResponseBody, w.ErrorMessage, w.RetryCount, w.Success).
		Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByFile(ctx context.Context, fileID, userID string) ([]*models.WebhookResponse, error) {
	query := `SELECT id, user_id, file_id, file_name, file_size, mime_type, webhook_url,
			status_code, response_body, error_message, retry_count, success, created_at
		FROM webhook_responses
		WHERE file_id=$1 AND user_id=$2
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, fileID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select webhook responses: %w", err)
	}
	defer rows.Close()

	var result []*models.WebhookResponse
	for rows.Next() {
		var w models.WebhookResponse
		if err := rows.Scan(&w.ID, &w.UserID, &w.FileID, &w.FileName, &w.FileSize, &w.MimeType, &w.WebhookURL,
			&w.StatusCode, &w.ResponseBody, &w.ErrorMessage, &w.RetryCount, &w.Success, &w.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
