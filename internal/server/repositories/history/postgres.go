package history

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/common"
	"github.com/dmitrijs2005/kbsync/internal/dbx"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert starts an attempt: a new row is created as pending with
// retry_count 0, an existing row (a retry of the same task) is reset to
// pending and its retry_count incremented. h.RetryCount and h.CreatedAt are
// filled from the stored row.
func (r *PostgresRepository) Upsert(ctx context.Context, h *models.UploadHistory) error {
	query := `
		INSERT INTO file_upload_history
			(file_id, file_name, file_size, mime_type, user_id, upload_status, webhook_url, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		ON CONFLICT (file_id, user_id)
		DO UPDATE SET
			file_name = EXCLUDED.file_name,
			file_size = EXCLUDED.file_size,
			mime_type = EXCLUDED.mime_type,
			upload_status = EXCLUDED.upload_status,
			webhook_url = EXCLUDED.webhook_url,
			retry_count = file_upload_history.retry_count + 1,
			error_message = NULL,
			completed_at = NULL
		RETURNING retry_count, created_at;
	`
	err := r.db.QueryRowContext(ctx, query,
		h.FileID, h.FileName, h.FileSize, h.MimeType, h.UserID, string(h.UploadStatus), h.WebhookURL).
		Scan(&h.RetryCount, &h.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// UpdateStatus moves the row to status. Exactly one row must be affected.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, fileID, userID string, status models.UploadStatus, errorMessage *string, completedAt *time.Time) error {
	query := `UPDATE file_upload_history
		SET upload_status=$3, error_message=$4, completed_at=$5
		WHERE file_id=$1 AND user_id=$2`

	res, err := r.db.ExecContext(ctx, query, fileID, userID, string(status), errorMessage, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("update history %s: %w", fileID, common.ErrorNotFound)
	}
	return nil
}

// ListByUser returns the most recent history rows of userID.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.UploadHistory, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT file_id, file_name, file_size, mime_type, user_id, upload_status, webhook_url,
			retry_count, error_message, created_at, completed_at
		FROM file_upload_history
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select history: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadHistory
	for rows.Next() {
		var (
			h      models.UploadHistory
			status string
		)
		if err := rows.Scan(&h.FileID, &h.FileName, &h.FileSize, &h.MimeType, &h.UserID, &status, &h.WebhookURL,
			&h.RetryCount, &h.ErrorMessage, &h.CreatedAt, &h.CompletedAt); err != nil {
			return nil, err
		}
		h.UploadStatus = models.UploadStatus(status)
		result = append(result, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
