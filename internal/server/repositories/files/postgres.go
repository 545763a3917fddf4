package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/kbsync/internal/common"
	"github.com/dmitrijs2005/kbsync/internal/dbx"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
)

// PostgresRepository implements file metadata storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts the file row or refreshes it when a retry of the same task
// writes it again. A row owned by another user is left untouched and
// ErrorForbidden is returned.
func (r *PostgresRepository) Upsert(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (id, file_name, size, mime_type, storage_path, user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id)
		DO UPDATE SET
			file_name = EXCLUDED.file_name,
			size = EXCLUDED.size,
			mime_type = EXCLUDED.mime_type,
			storage_path = EXCLUDED.storage_path,
			updated_at = now()
			WHERE files.user_id = EXCLUDED.user_id
		RETURNING created_at, updated_at;
	`
	err := r.db.QueryRowContext(ctx, query,
		file.ID, file.FileName, file.Size, file.MimeType, file.StoragePath, file.UserID).
		Scan(&file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorForbidden
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns the file with id owned by userID.
func (r *PostgresRepository) GetByID(ctx context.Context, id, userID string) (*models.File, error) {
	query := `SELECT id, file_name, size, mime_type, storage_path, user_id, created_at, updated_at
		FROM files WHERE id=$1 AND user_id=$2`

	f := &models.File{}
	err := r.db.QueryRowContext(ctx, query, id, userID).
		Scan(&f.ID, &f.FileName, &f.Size, &f.MimeType, &f.StoragePath, &f.UserID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

// ListByUser returns all files of userID, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.File, error) {
	query := `SELECT id, file_name, size, mime_type, storage_path, user_id, created_at, updated_at
		FROM files WHERE user_id=$1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		var f models.File
		if err := rows.Scan(&f.ID, &f.FileName, &f.Size, &f.MimeType, &f.StoragePath, &f.UserID, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Names returns the file names already stored for userID. The upload queue
// uses them for duplicate detection.
func (r *PostgresRepository) Names(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT file_name FROM files WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select file names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// Delete removes the row. ErrorNotFound is returned when nothing matched,
// which rollback callers treat as already done.
func (r *PostgresRepository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
