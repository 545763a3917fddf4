// Package services contains the server-side operations on committed files
// that sit outside the upload pipeline: listing, download links, user
// initiated deletes and the upload audit trail.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/dbx"
	"github.com/dmitrijs2005/kbsync/internal/logging"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
	"github.com/dmitrijs2005/kbsync/internal/server/objectstore"
	"github.com/dmitrijs2005/kbsync/internal/server/repositories/repomanager"
)

const defaultPresignTTL = 15 * time.Minute

type FileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       objectstore.Store
	logger      logging.Logger
	presignTTL  time.Duration
}

func NewFileService(db *sql.DB, rm repomanager.RepositoryManager, store objectstore.Store, logger logging.Logger) *FileService {
	return &FileService{
		db:          db,
		repomanager: rm,
		store:       store,
		logger:      logger.With("module", "files"),
		presignTTL:  defaultPresignTTL,
	}
}

func (s *FileService) List(ctx context.Context, userID string) ([]*models.File, error) {
	return s.repomanager.Files(s.db).ListByUser(ctx, userID)
}

// DownloadURL returns a short-lived presigned GET link for the file.
func (s *FileService) DownloadURL(ctx context.Context, id, userID string) (string, error) {
	f, err := s.repomanager.Files(s.db).GetByID(ctx, id, userID)
	if err != nil {
		return "", err
	}
	return s.store.PresignGet(ctx, f.StoragePath, s.presignTTL)
}

// Content reads the object bytes through the server, for clients that
// cannot reach the object store directly.
func (s *FileService) Content(ctx context.Context, id, userID string) (*models.File, []byte, error) {
	f, err := s.repomanager.Files(s.db).GetByID(ctx, id, userID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.store.Download(ctx, f.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("download %s: %w", f.StoragePath, err)
	}
	return f, data, nil
}

// Delete removes the row and its object. The row delete is committed only
// after the object is gone, so a failed object delete leaves both in place.
func (s *FileService) Delete(ctx context.Context, id, userID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Files(tx)

		f, err := repo.GetByID(ctx, id, userID)
		if err != nil {
			return err
		}
		if err := repo.Delete(ctx, id, userID); err != nil {
			return err
		}
		if err := s.store.Remove(ctx, f.StoragePath); err != nil {
			return fmt.Errorf("remove object %s: %w", f.StoragePath, err)
		}
		s.logger.Info(ctx, "file deleted", "file_id", id, "user_id", userID)
		return nil
	})
}

func (s *FileService) History(ctx context.Context, userID string, limit int) ([]*models.UploadHistory, error) {
	return s.repomanager.History(s.db).ListByUser(ctx, userID, limit)
}

// WebhookResponses returns the recorded webhook calls of one upload.
func (s *FileService) WebhookResponses(ctx context.Context, fileID, userID string) ([]*models.WebhookResponse, error) {
	return s.repomanager.Webhooks(s.db).ListByFile(ctx, fileID, userID)
}
