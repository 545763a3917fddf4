package upload

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/common"
	"github.com/dmitrijs2005/kbsync/internal/dbx"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
	"github.com/dmitrijs2005/kbsync/internal/server/repositories/repomanager"
)

// Records is the durable side of an upload: history, file metadata and
// webhook responses.
type Records interface {
	// InsertHistory upserts the attempt as pending and returns its retry count.
	InsertHistory(ctx context.Context, id string, f File, userID, webhookURL string) (int, error)
	MarkHistory(ctx context.Context, id, userID string, status models.UploadStatus, errorMessage *string, completedAt *time.Time) error
	InsertMetadata(ctx context.Context, id string, f File, storagePath, userID string) error
	// DeleteMetadata succeeds when the row is already gone.
	DeleteMetadata(ctx context.Context, id, userID string) error
	RecordWebhook(ctx context.Context, w *models.WebhookResponse) error
	StoredNames(ctx context.Context, userID string) ([]string, error)
}

// Recorder implements Records on the Postgres repositories.
type Recorder struct {
	db dbx.DBTX
	rm repomanager.RepositoryManager
}

func NewRecorder(db dbx.DBTX, rm repomanager.RepositoryManager) *Recorder {
	return &Recorder{db: db, rm: rm}
}

func (r *Recorder) InsertHistory(ctx context.Context, id string, f File, userID, webhookURL string) (int, error) {
	h := &models.UploadHistory{
		FileID:       id,
		FileName:     f.Name,
		FileSize:     f.Size,
		MimeType:     f.MimeType,
		UserID:       userID,
		UploadStatus: models.UploadStatusPending,
		WebhookURL:   webhookURL,
	}
	if err := r.rm.History(r.db).Upsert(ctx, h); err != nil {
		return 0, err
	}
	return h.RetryCount, nil
}

func (r *Recorder) MarkHistory(ctx context.Context, id, userID string, status models.UploadStatus, errorMessage *string, completedAt *time.Time) error {
	return r.rm.History(r.db).UpdateStatus(ctx, id, userID, status, errorMessage, completedAt)
}

func (r *Recorder) InsertMetadata(ctx context.Context, id string, f File, storagePath, userID string) error {
	return r.rm.Files(r.db).Upsert(ctx, &models.File{
		ID:          id,
		FileName:    f.Name,
		Size:        f.Size,
		MimeType:    f.MimeType,
		StoragePath: storagePath,
		UserID:      userID,
	})
}

func (r *Recorder) DeleteMetadata(ctx context.Context, id, userID string) error {
	err := r.rm.Files(r.db).Delete(ctx, id, userID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	return err
}

func (r *Recorder) RecordWebhook(ctx context.Context, w *models.WebhookResponse) error {
	return r.rm.Webhooks(r.db).Insert(ctx, w)
}

func (r *Recorder) StoredNames(ctx context.Context, userID string) ([]string, error) {
	return r.rm.Files(r.db).Names(ctx, userID)
}
