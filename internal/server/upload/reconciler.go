package upload

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/logging"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
)

type objectRemover interface {
	Remove(ctx context.Context, path string) error
}

// Reconciler undoes the storage object and files row of a failed attempt
// and settles its history.
type Reconciler struct {
	objects  objectRemover
	records  Records
	observer Observer
	logger   logging.Logger
	now      func() time.Time
}

func NewReconciler(objects objectRemover, records Records, observer Observer, logger logging.Logger) *Reconciler {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Reconciler{
		objects:  objects,
		records:  records,
		observer: observer,
		logger:   logger.With("module", "reconciler"),
		now:      time.Now,
	}
}

// rollback describes what a failed attempt may have left behind.
type rollback struct {
	ID         string
	UserID     string
	Path       string
	File       File
	WebhookURL string
	RetryCount int
	Cause      error
	StatusCode *int
	// AppendWebhook adds a final success=false webhook response.
	AppendWebhook bool
}

// Rollback runs the compensating transaction. Failed deletes are returned
// as warnings; the history row is marked failed either way. ctx must not be
// the cancelled attempt context.
func (r *Reconciler) Rollback(ctx context.Context, rb rollback) (string, []error) {
	var warnings []error

	if rb.Path != "" {
		if err := r.objects.Remove(ctx, rb.Path); err != nil {
			w := &RollbackPartialFailure{Target: "object", Path: rb.Path, Err: err}
			r.logger.Warn(ctx, "rollback: object not removed", "file_id", rb.ID, "path", rb.Path, "error", err)
			r.observer.ObserveRollbackFailure("object")
			warnings = append(warnings, w)
		}
	}

	if err := r.records.DeleteMetadata(ctx, rb.ID, rb.UserID); err != nil {
		w := &RollbackPartialFailure{Target: "metadata", Path: rb.ID, Err: err}
		r.logger.Warn(ctx, "rollback: file record not removed", "file_id", rb.ID, "error", err)
		r.observer.ObserveRollbackFailure("metadata")
		warnings = append(warnings, w)
	}

	msg := rollbackMessage(rb.Cause, warnings)
	done := r.now().UTC()
	if err := r.records.MarkHistory(ctx, rb.ID, rb.UserID, models.UploadStatusFailed, &msg, &done); err != nil {
		r.logger.Error(ctx, "rollback: history not updated", "file_id", rb.ID, "error", err)
	}

	if rb.AppendWebhook {
		wr := &models.WebhookResponse{
			UserID:       rb.UserID,
			FileID:       rb.ID,
			FileName:     rb.File.Name,
			FileSize:     rb.File.Size,
			MimeType:     rb.File.MimeType,
			WebhookURL:   rb.WebhookURL,
			StatusCode:   rb.StatusCode,
			ErrorMessage: &msg,
			RetryCount:   rb.RetryCount,
			Success:      false,
		}
		if err := r.records.RecordWebhook(ctx, wr); err != nil {
			r.logger.Warn(ctx, "rollback: webhook response not recorded", "file_id", rb.ID, "error", err)
		}
	}

	r.logger.Info(ctx, "rolled back upload", "file_id", rb.ID, "warnings", len(warnings))
	return msg, warnings
}

func rollbackMessage(cause error, warnings []error) string {
	var b strings.Builder
	if cause != nil {
		b.WriteString(cause.Error())
		b.WriteString(". ")
	}
	if len(warnings) == 0 {
		b.WriteString("Rolled back: storage object and file record removed")
		return b.String()
	}
	b.WriteString("Rolled back with errors: ")
	b.WriteString(errors.Join(warnings...).Error())
	return strings.ReplaceAll(b.String(), "\n", "; ")
}
