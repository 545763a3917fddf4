package models

import "time"

// UploadStatus is the durable state of one upload in file_upload_history.
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusSuccess   UploadStatus = "success"
	UploadStatusFailed    UploadStatus = "failed"
)

// UploadHistory is the audit row for an upload task, keyed by
// (FileID, UserID). It is updated in place as attempts conclude and is
// never deleted.
type UploadHistory struct {
	FileID       string
	FileName     string
	FileSize     int64
	MimeType     string
	UserID       string
	UploadStatus UploadStatus
	WebhookURL   string
	RetryCount   int
	ErrorMessage *string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}
