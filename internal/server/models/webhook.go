package models

import "time"

// WebhookResponse is an append-only record of one webhook call, written for
// diagnostics only. It is keyed by the durable FileID.
type WebhookResponse struct {
	ID           int64
	UserID       string
	FileID       string
	FileName     string
	FileSize     int64
	MimeType     string
	WebhookURL   string
	StatusCode   *int
	ResponseBody *string
	ErrorMessage *string
	RetryCount   int
	Success      bool
	CreatedAt    time.Time
}
