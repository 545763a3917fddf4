// Package models defines server-side data models persisted in the database.
package models

import "time"

// File describes a knowledge-base file that has been committed to object
// storage. A row must never exist without its object at StoragePath.
type File struct {
	// ID equals the upload task id and is stable across retries.
	ID string
	// FileName is the original name supplied by the user.
	FileName string
	// Size is the payload size in bytes.
	Size int64
	// MimeType is the declared content type.
	MimeType string
	// StoragePath is the object key, always "{userID}/{ID}-{FileName}".
	StoragePath string
	// UserID is the owner of the file.
	UserID string

	CreatedAt time.Time
	UpdatedAt time.Time
}
