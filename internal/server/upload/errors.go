package upload

import (
	"fmt"
)

// Reason tells the user how to fix a rejected file: shrink or convert it
// (ReasonPolicy), rename it (ReasonStoredDuplicate) or wait for the queued
// one to finish (ReasonQueuedDuplicate).
type Reason string

const (
	ReasonPolicy          Reason = "policy"
	ReasonStoredDuplicate Reason = "stored_duplicate"
	ReasonQueuedDuplicate Reason = "queued_duplicate"
)

// ValidationError rejects a file before anything is written.
type ValidationError struct {
	Reason Reason
	// Field is "name", "size" or "type" for ReasonPolicy, "name" otherwise.
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// StorageWriteError means the object store refused the bytes.
type StorageWriteError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *StorageWriteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("storage write %s failed with status %d: %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("storage write %s failed: %v", e.Path, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// StorageVerificationError means the write returned ok but the object could
// not be listed afterwards.
type StorageVerificationError struct {
	Path string
	Err  error
}

func (e *StorageVerificationError) Error() string {
	return fmt.Sprintf("storage verification %s failed: %v", e.Path, e.Err)
}

func (e *StorageVerificationError) Unwrap() error { return e.Err }

// MetadataError means a history or files row could not be written.
type MetadataError struct {
	Op  string
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// WebhookError is a non-2xx answer (Err nil) or a transport failure,
// timeout or cancellation (Err set).
type WebhookError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *WebhookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook failed: %v", e.Err)
	}
	return fmt.Sprintf("webhook failed with status %d", e.StatusCode)
}

func (e *WebhookError) Unwrap() error { return e.Err }

// RollbackPartialFailure is a compensating delete that did not succeed.
// It is reported as a warning and never returned from the pipeline.
type RollbackPartialFailure struct {
	Target string
	Path   string
	Err    error
}

func (e *RollbackPartialFailure) Error() string {
	return fmt.Sprintf("rollback of %s %s failed, manual cleanup may be needed: %v", e.Target, e.Path, e.Err)
}

func (e *RollbackPartialFailure) Unwrap() error { return e.Err }
