package queue

import (
	"context"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/server/upload"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// Task is a snapshot of one queued file.
type Task struct {
	ID           string               `json:"id"`
	FileName     string               `json:"fileName"`
	Size         int64                `json:"size"`
	MimeType     string               `json:"mimeType"`
	Status       Status               `json:"status"`
	Progress     int                  `json:"progress"`
	Attempt      int                  `json:"attempt"`
	StoragePath  string               `json:"storagePath,omitempty"`
	ErrorDetails *upload.ErrorDetails `json:"errorDetails,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

type EventType string

const (
	EventAdded    EventType = "added"
	EventProgress EventType = "progress"
	EventStatus   EventType = "status"
	EventRemoved  EventType = "removed"
)

// Event is published on every task transition.
type Event struct {
	Type EventType `json:"type"`
	Task Task      `json:"task"`
}

// task is the mutable state machine behind a Task.
type task struct {
	Task
	data   []byte
	cancel context.CancelFunc
}

func (t *task) snapshot() Task {
	s := t.Task
	if t.ErrorDetails != nil {
		d := *t.ErrorDetails
		d.Warnings = append([]string(nil), t.ErrorDetails.Warnings...)
		s.ErrorDetails = &d
	}
	return s
}

func (t *task) file() upload.File {
	return upload.File{Name: t.FileName, Size: t.Size, MimeType: t.MimeType, Data: t.data}
}
