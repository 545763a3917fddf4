package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/server/objectstore"
	"github.com/sethvargo/go-retry"
)

var errNotListed = errors.New("object not listed")

// File is the payload of one upload task.
type File struct {
	Name     string
	Size     int64
	MimeType string
	Data     []byte
}

// StoragePath is the object key of file name uploaded as id by userID.
// It embeds id, so distinct tasks never share a key.
func StoragePath(userID, id, name string) string {
	return userID + "/" + ObjectName(id, name)
}

// ObjectName is the key of an upload relative to the user prefix.
func ObjectName(id, name string) string {
	return id + "-" + name
}

// Committer writes file bytes to the object store and confirms they are
// visible before anything downstream is told about them.
type Committer struct {
	store          objectstore.Store
	verifyAttempts int
	verifyBackoff  time.Duration
}

func NewCommitter(store objectstore.Store, verifyAttempts int, verifyBackoff time.Duration) *Committer {
	if verifyAttempts < 1 {
		verifyAttempts = 1
	}
	if verifyBackoff <= 0 {
		verifyBackoff = 100 * time.Millisecond
	}
	return &Committer{store: store, verifyAttempts: verifyAttempts, verifyBackoff: verifyBackoff}
}

func (c *Committer) Bucket() string {
	return c.store.Bucket()
}

// Commit puts f at its storage path and returns the path.
func (c *Committer) Commit(ctx context.Context, id, userID string, f File) (string, error) {
	path := StoragePath(userID, id, f.Name)
	if err := c.store.Put(ctx, path, bytes.NewReader(f.Data), int64(len(f.Data)), f.MimeType); err != nil {
		return "", &StorageWriteError{Path: path, StatusCode: objectstore.StatusCode(err), Err: err}
	}
	return path, nil
}

// Verify lists the user prefix for the object written by Commit. Listing is
// retried with exponential backoff up to verifyAttempts times.
func (c *Committer) Verify(ctx context.Context, userID, id, name string) error {
	search := ObjectName(id, name)
	b := retry.WithMaxRetries(uint64(c.verifyAttempts-1), retry.NewExponential(c.verifyBackoff))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		objs, err := c.store.List(ctx, userID, search)
		if err != nil {
			return retry.RetryableError(err)
		}
		if len(objs) == 0 {
			return retry.RetryableError(errNotListed)
		}
		return nil
	})
	if err != nil {
		return &StorageVerificationError{Path: StoragePath(userID, id, name), Err: err}
	}
	return nil
}

// Remove deletes the object at path.
func (c *Committer) Remove(ctx context.Context, path string) error {
	if err := c.store.Remove(ctx, path); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}
