package upload

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/common"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
	"github.com/dmitrijs2005/kbsync/internal/server/objectstore"
	"github.com/dmitrijs2005/kbsync/internal/server/webhook"
)

// memStore is an in-memory object store.
type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	calls     int
	putErr    error
	removeErr error
	// hideFor makes List miss a freshly written key this many times.
	hideFor  int
	listed   []string
	searches []string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.putErr != nil {
		return m.putErr
	}
	data, _ := io.ReadAll(body)
	m.objects[path] = data
	return nil
}

func (m *memStore) List(ctx context.Context, prefix, search string) ([]objectstore.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.listed = append(m.listed, prefix)
	m.searches = append(m.searches, search)
	if m.hideFor > 0 {
		m.hideFor--
		return nil, nil
	}
	var out []objectstore.Object
	p := strings.TrimSuffix(prefix, "/") + "/"
	for k, v := range m.objects {
		if !strings.HasPrefix(k, p) {
			continue
		}
		name := strings.TrimPrefix(k, p)
		if strings.Contains(name, search) {
			out = append(out, objectstore.Object{Key: k, Name: name, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memStore) Remove(ctx context.Context, paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.removeErr != nil {
		return m.removeErr
	}
	for _, p := range paths {
		delete(m.objects, p)
	}
	return nil
}

func (m *memStore) Download(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	d, ok := m.objects[path]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return d, nil
}

func (m *memStore) PresignGet(ctx context.Context, path string, expires time.Duration) (string, error) {
	return "http://signed/" + path, nil
}

func (m *memStore) Bucket() string { return "knowledge-base" }

func (m *memStore) has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type historyKey struct{ id, user string }

// memRecords is an in-memory Records.
type memRecords struct {
	mu        sync.Mutex
	calls     int
	files     map[string]*models.File
	history   map[historyKey]*models.UploadHistory
	webhooks  []*models.WebhookResponse
	statuses  map[historyKey][]models.UploadStatus
	metaErr   error
	deleteErr error
	histErr   error
}

func newMemRecords() *memRecords {
	return &memRecords{
		files:    map[string]*models.File{},
		history:  map[historyKey]*models.UploadHistory{},
		statuses: map[historyKey][]models.UploadStatus{},
	}
}

func (r *memRecords) InsertHistory(ctx context.Context, id string, f File, userID, webhookURL string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.histErr != nil {
		return 0, r.histErr
	}
	k := historyKey{id, userID}
	h, ok := r.history[k]
	if ok {
		h.RetryCount++
		h.ErrorMessage = nil
		h.CompletedAt = nil
	} else {
		h = &models.UploadHistory{FileID: id, UserID: userID, FileName: f.Name, FileSize: f.Size, MimeType: f.MimeType, WebhookURL: webhookURL}
		r.history[k] = h
	}
	h.UploadStatus = models.UploadStatusPending
	r.statuses[k] = append(r.statuses[k], models.UploadStatusPending)
	return h.RetryCount, nil
}

func (r *memRecords) MarkHistory(ctx context.Context, id, userID string, status models.UploadStatus, errorMessage *string, completedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	k := historyKey{id, userID}
	h, ok := r.history[k]
	if !ok {
		return common.ErrorNotFound
	}
	h.UploadStatus = status
	h.ErrorMessage = errorMessage
	h.CompletedAt = completedAt
	r.statuses[k] = append(r.statuses[k], status)
	return nil
}

func (r *memRecords) InsertMetadata(ctx context.Context, id string, f File, storagePath, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.metaErr != nil {
		return r.metaErr
	}
	r.files[id] = &models.File{ID: id, FileName: f.Name, Size: f.Size, MimeType: f.MimeType, StoragePath: storagePath, UserID: userID}
	return nil
}

func (r *memRecords) DeleteMetadata(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.files, id)
	return nil
}

func (r *memRecords) RecordWebhook(ctx context.Context, w *models.WebhookResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.webhooks = append(r.webhooks, w)
	return nil
}

func (r *memRecords) StoredNames(ctx context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, f := range r.files {
		if f.UserID == userID {
			names = append(names, f.FileName)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *memRecords) file(id string) (*models.File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	return f, ok
}

func (r *memRecords) historyOf(id, user string) models.UploadHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.history[historyKey{id, user}]
}

func (r *memRecords) webhooksOf(id string) []*models.WebhookResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.WebhookResponse
	for _, w := range r.webhooks {
		if w.FileID == id {
			out = append(out, w)
		}
	}
	return out
}

func (r *memRecords) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeNotifier answers per file name; missing names get 200.
type fakeNotifier struct {
	mu       sync.Mutex
	status   map[string]int
	err      error
	block    bool
	payloads []webhook.Payload
	// answering runs after the payload is taken and before the answer.
	answering func()
}

func (n *fakeNotifier) URL() string { return "http://hook.test/webhook" }

func (n *fakeNotifier) Notify(ctx context.Context, p webhook.Payload) (*webhook.Outcome, error) {
	n.mu.Lock()
	n.payloads = append(n.payloads, p)
	code, ok := n.status[p.FileName]
	err, block, answering := n.err, n.block, n.answering
	n.mu.Unlock()

	if answering != nil {
		answering()
	}

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		code = 200
	}
	body := `{"ok":true}`
	if code >= 300 {
		body = "internal error"
	}
	return &webhook.Outcome{StatusCode: code, Body: body, OK: code < 300}, nil
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.payloads)
}

type fakeRoles struct {
	role string
	err  error
}

func (f fakeRoles) GetRole(context.Context, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.role == "" {
		return "", common.ErrorNotFound
	}
	return f.role, nil
}

var errBoom = errors.New("boom")
