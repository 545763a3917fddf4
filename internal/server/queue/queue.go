// Package queue keeps the per-user set of upload tasks and drives each
// task's attempts through the upload pipeline.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/logging"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
	"github.com/dmitrijs2005/kbsync/internal/server/upload"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskBusy     = errors.New("task is uploading")
	ErrNotRunning   = errors.New("task is not uploading")
	ErrNotPending   = errors.New("task is not pending")
	ErrNotFailed    = errors.New("only failed tasks can be retried")
	ErrRetryLimit   = errors.New("retry limit reached")
)

// Runner executes one upload attempt.
type Runner interface {
	Run(ctx context.Context, req upload.Request, report func(progress int)) upload.Result
}

// NameSource lists the file names a user already has stored.
type NameSource interface {
	StoredNames(ctx context.Context, userID string) ([]string, error)
}

type Options struct {
	Policy        upload.Policy
	UploadTimeout time.Duration
	RemoveDelay   time.Duration
	MaxAttempts   int
	// ErrorRetention is how long a failed task (and its bytes) waits for a
	// manual retry before a sweep drops it.
	ErrorRetention time.Duration
	// IdleTTL is how long an empty queue with no subscribers survives
	// without being fetched from the registry.
	IdleTTL time.Duration
}

const subscriberBuffer = 64

// Queue holds one user's tasks. Each task is an independent state machine;
// updates from an attempt carry its (id, attempt) and are dropped once the
// task has moved on.
type Queue struct {
	user   models.User
	runner Runner
	names  NameSource
	opts   Options
	logger logging.Logger
	base   context.Context

	mu      sync.Mutex
	tasks   map[string]*task
	order   []string
	stored  upload.Names
	subs    map[int]chan Event
	nextSub int

	lastUsed time.Time

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a queue for user. stored seeds the stored-name cache; base
// bounds every attempt's lifetime.
func New(base context.Context, user models.User, runner Runner, names NameSource, stored []string, opts Options, logger logging.Logger) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 2 * time.Minute
	}
	if opts.ErrorRetention <= 0 {
		opts.ErrorRetention = 24 * time.Hour
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	if opts.Policy.MaxSize == 0 {
		opts.Policy = upload.DefaultPolicy(0)
	}
	return &Queue{
		lastUsed: time.Now(),
		user:     user,
		runner:   runner,
		names:    names,
		opts:     opts,
		logger:   logger.With("module", "queue", "user_id", user.ID),
		base:     base,
		tasks:    map[string]*task{},
		stored:   upload.NewNames(stored...),
		subs:     map[int]chan Event{},
		now:      time.Now,
	}
}

// Enqueue validates f against the stored-name cache and the queue and adds
// it as a pending task. No collaborator is called.
func (q *Queue) Enqueue(f upload.File) (Task, error) {
	f.MimeType = upload.NormalizeType(f.Name, f.MimeType)
	if f.Size == 0 {
		f.Size = int64(len(f.Data))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	queued := make(upload.Names, len(q.tasks))
	for _, t := range q.tasks {
		queued[t.FileName] = struct{}{}
	}
	c := upload.Candidate{Name: f.Name, Size: f.Size, MimeType: f.MimeType}
	if err := q.opts.Policy.Validate(c, q.stored, queued); err != nil {
		return Task{}, err
	}

	now := q.now().UTC()
	t := &task{
		Task: Task{
			ID:        upload.Allocate(""),
			FileName:  f.Name,
			Size:      f.Size,
			MimeType:  f.MimeType,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		data: f.Data,
	}
	q.tasks[t.ID] = t
	q.order = append(q.order, t.ID)
	q.publishLocked(EventAdded, t)
	return t.snapshot(), nil
}

// Start launches the first attempt of a pending task.
func (q *Queue) Start(id string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	switch t.Status {
	case StatusPending:
	case StatusUploading:
		return Task{}, ErrTaskBusy
	default:
		return Task{}, ErrNotPending
	}
	q.launchLocked(t)
	return t.snapshot(), nil
}

// StartAll launches every pending task without waiting for any of them.
func (q *Queue) StartAll() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var started []Task
	for _, id := range q.order {
		t := q.tasks[id]
		if t.Status == StatusPending {
			q.launchLocked(t)
			started = append(started, t.snapshot())
		}
	}
	return started
}

// Retry re-runs a failed task with the same id.
func (q *Queue) Retry(id string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	switch {
	case t.Status == StatusUploading:
		return Task{}, ErrTaskBusy
	case t.Status != StatusError:
		return Task{}, ErrNotFailed
	case t.Attempt >= q.opts.MaxAttempts:
		return Task{}, ErrRetryLimit
	}
	q.launchLocked(t)
	return t.snapshot(), nil
}

// Cancel aborts the running attempt of id. The pipeline settles it as a
// failure and rolls back whatever it already stored.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != StatusUploading || t.cancel == nil {
		return ErrNotRunning
	}
	t.cancel()
	return nil
}

// Remove drops a task that is not uploading.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status == StatusUploading {
		return ErrTaskBusy
	}
	q.removeLocked(t)
	return nil
}

func (q *Queue) Get(id string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t.snapshot(), nil
}

// Snapshot returns all tasks in enqueue order.
func (q *Queue) Snapshot() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Task, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.tasks[id].snapshot())
	}
	return out
}

// Subscribe returns a stream of task events and a func that ends it.
// A subscriber that falls behind misses events rather than blocking the queue.
func (q *Queue) Subscribe() (<-chan Event, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextSub
	q.nextSub++
	ch := make(chan Event, subscriberBuffer)
	q.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			delete(q.subs, id)
			close(ch)
		})
	}
}

// RefreshStored reloads the stored-name cache.
func (q *Queue) RefreshStored(ctx context.Context) error {
	names, err := q.names.StoredNames(ctx, q.user.ID)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.stored = upload.NewNames(names...)
	q.mu.Unlock()
	return nil
}

// Wait blocks until no attempt is running or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) launchLocked(t *task) {
	ctx, cancel := context.WithTimeout(q.base, q.opts.UploadTimeout)

	t.Attempt++
	t.Status = StatusUploading
	t.Progress = 0
	t.ErrorDetails = nil
	t.cancel = cancel
	t.UpdatedAt = q.now().UTC()
	q.publishLocked(EventStatus, t)

	id, attempt := t.ID, t.Attempt
	req := upload.Request{ID: id, User: q.user, File: t.file()}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer cancel()

		res := q.runner.Run(ctx, req, func(p int) {
			q.update(id, attempt, func(t *task) bool {
				if p <= t.Progress {
					return false
				}
				t.Progress = p
				return true
			}, EventProgress)
		})
		q.finish(id, attempt, res)
	}()
}

// update applies fn to the task if it is still running the given attempt.
func (q *Queue) update(id string, attempt int, fn func(t *task) bool, ev EventType) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok || t.Attempt != attempt || t.Status != StatusUploading {
		return false
	}
	if !fn(t) {
		return false
	}
	t.UpdatedAt = q.now().UTC()
	q.publishLocked(ev, t)
	return true
}

func (q *Queue) finish(id string, attempt int, res upload.Result) {
	var name string
	settled := q.update(id, attempt, func(t *task) bool {
		t.cancel = nil
		t.StoragePath = res.StoragePath
		name = t.FileName
		if res.Err != nil {
			t.Status = StatusError
			t.ErrorDetails = res.Details
			if t.ErrorDetails == nil {
				t.ErrorDetails = &upload.ErrorDetails{Message: res.Err.Error(), Timestamp: q.now().UTC()}
			}
			return true
		}
		t.Status = StatusSuccess
		t.Progress = upload.ProgressCompleted
		return true
	}, EventStatus)
	if !settled || res.Err != nil {
		return
	}

	q.mu.Lock()
	q.stored[name] = struct{}{}
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(q.base), 10*time.Second)
	defer cancel()
	if err := q.RefreshStored(ctx); err != nil {
		q.logger.Warn(ctx, "stored names not refreshed", "error", err)
	}

	time.AfterFunc(q.opts.RemoveDelay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if t, ok := q.tasks[id]; ok && t.Attempt == attempt && t.Status == StatusSuccess {
			q.removeLocked(t)
		}
	})
}

func (q *Queue) removeLocked(t *task) {
	delete(q.tasks, t.ID)
	for i, id := range q.order {
		if id == t.ID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.publishLocked(EventRemoved, t)
}

func (q *Queue) publishLocked(typ EventType, t *task) {
	ev := Event{Type: typ, Task: t.snapshot()}
	for _, ch := range q.subs {
		select {
		case ch <- ev:
		default:
			q.logger.Debug(context.Background(), "subscriber lagging, event dropped", "task_id", t.ID, "event", typ)
		}
	}
}

func (q *Queue) touch(now time.Time) {
	q.mu.Lock()
	q.lastUsed = now
	q.mu.Unlock()
}

// sweep drops failed tasks past ErrorRetention and reports whether the queue
// is empty, unwatched and unused for IdleTTL.
func (q *Queue) sweep(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range append([]string(nil), q.order...) {
		t := q.tasks[id]
		if t.Status == StatusError && now.Sub(t.UpdatedAt) >= q.opts.ErrorRetention {
			q.removeLocked(t)
		}
	}
	return len(q.tasks) == 0 && len(q.subs) == 0 && now.Sub(q.lastUsed) >= q.opts.IdleTTL
}
