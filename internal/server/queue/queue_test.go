package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/logging"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
	"github.com/dmitrijs2005/kbsync/internal/server/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	fail  map[string]int
	block map[string]bool
	calls []upload.Request
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fail: map[string]int{}, block: map[string]bool{}}
}

func (f *fakeRunner) Run(ctx context.Context, req upload.Request, report func(int)) upload.Result {
	name := req.File.Name
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fails := f.fail[name]
	if fails > 0 {
		f.fail[name]--
	}
	block := f.block[name]
	f.mu.Unlock()

	path := upload.StoragePath(req.User.ID, req.ID, name)
	report(upload.ProgressStarted)
	report(upload.ProgressStored)
	if block {
		<-ctx.Done()
		return upload.Result{ID: req.ID, StoragePath: path, Err: &upload.WebhookError{Err: ctx.Err()},
			Details: &upload.ErrorDetails{Message: ctx.Err().Error() + ". Rolled back"}}
	}
	if fails > 0 {
		code := 500
		return upload.Result{ID: req.ID, StoragePath: path, Err: &upload.WebhookError{StatusCode: code},
			Details: &upload.ErrorDetails{Message: "webhook failed with status 500. Rolled back", StatusCode: &code}}
	}
	for _, p := range []int{upload.ProgressVerified, upload.ProgressRecorded, upload.ProgressNotified, upload.ProgressCompleted} {
		report(p)
	}
	return upload.Result{ID: req.ID, StoragePath: path}
}

func (f *fakeRunner) requests() []upload.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upload.Request(nil), f.calls...)
}

type fakeNames struct {
	mu    sync.Mutex
	names []string
	calls int
	err   error
}

func (f *fakeNames) StoredNames(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]string(nil), f.names...), f.err
}

func (f *fakeNames) add(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
}

func (f *fakeNames) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var user = models.User{ID: "u1", Email: "u1@example.com"}

func newQueue(t *testing.T, runner Runner, names *fakeNames, opts Options) *Queue {
	t.Helper()
	if opts.RemoveDelay == 0 {
		opts.RemoveDelay = time.Hour
	}
	q := New(context.Background(), user, runner, names, names.names, opts, logging.Nop{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Wait(ctx)
	})
	return q
}

func csv(name string) upload.File {
	return upload.File{Name: name, MimeType: "text/csv", Data: []byte("a,b\n1,2\n")}
}

func waitStatus(t *testing.T, q *Queue, id string, want Status) Task {
	t.Helper()
	var got Task
	require.Eventually(t, func() bool {
		var err error
		got, err = q.Get(id)
		return err == nil && got.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestEnqueue_RejectsStoredDuplicateWithoutCalls(t *testing.T) {
	runner := newFakeRunner()
	names := &fakeNames{names: []string{"report.csv"}}
	q := newQueue(t, runner, names, Options{})

	_, err := q.Enqueue(csv("report.csv"))

	var ve *upload.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, upload.ReasonStoredDuplicate, ve.Reason)
	assert.Equal(t, 0, names.callCount())
	assert.Empty(t, runner.requests())
	assert.Empty(t, q.Snapshot())
}

func TestEnqueue_RejectsQueuedDuplicate(t *testing.T) {
	q := newQueue(t, newFakeRunner(), &fakeNames{}, Options{})

	first, err := q.Enqueue(csv("a.csv"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, first.Status)
	assert.Equal(t, int64(8), first.Size)

	_, err = q.Enqueue(csv("a.csv"))
	var ve *upload.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, upload.ReasonQueuedDuplicate, ve.Reason)
}

func TestEnqueue_RejectsPolicyViolation(t *testing.T) {
	q := newQueue(t, newFakeRunner(), &fakeNames{}, Options{})

	_, err := q.Enqueue(upload.File{Name: "x.png", MimeType: "image/png", Data: []byte{1}})
	var ve *upload.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, upload.ReasonPolicy, ve.Reason)
}

func TestStart_SucceedsAndIsRemoved(t *testing.T) {
	runner := newFakeRunner()
	names := &fakeNames{}
	q := newQueue(t, runner, names, Options{RemoveDelay: 20 * time.Millisecond})

	events, stop := q.Subscribe()
	defer stop()

	tk, err := q.Enqueue(csv("invoice.csv"))
	require.NoError(t, err)
	names.add("invoice.csv")

	_, err = q.Start(tk.ID)
	require.NoError(t, err)

	got := waitStatus(t, q, tk.ID, StatusSuccess)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "u1/"+tk.ID+"-invoice.csv", got.StoragePath)

	require.Eventually(t, func() bool { return len(q.Snapshot()) == 0 }, 2*time.Second, 5*time.Millisecond)

	// The stored-name cache now knows the file.
	_, err = q.Enqueue(csv("invoice.csv"))
	var ve *upload.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, upload.ReasonStoredDuplicate, ve.Reason)

	var progress []int
	var types []EventType
	for done := false; !done; {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
			if ev.Type == EventProgress {
				progress = append(progress, ev.Task.Progress)
			}
			if ev.Type == EventRemoved {
				done = true
			}
		case <-time.After(time.Second):
			t.Fatal("no removed event")
		}
	}
	assert.Equal(t, []int{10, 40, 50, 70, 85, 100}, progress)
	assert.Equal(t, EventAdded, types[0])
	assert.Equal(t, EventStatus, types[1])
}

func TestStart_Errors(t *testing.T) {
	runner := newFakeRunner()
	runner.block["slow.csv"] = true
	q := newQueue(t, runner, &fakeNames{}, Options{})

	_, err := q.Start("missing")
	require.ErrorIs(t, err, ErrTaskNotFound)

	tk, _ := q.Enqueue(csv("slow.csv"))
	_, err = q.Start(tk.ID)
	require.NoError(t, err)
	_, err = q.Start(tk.ID)
	require.ErrorIs(t, err, ErrTaskBusy)

	require.NoError(t, q.Cancel(tk.ID))
	waitStatus(t, q, tk.ID, StatusError)

	_, err = q.Start(tk.ID)
	require.ErrorIs(t, err, ErrNotPending)
}

func TestRetry_ReusesIDUntilLimit(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["a.csv"] = 2
	q := newQueue(t, runner, &fakeNames{}, Options{MaxAttempts: 2})

	tk, _ := q.Enqueue(csv("a.csv"))
	_, err := q.Retry(tk.ID)
	require.ErrorIs(t, err, ErrNotFailed)

	_, err = q.Start(tk.ID)
	require.NoError(t, err)
	failed := waitStatus(t, q, tk.ID, StatusError)
	require.NotNil(t, failed.ErrorDetails)
	assert.Contains(t, failed.ErrorDetails.Message, "Rolled back")
	assert.Equal(t, 500, *failed.ErrorDetails.StatusCode)
	assert.Less(t, failed.Progress, 100)

	retried, err := q.Retry(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, retried.ID)
	assert.Equal(t, 2, retried.Attempt)
	assert.Equal(t, 0, retried.Progress)
	assert.Nil(t, retried.ErrorDetails)

	waitStatus(t, q, tk.ID, StatusError)
	_, err = q.Retry(tk.ID)
	require.ErrorIs(t, err, ErrRetryLimit)

	reqs := runner.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].ID, reqs[1].ID)
}

func TestRetry_Succeeds(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["a.csv"] = 1
	q := newQueue(t, runner, &fakeNames{}, Options{})

	tk, _ := q.Enqueue(csv("a.csv"))
	_, _ = q.Start(tk.ID)
	first := waitStatus(t, q, tk.ID, StatusError)

	_, err := q.Retry(tk.ID)
	require.NoError(t, err)
	second := waitStatus(t, q, tk.ID, StatusSuccess)
	assert.Equal(t, first.StoragePath, second.StoragePath)
	assert.Nil(t, second.ErrorDetails)
}

func TestCancel(t *testing.T) {
	runner := newFakeRunner()
	runner.block["slow.csv"] = true
	q := newQueue(t, runner, &fakeNames{}, Options{})

	tk, _ := q.Enqueue(csv("slow.csv"))
	require.ErrorIs(t, q.Cancel(tk.ID), ErrNotRunning)
	require.ErrorIs(t, q.Cancel("nope"), ErrTaskNotFound)

	_, _ = q.Start(tk.ID)
	require.NoError(t, q.Cancel(tk.ID))

	got := waitStatus(t, q, tk.ID, StatusError)
	assert.Contains(t, got.ErrorDetails.Message, "Rolled back")
}

func TestUploadTimeout(t *testing.T) {
	runner := newFakeRunner()
	runner.block["slow.csv"] = true
	q := newQueue(t, runner, &fakeNames{}, Options{UploadTimeout: 30 * time.Millisecond})

	tk, _ := q.Enqueue(csv("slow.csv"))
	_, _ = q.Start(tk.ID)

	got := waitStatus(t, q, tk.ID, StatusError)
	assert.Contains(t, got.ErrorDetails.Message, context.DeadlineExceeded.Error())
}

func TestRemove(t *testing.T) {
	runner := newFakeRunner()
	runner.block["slow.csv"] = true
	q := newQueue(t, runner, &fakeNames{}, Options{})

	slow, _ := q.Enqueue(csv("slow.csv"))
	idle, _ := q.Enqueue(csv("idle.csv"))
	_, _ = q.Start(slow.ID)

	require.ErrorIs(t, q.Remove(slow.ID), ErrTaskBusy)
	require.NoError(t, q.Remove(idle.ID))
	require.ErrorIs(t, q.Remove(idle.ID), ErrTaskNotFound)

	require.NoError(t, q.Cancel(slow.ID))
	waitStatus(t, q, slow.ID, StatusError)
	require.NoError(t, q.Remove(slow.ID))
	assert.Empty(t, q.Snapshot())
}

func TestStartAll_IsolatesFailures(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["bad.csv"] = 1
	q := newQueue(t, runner, &fakeNames{}, Options{})

	good, _ := q.Enqueue(csv("good.csv"))
	bad, _ := q.Enqueue(csv("bad.csv"))

	started := q.StartAll()
	require.Len(t, started, 2)
	assert.Empty(t, q.StartAll())

	g := waitStatus(t, q, good.ID, StatusSuccess)
	b := waitStatus(t, q, bad.ID, StatusError)
	assert.NotEqual(t, g.StoragePath, b.StoragePath)
	assert.Equal(t, 100, g.Progress)
}

func TestUpdate_DropsStaleAttempt(t *testing.T) {
	runner := newFakeRunner()
	runner.block["slow.csv"] = true
	q := newQueue(t, runner, &fakeNames{}, Options{})

	tk, _ := q.Enqueue(csv("slow.csv"))
	_, _ = q.Start(tk.ID)

	applied := q.update(tk.ID, 99, func(tt *task) bool { tt.Progress = 77; return true }, EventProgress)
	assert.False(t, applied)
	got, _ := q.Get(tk.ID)
	assert.NotEqual(t, 77, got.Progress)

	require.NoError(t, q.Cancel(tk.ID))
	waitStatus(t, q, tk.ID, StatusError)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	q := newQueue(t, newFakeRunner(), &fakeNames{}, Options{})
	ch, stop := q.Subscribe()
	stop()
	stop()

	_, open := <-ch
	assert.False(t, open)

	_, err := q.Enqueue(csv("a.csv"))
	require.NoError(t, err)
}

func TestRefreshStored(t *testing.T) {
	names := &fakeNames{names: []string{"a.csv"}}
	q := newQueue(t, newFakeRunner(), names, Options{})

	names.names = nil
	require.NoError(t, q.RefreshStored(context.Background()))
	_, err := q.Enqueue(csv("a.csv"))
	require.NoError(t, err)

	names.err = errors.New("db down")
	require.Error(t, q.RefreshStored(context.Background()))
}
