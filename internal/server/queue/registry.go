package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/logging"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
	"golang.org/x/sync/errgroup"
)

// Registry lazily creates one Queue per user.
type Registry struct {
	runner Runner
	names  NameSource
	opts   Options
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queues map[string]*Queue
}

func NewRegistry(runner Runner, names NameSource, opts Options, logger logging.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		runner: runner,
		names:  names,
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		queues: map[string]*Queue{},
	}
}

// Get returns user's queue, creating it and loading the stored-name cache
// on first use. The load runs outside the registry lock.
func (r *Registry) Get(ctx context.Context, user models.User) (*Queue, error) {
	if q, ok := r.lookup(user.ID); ok {
		return q, nil
	}

	names, err := r.names.StoredNames(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load stored names: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[user.ID]; ok {
		q.touch(time.Now())
		return q, nil
	}
	q := New(r.ctx, user, r.runner, r.names, names, r.opts, r.logger)
	r.queues[user.ID] = q
	return q, nil
}

func (r *Registry) lookup(userID string) (*Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[userID]
	if ok {
		q.touch(time.Now())
	}
	return q, ok
}

// Sweep drops expired failed tasks and forgets idle queues. It returns the
// number of queues dropped.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, q := range r.queues {
		if q.sweep(now) {
			delete(r.queues, id)
			n++
		}
	}
	return n
}

// RunJanitor sweeps every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if n := r.Sweep(now); n > 0 {
				r.logger.Debug(ctx, "idle queues dropped", "count", n)
			}
		}
	}
}

// Refresh reloads the stored-name cache of userID's queue, if it exists.
func (r *Registry) Refresh(ctx context.Context, userID string) error {
	r.mu.Lock()
	q, ok := r.queues[userID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return q.RefreshStored(ctx)
}

// Shutdown cancels all running attempts and waits for them to settle.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cancel()

	r.mu.Lock()
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		g.Go(func() error { return q.Wait(ctx) })
	}
	return g.Wait()
}
