// Package upload commits one file to the knowledge base: object storage
// write and verification, metadata and history records, the downstream
// webhook, and the compensating rollback when a late step fails.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/logging"
	"github.com/dmitrijs2005/kbsync/internal/server/auth"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
	"github.com/dmitrijs2005/kbsync/internal/server/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Progress checkpoints of one attempt.
const (
	ProgressStarted   = 10
	ProgressStored    = 40
	ProgressVerified  = 50
	ProgressRecorded  = 70
	ProgressNotified  = 85
	ProgressCompleted = 100
)

const tracerName = "github.com/dmitrijs2005/kbsync/internal/server/upload"

// Observer receives pipeline telemetry.
type Observer interface {
	ObserveStage(stage string, d time.Duration, err error)
	ObserveOutcome(status string, size int64)
	ObserveRollbackFailure(target string)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration, error) {}
func (nopObserver) ObserveOutcome(string, int64)              {}
func (nopObserver) ObserveRollbackFailure(string)             {}

// Request is one attempt of one task.
type Request struct {
	ID   string
	User models.User
	File File
}

// ErrorDetails is what the user sees on a failed task.
type ErrorDetails struct {
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	StatusCode   *int      `json:"statusCode,omitempty"`
	ResponseBody *string   `json:"responseBody,omitempty"`
	Warnings     []string  `json:"warnings,omitempty"`
}

// Result is the settled outcome of an attempt. Err is nil on success.
type Result struct {
	ID          string
	StoragePath string
	RetryCount  int
	Outcome     *webhook.Outcome
	Err         error
	Details     *ErrorDetails
}

type PipelineOptions struct {
	RollbackTimeout time.Duration
	Observer        Observer
	TracerProvider  trace.TracerProvider
}

type Pipeline struct {
	committer       *Committer
	records         Records
	notifier        webhook.Notifier
	roles           auth.RoleLookup
	reconciler      *Reconciler
	observer        Observer
	tracer          trace.Tracer
	logger          logging.Logger
	rollbackTimeout time.Duration
	now             func() time.Time
}

func NewPipeline(committer *Committer, records Records, notifier webhook.Notifier, roles auth.RoleLookup, logger logging.Logger, opts PipelineOptions) *Pipeline {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.RollbackTimeout <= 0 {
		opts.RollbackTimeout = 30 * time.Second
	}
	return &Pipeline{
		committer:       committer,
		records:         records,
		notifier:        notifier,
		roles:           roles,
		reconciler:      NewReconciler(committer, records, opts.Observer, logger),
		observer:        opts.Observer,
		tracer:          opts.TracerProvider.Tracer(tracerName),
		logger:          logger.With("module", "pipeline"),
		rollbackTimeout: opts.RollbackTimeout,
		now:             time.Now,
	}
}

// attempt is the per-run state shared by the pipeline steps.
type attempt struct {
	Request
	webhookURL string
	retryCount int
	path       string
}

// Run executes one attempt. report receives each progress checkpoint in
// order. Errors never escape: they are settled into the returned Result and
// the history row.
func (p *Pipeline) Run(ctx context.Context, req Request, report func(progress int)) Result {
	if report == nil {
		report = func(int) {}
	}
	req.ID = Allocate(req.ID)
	a := &attempt{Request: req, webhookURL: p.notifier.URL()}

	ctx, span := p.tracer.Start(ctx, "upload.Run", trace.WithAttributes(
		attribute.String("file.id", a.ID),
		attribute.String("file.name", a.File.Name),
		attribute.Int64("file.size", a.File.Size),
		attribute.String("user.id", a.User.ID),
	))
	defer span.End()

	log := p.logger.With("file_id", a.ID, "user_id", a.User.ID)
	res := p.run(ctx, a, report, log)
	res.ID = a.ID
	res.StoragePath = a.path
	res.RetryCount = a.retryCount

	status := "success"
	if res.Err != nil {
		status = "error"
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		log.Warn(ctx, "upload failed", "error", res.Err)
	} else {
		log.Info(ctx, "upload committed", "path", a.path)
	}
	p.observer.ObserveOutcome(status, a.File.Size)
	return res
}

func (p *Pipeline) run(ctx context.Context, a *attempt, report func(int), log logging.Logger) Result {
	err := p.stage(ctx, "history", func(ctx context.Context) error {
		n, err := p.records.InsertHistory(ctx, a.ID, a.File, a.User.ID, a.webhookURL)
		if err != nil {
			return &MetadataError{Op: "history insert", Err: err}
		}
		a.retryCount = n
		if err := p.records.MarkHistory(ctx, a.ID, a.User.ID, models.UploadStatusUploading, nil, nil); err != nil {
			return &MetadataError{Op: "history update", Err: err}
		}
		return nil
	})
	if err != nil {
		return p.failed(ctx, a, err)
	}
	report(ProgressStarted)

	err = p.stage(ctx, "storage_put", func(ctx context.Context) error {
		path, err := p.committer.Commit(ctx, a.ID, a.User.ID, a.File)
		a.path = path
		return err
	})
	if err != nil {
		if a.path != "" {
			// Stored, but the attempt was cancelled meanwhile.
			return p.rolledBack(ctx, a, err, nil, false)
		}
		return p.failed(ctx, a, err)
	}
	report(ProgressStored)

	err = p.stage(ctx, "storage_verify", func(ctx context.Context) error {
		return p.committer.Verify(ctx, a.User.ID, a.ID, a.File.Name)
	})
	if err != nil {
		return p.rolledBack(ctx, a, err, nil, false)
	}
	report(ProgressVerified)

	err = p.stage(ctx, "metadata", func(ctx context.Context) error {
		if err := p.records.InsertMetadata(ctx, a.ID, a.File, a.path, a.User.ID); err != nil {
			return &MetadataError{Op: "file record insert", Err: err}
		}
		return nil
	})
	if err != nil {
		return p.rolledBack(ctx, a, err, nil, false)
	}
	report(ProgressRecorded)

	// A 2xx answer is the commit point: the recipient already holds the path.
	var out *webhook.Outcome
	err = p.commitStage(ctx, "webhook", func(ctx context.Context) error {
		var err error
		out, err = p.notify(ctx, a, log)
		return err
	})
	if err != nil {
		return p.rolledBack(ctx, a, err, out, true)
	}
	report(ProgressNotified)

	done := p.now().UTC()
	if err := p.records.MarkHistory(p.settleContext(ctx), a.ID, a.User.ID, models.UploadStatusSuccess, nil, &done); err != nil {
		log.Error(ctx, "history not marked success", "error", err)
	}
	report(ProgressCompleted)

	return Result{Outcome: out}
}

// notify posts the file and records the answer. Any non-2xx status, transport
// error or context expiry is a *WebhookError.
func (p *Pipeline) notify(ctx context.Context, a *attempt, log logging.Logger) (*webhook.Outcome, error) {
	role, err := auth.CurrentUserRole(ctx, p.roles, a.User.ID)
	if err != nil {
		log.Warn(ctx, "role lookup failed, sending without role", "error", err)
	}

	out, err := p.notifier.Notify(ctx, webhook.Payload{
		File:        a.File.Data,
		FileID:      a.ID,
		FileName:    a.File.Name,
		FileSize:    a.File.Size,
		MimeType:    a.File.MimeType,
		UploadedAt:  p.now().UTC(),
		StoragePath: a.path,
		BucketName:  p.committer.Bucket(),
		UserID:      a.User.ID,
		UserEmail:   a.User.Email,
		UserRole:    role,
	})

	wr := &models.WebhookResponse{
		UserID:     a.User.ID,
		FileID:     a.ID,
		FileName:   a.File.Name,
		FileSize:   a.File.Size,
		MimeType:   a.File.MimeType,
		WebhookURL: a.webhookURL,
		RetryCount: a.retryCount,
	}

	var werr *WebhookError
	switch {
	case err != nil:
		werr = &WebhookError{Err: err}
		msg := err.Error()
		wr.ErrorMessage = &msg
	case !out.OK:
		werr = &WebhookError{StatusCode: out.StatusCode, Body: out.Body}
		msg := werr.Error()
		wr.ErrorMessage = &msg
	}
	if out != nil {
		code, body := out.StatusCode, out.Body
		wr.StatusCode = &code
		wr.ResponseBody = &body
	}
	wr.Success = werr == nil

	if rerr := p.records.RecordWebhook(p.settleContext(ctx), wr); rerr != nil {
		log.Warn(ctx, "webhook response not recorded", "error", rerr)
	}

	if werr != nil {
		return out, werr
	}
	return out, nil
}

// failed settles an attempt that wrote nothing to storage.
func (p *Pipeline) failed(ctx context.Context, a *attempt, cause error) Result {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.rollbackTimeout)
	defer cancel()

	msg := cause.Error()
	done := p.now().UTC()
	if err := p.records.MarkHistory(cctx, a.ID, a.User.ID, models.UploadStatusFailed, &msg, &done); err != nil {
		p.logger.Error(ctx, "history not marked failed", "file_id", a.ID, "error", err)
	}

	details := &ErrorDetails{Message: msg, Timestamp: done}
	var swe *StorageWriteError
	if errors.As(cause, &swe) && swe.StatusCode != 0 {
		code := swe.StatusCode
		details.StatusCode = &code
	}
	return Result{Err: cause, Details: details}
}

// rolledBack runs the compensating transaction for an attempt that already
// stored its object.
func (p *Pipeline) rolledBack(ctx context.Context, a *attempt, cause error, out *webhook.Outcome, appendWebhook bool) Result {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.rollbackTimeout)
	defer cancel()

	cctx, span := p.tracer.Start(cctx, "upload.rollback")
	defer span.End()

	rb := rollback{
		ID:            a.ID,
		UserID:        a.User.ID,
		Path:          a.path,
		File:          a.File,
		WebhookURL:    a.webhookURL,
		RetryCount:    a.retryCount,
		Cause:         cause,
		AppendWebhook: appendWebhook,
	}
	details := &ErrorDetails{Timestamp: p.now().UTC()}
	if out != nil {
		code, body := out.StatusCode, out.Body
		rb.StatusCode = &code
		details.StatusCode = &code
		details.ResponseBody = &body
	}

	msg, warnings := p.reconciler.Rollback(cctx, rb)
	details.Message = msg
	for _, w := range warnings {
		details.Warnings = append(details.Warnings, w.Error())
	}
	if len(warnings) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d compensating deletes failed", len(warnings)))
	}
	return Result{Err: cause, Details: details, Outcome: out}
}

// settleContext keeps durable writes alive past attempt cancellation.
func (p *Pipeline) settleContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// stage runs fn inside a span and records its latency. A context that ended
// while fn ran fails the stage even if fn itself succeeded.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return p.runStage(ctx, name, true, fn)
}

// commitStage is a stage whose success is final: once fn returns nil, a
// cancel or timeout that lands afterwards no longer undoes it.
func (p *Pipeline) commitStage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return p.runStage(ctx, name, false, fn)
}

func (p *Pipeline) runStage(ctx context.Context, name string, lateCancelFails bool, fn func(ctx context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "upload."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if err == nil && lateCancelFails {
		err = ctx.Err()
	}
	p.observer.ObserveStage(name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
