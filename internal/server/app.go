// Package server wires configuration, storage, the upload pipeline and the
// HTTP API together and runs them until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/buildinfo"
	"github.com/dmitrijs2005/kbsync/internal/logging"
	"github.com/dmitrijs2005/kbsync/internal/server/auth"
	"github.com/dmitrijs2005/kbsync/internal/server/config"
	"github.com/dmitrijs2005/kbsync/internal/server/httpapi"
	"github.com/dmitrijs2005/kbsync/internal/server/metrics"
	"github.com/dmitrijs2005/kbsync/internal/server/objectstore"
	"github.com/dmitrijs2005/kbsync/internal/server/queue"
	"github.com/dmitrijs2005/kbsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/kbsync/internal/server/services"
	"github.com/dmitrijs2005/kbsync/internal/server/tracing"
	"github.com/dmitrijs2005/kbsync/internal/server/upload"
	"github.com/dmitrijs2005/kbsync/internal/server/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	janitorInterval = time.Minute
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	tracer   *tracing.Provider
	registry *queue.Registry
	http     *http.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	store, err := objectstore.NewS3Store(ctx, objectstore.S3Options{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
		UsePathStyle: true,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("object store init error: %w", err)
	}

	tp, err := tracing.New(ctx, c.TraceEndpoint, "kbsync", buildinfo.Version())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tracing init error: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := metrics.NewUploadObserver("kbsync", reg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metrics init error: %w", err)
	}

	roles, err := auth.NewRoleCache(rm.Roles(db), 0, 0)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("role cache init error: %w", err)
	}

	recorder := upload.NewRecorder(db, rm)
	pipeline := upload.NewPipeline(
		upload.NewCommitter(store, c.VerifyAttempts, c.VerifyBackoff),
		recorder,
		webhook.NewClient(c.WebhookURL, c.WebhookTimeout),
		roles,
		logger,
		upload.PipelineOptions{
			RollbackTimeout: c.RollbackTimeout,
			Observer:        observer,
			TracerProvider:  tp,
		},
	)

	registry := queue.NewRegistry(pipeline, recorder, queue.Options{
		Policy:        upload.DefaultPolicy(c.MaxFileSize),
		UploadTimeout: c.UploadTimeout,
		RemoveDelay:   c.RemoveDelay,
		MaxAttempts:   c.MaxAttempts,
	}, logger)

	api := httpapi.NewServer(registry, services.NewFileService(db, rm, store, logger), httpapi.Options{
		SecretKey:      []byte(c.SecretKey),
		MaxFileSize:    c.MaxFileSize,
		AllowedOrigins: splitList(c.AllowedOrigins),
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}, logger)

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		tracer:   tp,
		registry: registry,
		http: &http.Server{
			Addr:              c.EndpointAddrHTTP,
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is cancelled or a signal arrives, then drains the
// HTTP server and lets running uploads settle (rolling back where needed).
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddrHTTP)
	app.initSignalHandler(cancelFunc)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return app.registry.RunJanitor(gctx, janitorInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info(ctx, "Stopping app...")

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		errs := []error{app.http.Shutdown(sctx)}
		errs = append(errs, app.registry.Shutdown(sctx))
		errs = append(errs, app.tracer.Shutdown(sctx))
		errs = append(errs, app.db.Close())
		return errors.Join(errs...)
	})

	return g.Wait()
}
