// Package metrics exports upload pipeline telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UploadObserver records pipeline stage latency, attempt outcomes and
// rollback failures.
type UploadObserver struct {
	stageDuration    *prometheus.HistogramVec
	stageErrors      *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	uploadedBytes    prometheus.Counter
	rollbackFailures *prometheus.CounterVec
}

func NewUploadObserver(namespace string, reg prometheus.Registerer) (*UploadObserver, error) {
	if namespace == "" {
		namespace = "kbsync"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &UploadObserver{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "stage_duration_seconds",
			Help:      "Latency of upload pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "stage_errors_total",
			Help:      "Count of failed upload pipeline stages.",
		}, []string{"stage"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "attempts_total",
			Help:      "Finished upload attempts by final status.",
		}, []string{"status"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Bytes of successfully committed uploads.",
		}),
		rollbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "rollback_failures_total",
			Help:      "Compensating deletes that failed and need manual cleanup.",
		}, []string{"target"}),
	}

	var err error
	if o.stageDuration, err = register(reg, o.stageDuration); err != nil {
		return nil, err
	}
	if o.stageErrors, err = register(reg, o.stageErrors); err != nil {
		return nil, err
	}
	if o.outcomes, err = register(reg, o.outcomes); err != nil {
		return nil, err
	}
	if o.uploadedBytes, err = register(reg, o.uploadedBytes); err != nil {
		return nil, err
	}
	if o.rollbackFailures, err = register(reg, o.rollbackFailures); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds c to reg, reusing the collector already registered under
// the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register upload metric: %w", err)
	}
	return c, nil
}

func (o *UploadObserver) ObserveStage(stage string, d time.Duration, err error) {
	if o == nil {
		return
	}
	o.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		o.stageErrors.WithLabelValues(stage).Inc()
	}
}

func (o *UploadObserver) ObserveOutcome(status string, size int64) {
	if o == nil {
		return
	}
	o.outcomes.WithLabelValues(status).Inc()
	if status == "success" && size > 0 {
		o.uploadedBytes.Add(float64(size))
	}
}

func (o *UploadObserver) ObserveRollbackFailure(target string) {
	if o == nil {
		return
	}
	o.rollbackFailures.WithLabelValues(target).Inc()
}
