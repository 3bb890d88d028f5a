// Package tracker accepts parsed page view events and writes them to
// the store, with a failure breaker so a broken database cannot take
// the host application down with it.
package tracker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/xps/palmalytics/internal/db"
)

const statsBufferSize = 100

// ErrTrackingDisabled is returned once the breaker has tripped, until
// Enable is called.
var ErrTrackingDisabled = xerrors.New("tracking is disabled after too many consecutive errors")

var (
	eventsTracked  prometheus.Counter
	trackingErrors prometheus.Counter
	writeDuration  prometheus.Histogram
)

func InitPrometheusMetrics() {
	eventsTracked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "palmalytics",
			Name:      "events_tracked_total",
			Help:      "Total number of page view events written to the store.",
		},
	)
	trackingErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "palmalytics",
			Name:      "tracking_errors_total",
			Help:      "Total number of failed event writes.",
		},
	)
	writeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "palmalytics",
			Name:      "event_write_duration_seconds",
			Help:      "Histogram of event write durations in seconds.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)
	prometheus.MustRegister(eventsTracked, trackingErrors, writeDuration)
}

// Store is the slice of the data store the tracker needs.
type Store interface {
	AddRequest(ctx context.Context, e *db.ParsedEvent) error
}

type Options struct {
	// AsyncWrites makes Track return before the write completes, so
	// ingestion latency stays off the visitor's request path.
	AsyncWrites bool

	// MaxErrorsBeforeFail is how many consecutive write failures trip
	// the breaker. Zero disables the breaker.
	MaxErrorsBeforeFail int
}

// Tracker writes events through the store and counts consecutive
// failures. All state is per-instance so tests and multi-site hosts can
// run trackers side by side.
type Tracker struct {
	store  Store
	logger *zap.Logger
	opts   Options

	enabled  atomic.Bool
	failures atomic.Int64
	timings  *ringBuffer
	wg       sync.WaitGroup
}

func New(store Store, logger *zap.Logger, opts Options) *Tracker {
	t := &Tracker{
		store:   store,
		logger:  logger,
		opts:    opts,
		timings: newRingBuffer(statsBufferSize),
	}
	t.enabled.Store(true)
	return t
}

// Enabled reports whether the breaker allows writes.
func (t *Tracker) Enabled() bool {
	return t.enabled.Load()
}

// Enable resets the breaker. Tracking does not resume on its own after
// tripping; the operator re-enables it once the store is healthy.
func (t *Tracker) Enable() {
	t.failures.Store(0)
	t.enabled.Store(true)
	t.logger.Info("tracking enabled")
}

// Track stores one event. In async mode it returns immediately and the
// write happens on a background goroutine; failures are then only
// logged and counted.
func (t *Tracker) Track(ctx context.Context, e *db.ParsedEvent) error {
	if !t.enabled.Load() {
		return ErrTrackingDisabled
	}

	if t.opts.AsyncWrites {
		// The background write must not hold any reference to the request
		// context: fasthttp recycles its RequestCtx as soon as the handler
		// returns, and even a WithoutCancel wrapper keeps the parent alive
		// for Value lookups.
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			_ = t.write(context.Background(), e)
		}()
		return nil
	}

	return t.write(ctx, e)
}

// Wait blocks until all in-flight async writes finish.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) write(ctx context.Context, e *db.ParsedEvent) error {
	start := time.Now()

	if err := t.store.AddRequest(ctx, e); err != nil {
		t.fail(err)
		return err
	}

	t.failures.Store(0)
	if eventsTracked != nil {
		eventsTracked.Inc()
	}

	elapsed := time.Since(start)
	if writeDuration != nil {
		writeDuration.Observe(elapsed.Seconds())
	}
	t.timings.Add(int(elapsed.Milliseconds()))
	return nil
}

func (t *Tracker) fail(err error) {
	if trackingErrors != nil {
		trackingErrors.Inc()
	}
	t.logger.Error("error while saving tracked event", zap.Error(err))

	n := t.failures.Add(1)
	if t.opts.MaxErrorsBeforeFail > 0 && n > int64(t.opts.MaxErrorsBeforeFail) {
		if t.enabled.CompareAndSwap(true, false) {
			t.logger.Error("too many consecutive errors, disabling tracking",
				zap.Int64("failures", n))
		}
	}
}

// Stats summarizes recent write timings in milliseconds, newest first.
type Stats struct {
	Median  int     `json:"median"`
	Average float64 `json:"average"`
	Timings []int   `json:"timings"`
}

// PerformanceStats reports over the last writes kept in the ring
// buffer.
func (t *Tracker) PerformanceStats() Stats {
	timings := t.timings.Snapshot()
	for i, j := 0, len(timings)-1; i < j; i, j = i+1, j-1 {
		timings[i], timings[j] = timings[j], timings[i]
	}

	if len(timings) == 0 {
		return Stats{Timings: []int{}}
	}

	sorted := make([]int, len(timings))
	copy(sorted, timings)
	sort.Ints(sorted)

	sum := 0
	for _, v := range timings {
		sum += v
	}

	return Stats{
		Median:  sorted[len(sorted)/2],
		Average: float64(sum) / float64(len(timings)),
		Timings: timings,
	}
}
