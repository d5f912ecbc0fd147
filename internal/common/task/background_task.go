package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/goldensignals/internal/common/logging"
	"github.com/armadaproject/goldensignals/internal/common/runcontext"
)

type task struct {
	function     func(*runcontext.Context)
	interval     time.Duration
	initialDelay time.Duration
	metricName   string
	cancel       context.CancelFunc
	registeredAt time.Time
	// unix nanos of the last completed run, zero before the first
	lastCompleted atomic.Int64
	latency       prometheus.Histogram
	overruns      prometheus.Counter
}

// BackgroundTaskManager runs functions at a fixed rate until they are stopped.
// Register and StopAll should be called from a single goroutine.
type BackgroundTaskManager struct {
	tasks           []*task
	metricsPrefix   string
	registerer      prometheus.Registerer
	clock           clock.WithTicker
	healthTolerance int
	wg              *sync.WaitGroup
}

// NewBackgroundTaskManager creates a manager whose task metrics are registered on registerer. A task is reported
// unhealthy once healthTolerance intervals have passed without it completing a run.
func NewBackgroundTaskManager(metricsPrefix string, registerer prometheus.Registerer, clock clock.WithTicker, healthTolerance int) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		tasks:           []*task{},
		metricsPrefix:   metricsPrefix,
		registerer:      registerer,
		clock:           clock,
		healthTolerance: healthTolerance,
		wg:              &sync.WaitGroup{},
	}
}

// Register starts calling backgroundTask every interval, the first call happening after initialDelay.
// A run that takes longer than interval is counted as an overrun and the next run starts straight after it;
// runs never overlap. The task stops when ctx is cancelled or StopAll is called.
func (m *BackgroundTaskManager) Register(
	ctx *runcontext.Context,
	backgroundTask func(*runcontext.Context),
	interval time.Duration,
	initialDelay time.Duration,
	metricName string,
) error {
	if interval <= 0 {
		return errors.Errorf("task %s: interval must be positive, got %s", metricName, interval)
	}
	t := &task{
		function:     backgroundTask,
		interval:     interval,
		initialDelay: initialDelay,
		metricName:   metricName,
		registeredAt: m.clock.Now(),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    m.metricsPrefix + metricName + "_latency_seconds",
				Help:    "Background loop " + metricName + " latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
			}),
		overruns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: m.metricsPrefix + metricName + "_overruns_total",
				Help: "Number of " + metricName + " runs that took longer than their interval",
			}),
	}
	for _, c := range []prometheus.Collector{t.latency, t.overruns} {
		if err := m.registerer.Register(c); err != nil {
			return errors.WithMessagef(err, "registering metrics for task %s", metricName)
		}
	}

	taskCtx, cancel := runcontext.WithCancel(runcontext.WithLogField(ctx, "task", metricName))
	t.cancel = cancel
	m.tasks = append(m.tasks, t)
	m.startBackgroundTask(taskCtx, t)
	return nil
}

// StopAll stops every task and waits for in-flight runs to return. It returns true if timeout elapsed first.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	for _, t := range m.tasks {
		t.cancel()
	}
	return m.waitForShutdownCompletion(timeout)
}

// Check reports an error for every task that has not completed a run recently enough.
func (m *BackgroundTaskManager) Check() error {
	var result *multierror.Error
	now := m.clock.Now()
	for _, t := range m.tasks {
		allowed := time.Duration(m.healthTolerance) * t.interval
		last := t.registeredAt.Add(t.initialDelay)
		if nanos := t.lastCompleted.Load(); nanos != 0 {
			last = time.Unix(0, nanos)
		}
		if since := now.Sub(last); since > allowed {
			result = multierror.Append(result, fmt.Errorf("task %s has not completed a run for %s", t.metricName, since))
		}
	}
	return result.ErrorOrNil()
}

func (m *BackgroundTaskManager) startBackgroundTask(ctx *runcontext.Context, t *task) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if t.initialDelay > 0 {
			timer := m.clock.NewTimer(t.initialDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C():
			}
		}

		ticker := m.clock.NewTicker(t.interval)
		defer ticker.Stop()
		m.run(ctx, t)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
			}
			if ctx.Err() != nil {
				return
			}
			m.run(ctx, t)
		}
	}()
}

func (m *BackgroundTaskManager) run(ctx *runcontext.Context, t *task) {
	start := m.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.WithStacktrace(ctx.Log, errors.Errorf("panic: %v", r)).Error("Background task panicked")
			return
		}
		duration := m.clock.Since(start)
		t.latency.Observe(duration.Seconds())
		if duration > t.interval {
			t.overruns.Inc()
			ctx.Log.Warnf("Run took %s, longer than the %s interval", duration, t.interval)
		}
		t.lastCompleted.Store(m.clock.Now().UnixNano())
	}()
	t.function(ctx)
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}
