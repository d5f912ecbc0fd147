// Package engine runs one tick of the synthetic workload and reports it through every signal: metrics,
// exemplars, the span and a structured log record.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/armadaproject/goldensignals/internal/common/logging"
	"github.com/armadaproject/goldensignals/internal/common/runcontext"
	"github.com/armadaproject/goldensignals/internal/common/signalerrors"
	"github.com/armadaproject/goldensignals/internal/common/tracing"
	"github.com/armadaproject/goldensignals/internal/goldensignals/configuration"
	"github.com/armadaproject/goldensignals/internal/goldensignals/instrumentation"
	"github.com/armadaproject/goldensignals/internal/goldensignals/reqcontext"
	"github.com/armadaproject/goldensignals/internal/goldensignals/workload"
)

const (
	SpanAttributeKey = "custom.attribute"

	// Fields of the per run log record
	randomIntField  = "random_int"
	successField    = "success"
	statusField     = "status"
	durationMsField = "duration_ms"
	interruptField  = "interrupted"

	completeMessage = "task complete"
)

// errWorkloadFailed stands in for the cause of a failed run whose workload gave none.
var errWorkloadFailed = errors.New("workload failed without a cause")

// Instruments receives the metrics of every run.
type Instruments interface {
	RecordTraffic()
	SetLoad(v float64)
	RecordError(exemplar prometheus.Labels)
	ObserveLatencySummary(seconds float64)
	ObserveLatencyHistogram(seconds float64, exemplar prometheus.Labels)
}

type Generator interface {
	Draw(min, max int) (int, error)
}

type Workload interface {
	Run(ctx context.Context, requestedDelayMs int) workload.Result
}

type Config struct {
	// Inclusive bounds of the drawn delay in milliseconds
	MinDelay int
	MaxDelay int
	// Status reported in every log record
	Status         int
	ExemplarPolicy configuration.ExemplarPolicy
}

// Report describes one completed run.
type Report struct {
	RequestContext reqcontext.RequestContext
	// Delay drawn for the run, in milliseconds
	Delay       int
	Outcome     workload.Outcome
	Cause       error
	Interrupted bool
	Elapsed     time.Duration
}

// Engine executes runs. It never schedules itself; something else calls RunOnce. Runs may overlap.
type Engine struct {
	config      Config
	generator   Generator
	workload    Workload
	instruments Instruments
	contexts    *reqcontext.Provider
	scopes      *reqcontext.Store
	clock       clock.PassiveClock
}

func New(
	config Config,
	generator Generator,
	workload Workload,
	instruments Instruments,
	contexts *reqcontext.Provider,
	scopes *reqcontext.Store,
	clock clock.PassiveClock,
) *Engine {
	return &Engine{
		config:      config,
		generator:   generator,
		workload:    workload,
		instruments: instruments,
		contexts:    contexts,
		scopes:      scopes,
		clock:       clock,
	}
}

// RunOnce performs a single run. span is the tracing span of the tick; RunOnce annotates it but never starts
// or ends it. If span is nil the span carried by ctx is used, and if there is none, span annotation and
// exemplars are skipped. Failures of the run are reported, not returned.
func (e *Engine) RunOnce(ctx *runcontext.Context, span trace.Span) Report {
	if span == nil {
		span = trace.SpanFromContext(ctx)
	}

	rc := e.contexts.Next()
	runCtx, scope := e.scopes.Open(ctx, rc)
	defer scope.Close()
	tracing.AddCorrelation(span, rc.Fields())

	lc := &lifecycle{state: Idle, log: runCtx.Log}
	lc.to(ContextEstablished)
	report := Report{RequestContext: rc}

	delay, drawErr := e.generator.Draw(e.config.MinDelay, e.config.MaxDelay)
	e.instruments.RecordTraffic()
	e.instruments.SetLoad(float64(delay))
	report.Delay = delay

	lc.to(Running)
	start := e.clock.Now()
	var result workload.Result
	if drawErr != nil {
		result = workload.Result{Outcome: workload.Failure, Cause: drawErr}
	} else {
		result = e.runWorkload(runCtx, delay)
	}
	report.Elapsed = e.clock.Since(start)
	report.Outcome = result.Outcome
	report.Cause = result.Cause
	if report.Outcome == workload.Failure && report.Cause == nil {
		report.Cause = errWorkloadFailed
	}
	report.Interrupted = result.Interrupted
	lc.complete(report.Outcome)
	if report.Interrupted {
		runCtx.Log.WithError(signalerrors.ErrInterrupted).Warnf("Delay of %dms cut short after %s", delay, report.Elapsed)
	}

	exemplar := e.exemplar(span)
	if report.Outcome == workload.Success {
		if span.SpanContext().IsValid() {
			span.SetAttributes(attribute.Int(SpanAttributeKey, delay))
		}
		if e.config.ExemplarPolicy != configuration.ExemplarsAlways {
			exemplar = nil
		}
	} else {
		e.instruments.RecordError(exemplar)
		span.RecordError(report.Cause, trace.WithStackTrace(true))
		span.SetStatus(codes.Error, report.Cause.Error())
		logging.WithStacktrace(runCtx.Log, report.Cause).Error("Run failed")
	}

	seconds := report.Elapsed.Seconds()
	e.instruments.ObserveLatencySummary(seconds)
	e.instruments.ObserveLatencyHistogram(seconds, exemplar)

	fields := logrus.Fields{
		randomIntField:  delay,
		successField:    int(report.Outcome),
		statusField:     e.config.Status,
		durationMsField: report.Elapsed.Milliseconds(),
	}
	if report.Interrupted {
		fields[interruptField] = true
	}
	runCtx.Log.WithFields(fields).Info(completeMessage)

	lc.to(Idle)
	return report
}

// runWorkload turns a panicking workload into a failed run.
func (e *Engine) runWorkload(ctx *runcontext.Context, delay int) (result workload.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = workload.Result{Outcome: workload.Failure, Cause: errors.Errorf("workload panicked: %v", r)}
		}
	}()
	return e.workload.Run(ctx, delay)
}

// exemplar returns the span and trace id of span, or nil if span is not recording a valid trace or
// exemplars are disabled.
func (e *Engine) exemplar(span trace.Span) prometheus.Labels {
	if e.config.ExemplarPolicy == configuration.ExemplarsNever {
		return nil
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return prometheus.Labels{
		instrumentation.SpanIdKey:  sc.SpanID().String(),
		instrumentation.TraceIdKey: sc.TraceID().String(),
	}
}
