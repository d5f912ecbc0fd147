package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/armadaproject/goldensignals/internal/common/logging"
	"github.com/armadaproject/goldensignals/internal/common/runcontext"
	"github.com/armadaproject/goldensignals/internal/common/signalerrors"
	"github.com/armadaproject/goldensignals/internal/goldensignals/configuration"
	"github.com/armadaproject/goldensignals/internal/goldensignals/instrumentation"
	"github.com/armadaproject/goldensignals/internal/goldensignals/randomrange"
	"github.com/armadaproject/goldensignals/internal/goldensignals/reqcontext"
	"github.com/armadaproject/goldensignals/internal/goldensignals/workload"
)

var demoContext = reqcontext.RequestContext{
	TenantId:   "1234",
	UserId:     "jneely",
	JobId:      "job-9876",
	CustomerId: "DB93F282-5559-49B8-9BBB-F24E0086FE14",
}

var defaultConfig = Config{
	MinDelay:       0,
	MaxDelay:       750,
	Status:         200,
	ExemplarPolicy: configuration.ExemplarsOnFailure,
}

// recordingInstruments counts every call made to it.
type recordingInstruments struct {
	mu                  sync.Mutex
	traffic             int
	loads               []float64
	errors              []prometheus.Labels
	summaryObservations []float64
	histogramExemplars  []prometheus.Labels
}

func (r *recordingInstruments) RecordTraffic() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traffic++
}

func (r *recordingInstruments) SetLoad(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, v)
}

func (r *recordingInstruments) RecordError(exemplar prometheus.Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, exemplar)
}

func (r *recordingInstruments) ObserveLatencySummary(seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaryObservations = append(r.summaryObservations, seconds)
}

func (r *recordingInstruments) ObserveLatencyHistogram(_ float64, exemplar prometheus.Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histogramExemplars = append(r.histogramExemplars, exemplar)
}

type fixedGenerator int

func (g fixedGenerator) Draw(int, int) (int, error) { return int(g), nil }

type panickingWorkload struct{}

func (panickingWorkload) Run(context.Context, int) workload.Result { panic("boom") }

// causelessWorkload fails without saying why.
type causelessWorkload struct{}

func (causelessWorkload) Run(context.Context, int) workload.Result { return workload.Result{} }

type testEngine struct {
	engine      *Engine
	instruments *recordingInstruments
	scopes      *reqcontext.Store
	hook        *test.Hook
	ctx         *runcontext.Context
}

func newTestEngine(config Config, generator Generator, w Workload, c clock.PassiveClock) *testEngine {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	instruments := &recordingInstruments{}
	scopes := reqcontext.NewStore()
	return &testEngine{
		engine:      New(config, generator, w, instruments, reqcontext.NewProvider(demoContext, false), scopes, c),
		instruments: instruments,
		scopes:      scopes,
		hook:        hook,
		ctx:         runcontext.New(context.Background(), logrus.NewEntry(logger)),
	}
}

func realWorkload() *workload.Workload {
	return workload.New(randomrange.NewSeeded(1), clock.RealClock{}, 5)
}

func recordingSpan(ctx context.Context) (*tracetest.SpanRecorder, context.Context, trace.Span) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	spanCtx, span := tp.Tracer("test").Start(ctx, "tick")
	return recorder, spanCtx, span
}

func completeEntries(hook *test.Hook) []*logrus.Entry {
	var entries []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == completeMessage {
			entries = append(entries, e)
		}
	}
	return entries
}

func TestRunOnce_Success(t *testing.T) {
	te := newTestEngine(defaultConfig, fixedGenerator(101), realWorkload(), clock.RealClock{})
	recorder, _, span := recordingSpan(te.ctx)

	report := te.engine.RunOnce(te.ctx, span)
	span.End()

	assert.Equal(t, workload.Success, report.Outcome)
	assert.Equal(t, 101, report.Delay)
	assert.NoError(t, report.Cause)
	assert.GreaterOrEqual(t, report.Elapsed, 101*time.Millisecond)

	assert.Equal(t, 1, te.instruments.traffic)
	assert.Equal(t, []float64{101}, te.instruments.loads)
	assert.Empty(t, te.instruments.errors)
	assert.Len(t, te.instruments.summaryObservations, 1)
	require.Len(t, te.instruments.histogramExemplars, 1)
	assert.Nil(t, te.instruments.histogramExemplars[0])

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Contains(t, ended[0].Attributes(), attribute.Int(SpanAttributeKey, 101))
	assert.Contains(t, ended[0].Attributes(), attribute.String("correlation.user_id", "jneely"))
	assert.Equal(t, codes.Unset, ended[0].Status().Code)

	entries := completeEntries(te.hook)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, 101, entry.Data[randomIntField])
	assert.Equal(t, 1, entry.Data[successField])
	assert.Equal(t, 200, entry.Data[statusField])
	assert.GreaterOrEqual(t, entry.Data[durationMsField], int64(101))
	for k, v := range demoContext.Fields() {
		assert.Equal(t, v, entry.Data[k])
	}
	assert.Equal(t, 0, te.scopes.Len())
}

func TestRunOnce_InjectedFailure(t *testing.T) {
	te := newTestEngine(defaultConfig, fixedGenerator(5), realWorkload(), clock.RealClock{})
	recorder, _, span := recordingSpan(te.ctx)

	report := te.engine.RunOnce(te.ctx, span)
	span.End()

	assert.Equal(t, workload.Failure, report.Outcome)
	assert.True(t, signalerrors.IsInvalidRange(report.Cause))

	sc := span.SpanContext()
	expectedExemplar := prometheus.Labels{
		instrumentation.SpanIdKey:  sc.SpanID().String(),
		instrumentation.TraceIdKey: sc.TraceID().String(),
	}
	assert.Equal(t, 1, te.instruments.traffic)
	assert.Equal(t, []prometheus.Labels{expectedExemplar}, te.instruments.errors)
	assert.Equal(t, []prometheus.Labels{expectedExemplar}, te.instruments.histogramExemplars)
	assert.Len(t, te.instruments.summaryObservations, 1)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "exception", ended[0].Events()[0].Name)
	for _, kv := range ended[0].Attributes() {
		assert.NotEqual(t, attribute.Key(SpanAttributeKey), kv.Key)
	}

	var failed *logrus.Entry
	for _, e := range te.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			failed = e
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, report.Cause, failed.Data[logrus.ErrorKey])
	assert.NotNil(t, failed.Data[logging.Stacktrace])
	assert.Equal(t, "jneely", failed.Data[reqcontext.UserIdKey])

	entries := completeEntries(te.hook)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].Data[successField])
	assert.Equal(t, 5, entries[0].Data[randomIntField])
}

func TestRunOnce_ExemplarPolicy(t *testing.T) {
	tests := map[string]struct {
		policy                  configuration.ExemplarPolicy
		delay                   int
		expectErrorExemplar     bool
		expectHistogramExemplar bool
	}{
		"failures policy, success": {policy: configuration.ExemplarsOnFailure, delay: 1},
		"failures policy, failure": {policy: configuration.ExemplarsOnFailure, delay: 5, expectErrorExemplar: true, expectHistogramExemplar: true},
		"always policy, success":   {policy: configuration.ExemplarsAlways, delay: 1, expectHistogramExemplar: true},
		"never policy, failure":    {policy: configuration.ExemplarsNever, delay: 5},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			config := defaultConfig
			config.ExemplarPolicy = tc.policy
			te := newTestEngine(config, fixedGenerator(tc.delay), realWorkload(), clock.RealClock{})
			_, _, span := recordingSpan(te.ctx)

			te.engine.RunOnce(te.ctx, span)

			require.Len(t, te.instruments.histogramExemplars, 1)
			assert.Equal(t, tc.expectHistogramExemplar, te.instruments.histogramExemplars[0] != nil)
			if tc.delay%5 == 0 {
				require.Len(t, te.instruments.errors, 1)
				assert.Equal(t, tc.expectErrorExemplar, te.instruments.errors[0] != nil)
			}
		})
	}
}

func TestRunOnce_NoSpan(t *testing.T) {
	te := newTestEngine(defaultConfig, fixedGenerator(5), realWorkload(), clock.RealClock{})

	var report Report
	require.NotPanics(t, func() { report = te.engine.RunOnce(te.ctx, nil) })

	assert.Equal(t, workload.Failure, report.Outcome)
	require.Len(t, te.instruments.errors, 1)
	assert.Nil(t, te.instruments.errors[0])
	assert.Nil(t, te.instruments.histogramExemplars[0])
}

func TestRunOnce_SpanFromContext(t *testing.T) {
	te := newTestEngine(defaultConfig, fixedGenerator(1), realWorkload(), clock.RealClock{})
	recorder, spanCtx, span := recordingSpan(te.ctx)

	te.engine.RunOnce(runcontext.WithGoContext(te.ctx, spanCtx), nil)
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Contains(t, recorder.Ended()[0].Attributes(), attribute.Int(SpanAttributeKey, 1))
}

func TestRunOnce_Interrupted(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	w := workload.New(randomrange.NewSeeded(1), fakeClock, 5)
	te := newTestEngine(defaultConfig, fixedGenerator(101), w, fakeClock)
	ctx, cancel := runcontext.WithCancel(te.ctx)

	reports := make(chan Report, 1)
	go func() { reports <- te.engine.RunOnce(ctx, nil) }()
	require.Eventually(t, fakeClock.HasWaiters, 5*time.Second, time.Millisecond)
	fakeClock.Step(30 * time.Millisecond)
	cancel()

	var report Report
	select {
	case report = <-reports:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	assert.Equal(t, workload.Success, report.Outcome)
	assert.True(t, report.Interrupted)
	assert.Equal(t, 30*time.Millisecond, report.Elapsed)
	assert.Empty(t, te.instruments.errors)
	assert.Len(t, te.instruments.summaryObservations, 1)
	assert.Error(t, ctx.Err())

	entries := completeEntries(te.hook)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Data[successField])
	assert.Equal(t, true, entries[0].Data[interruptField])
	assert.Equal(t, int64(30), entries[0].Data[durationMsField])

	var acknowledged bool
	for _, e := range te.hook.AllEntries() {
		acknowledged = acknowledged || (e.Level == logrus.WarnLevel && e.Data[logrus.ErrorKey] == signalerrors.ErrInterrupted)
	}
	assert.True(t, acknowledged)
	assert.Equal(t, 0, te.scopes.Len())
}

func TestRunOnce_DrawFailure(t *testing.T) {
	config := defaultConfig
	config.MinDelay, config.MaxDelay = 10, 10
	te := newTestEngine(config, randomrange.NewSeeded(1), realWorkload(), clock.RealClock{})

	report := te.engine.RunOnce(te.ctx, nil)

	assert.Equal(t, workload.Failure, report.Outcome)
	assert.True(t, signalerrors.IsInvalidRange(report.Cause))
	assert.Equal(t, 1, te.instruments.traffic)
	assert.Len(t, te.instruments.loads, 1)
	assert.Len(t, te.instruments.errors, 1)
	assert.Len(t, te.instruments.summaryObservations, 1)
	assert.Len(t, te.instruments.histogramExemplars, 1)
}

func TestRunOnce_WorkloadPanic(t *testing.T) {
	te := newTestEngine(defaultConfig, fixedGenerator(1), panickingWorkload{}, clock.RealClock{})

	report := te.engine.RunOnce(te.ctx, nil)

	assert.Equal(t, workload.Failure, report.Outcome)
	assert.ErrorContains(t, report.Cause, "boom")
	assert.Len(t, te.instruments.errors, 1)
	assert.Len(t, completeEntries(te.hook), 1)
	assert.Equal(t, 0, te.scopes.Len())
}

func TestRunOnce_StateTransitions(t *testing.T) {
	te := newTestEngine(defaultConfig, fixedGenerator(1), realWorkload(), clock.RealClock{})
	te.engine.RunOnce(te.ctx, nil)

	var transitions []string
	for _, e := range te.hook.AllEntries() {
		if e.Message == "State transition" {
			transitions = append(transitions, e.Data["to"].(State).String())
		}
	}
	assert.Equal(t, []string{"ContextEstablished", "Running", "Completed", "Idle"}, transitions)
}

func TestRunOnce_ContextClearedAfterReturn(t *testing.T) {
	te := newTestEngine(defaultConfig, fixedGenerator(1), realWorkload(), clock.RealClock{})
	te.engine.RunOnce(te.ctx, nil)

	assert.Equal(t, 0, te.scopes.Len())
	// the caller's logger never picked up the run's fields
	te.ctx.Log.Info("after")
	assert.NotContains(t, te.hook.LastEntry().Data, reqcontext.TenantIdKey)
}

func TestRunOnce_OverlappingRunsAreIsolated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	scopes := reqcontext.NewStore()
	e := New(defaultConfig, fixedGenerator(101), realWorkload(), &recordingInstruments{},
		reqcontext.NewProvider(demoContext, true), scopes, clock.RealClock{})
	ctx := runcontext.New(context.Background(), logrus.NewEntry(logger))

	const runs = 4
	reports := make([]Report, runs)
	wg := sync.WaitGroup{}
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = e.RunOnce(ctx, nil)
		}(i)
	}
	require.Eventually(t, func() bool { return scopes.Len() == runs }, 5*time.Second, time.Millisecond)
	wg.Wait()

	assert.Equal(t, 0, scopes.Len())
	jobIds := map[string]bool{}
	for _, r := range reports {
		jobIds[r.RequestContext.JobId] = true
	}
	assert.Len(t, jobIds, runs)

	entries := completeEntries(hook)
	require.Len(t, entries, runs)
	for _, entry := range entries {
		jobId := entry.Data[reqcontext.JobIdKey].(string)
		assert.True(t, jobIds[jobId], "unexpected job id %s", jobId)
		delete(jobIds, jobId)
	}
	assert.Empty(t, jobIds)
}

func TestRunOnce_FailureRate(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	generator := randomrange.NewSeeded(2024)
	te := newTestEngine(defaultConfig, generator, workload.New(generator, fakeClock, 5), fakeClock)
	te.ctx.Log.Logger.SetLevel(logrus.InfoLevel)

	// release every suspension as soon as it starts
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			if fakeClock.HasWaiters() {
				fakeClock.Step(time.Second)
			} else {
				time.Sleep(10 * time.Microsecond)
			}
		}
	}()

	const ticks = 2000
	failures := 0
	for i := 0; i < ticks; i++ {
		report := te.engine.RunOnce(te.ctx, nil)
		if report.Outcome == workload.Failure {
			failures++
			assert.Equal(t, 0, report.Delay%5)
		} else {
			assert.NotEqual(t, 0, report.Delay%5)
		}
	}

	assert.InDelta(t, 0.2, float64(failures)/ticks, 0.04)
	assert.Equal(t, ticks, te.instruments.traffic)
	assert.Len(t, te.instruments.errors, failures)
	assert.Len(t, te.instruments.summaryObservations, ticks)
	assert.Len(t, te.instruments.histogramExemplars, ticks)
	assert.Len(t, completeEntries(te.hook), ticks)
}

func TestRunOnce_WithBundle(t *testing.T) {
	registry := prometheus.NewRegistry()
	bundle := instrumentation.New(instrumentation.DefaultNamespace, nil, nil)
	require.NoError(t, bundle.Register(registry))
	logger, _ := test.NewNullLogger()
	e := New(defaultConfig, fixedGenerator(5), realWorkload(), bundle,
		reqcontext.NewProvider(demoContext, false), reqcontext.NewStore(), clock.RealClock{})
	ctx := runcontext.New(context.Background(), logrus.NewEntry(logger))
	_, _, span := recordingSpan(ctx)

	e.RunOnce(ctx, span)

	families, err := registry.Gather()
	require.NoError(t, err)
	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}
	assert.Equal(t, 1.0, byName["custommetricsdemo_traffic_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 5.0, byName["custommetricsdemo_gauge"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, uint64(1), byName["custommetricsdemo_latency_timer"].GetMetric()[0].GetSummary().GetSampleCount())
	assert.Equal(t, uint64(1), byName["custommetricsdemo_histogram"].GetMetric()[0].GetHistogram().GetSampleCount())

	errorCounter := byName["custommetricsdemo_errors_total"].GetMetric()[0].GetCounter()
	assert.Equal(t, 1.0, errorCounter.GetValue())
	require.NotNil(t, errorCounter.GetExemplar())
	labels := map[string]string{}
	for _, l := range errorCounter.GetExemplar().GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	assert.Equal(t, span.SpanContext().TraceID().String(), labels[instrumentation.TraceIdKey])
	assert.Equal(t, span.SpanContext().SpanID().String(), labels[instrumentation.SpanIdKey])
}

func TestRunOnce_FailureWithoutCause(t *testing.T) {
	te := newTestEngine(defaultConfig, fixedGenerator(1), causelessWorkload{}, clock.RealClock{})
	recorder, spanCtx, span := recordingSpan(context.Background())

	var report Report
	require.NotPanics(t, func() { report = te.engine.RunOnce(runcontext.WithGoContext(te.ctx, spanCtx), span) })
	span.End()

	assert.Equal(t, workload.Failure, report.Outcome)
	assert.ErrorIs(t, report.Cause, errWorkloadFailed)
	assert.Len(t, te.instruments.errors, 1)
	assert.Len(t, te.instruments.summaryObservations, 1)
	assert.Len(t, te.instruments.histogramExemplars, 1)
	assert.Len(t, completeEntries(te.hook), 1)
	assert.Equal(t, 0, te.scopes.Len())

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, codes.Error, recorder.Ended()[0].Status().Code)
}
