package goldensignals

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"k8s.io/utils/clock"

	"github.com/armadaproject/goldensignals/internal/common/health"
	"github.com/armadaproject/goldensignals/internal/common/logging"
	commonotel "github.com/armadaproject/goldensignals/internal/common/otel"
	"github.com/armadaproject/goldensignals/internal/common/runcontext"
	"github.com/armadaproject/goldensignals/internal/common/serve"
	"github.com/armadaproject/goldensignals/internal/common/signalerrors"
	"github.com/armadaproject/goldensignals/internal/common/task"
	"github.com/armadaproject/goldensignals/internal/goldensignals/configuration"
	"github.com/armadaproject/goldensignals/internal/goldensignals/engine"
	"github.com/armadaproject/goldensignals/internal/goldensignals/instrumentation"
	"github.com/armadaproject/goldensignals/internal/goldensignals/randomrange"
	"github.com/armadaproject/goldensignals/internal/goldensignals/reqcontext"
	"github.com/armadaproject/goldensignals/internal/goldensignals/workload"
)

const (
	tracerName   = "github.com/armadaproject/goldensignals"
	tickSpanName = "tick"
	tickTaskName = "tick"
)

// Run sets up the workload runner on the default Prometheus registry and runs it until ctx is cancelled.
func Run(ctx *runcontext.Context, config configuration.Configuration) error {
	if err := logging.AddPrometheusHook(log.StandardLogger()); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Log lines will not be counted")
	}
	return run(ctx, config, prometheus.DefaultRegisterer, prometheus.DefaultGatherer, clock.RealClock{})
}

func run(
	ctx *runcontext.Context,
	config configuration.Configuration,
	registerer prometheus.Registerer,
	gatherer prometheus.Gatherer,
	clk clock.WithTicker,
) error {
	logStartupSelfTest(ctx.Log, config.Metrics.ExemplarPolicy)

	//////////////////////////////////////////////////////////////////////////
	// Metrics
	//////////////////////////////////////////////////////////////////////////
	configureRuntimeMetrics(ctx.Log, registerer, config.Metrics.ExposeRuntimeMetrics)
	bundle := instrumentation.New(config.Metrics.Namespace, config.Metrics.HistogramBuckets, config.Metrics.Objectives())
	if err := bundle.Register(registerer); err != nil {
		var already *signalerrors.ErrAlreadyRegistered
		if errors.As(err, &already) {
			return err
		}
		logging.WithStacktrace(ctx.Log, err).Error("Failed to register metrics; continuing without them")
	}

	//////////////////////////////////////////////////////////////////////////
	// Tracing
	//////////////////////////////////////////////////////////////////////////
	resource, err := commonotel.NewResource(config.Tracing.ServiceName, config.Metrics.Namespace)
	if err != nil {
		return err
	}
	shutdownTracing, err := commonotel.LoadOtel(ctx, &config.Tracing, resource)
	if err != nil {
		return errors.WithMessage(err, "error setting up tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logging.WithStacktrace(ctx.Log, err).Warn("Tracer provider didn't shut down cleanly")
		}
	}()
	tracer := otel.Tracer(tracerName)

	//////////////////////////////////////////////////////////////////////////
	// Engine
	//////////////////////////////////////////////////////////////////////////
	generator := randomrange.NewSeeded(config.Seed)
	e := engine.New(
		engine.Config{
			MinDelay:       config.Workload.MinDelay,
			MaxDelay:       config.Workload.MaxDelay,
			Status:         config.Status,
			ExemplarPolicy: config.Metrics.ExemplarPolicy,
		},
		generator,
		workload.New(generator, clk, config.Workload.FailureDivisor),
		bundle,
		reqcontext.NewProvider(reqcontext.RequestContext{
			TenantId:   config.RequestContext.TenantId,
			UserId:     config.RequestContext.UserId,
			JobId:      config.RequestContext.JobId,
			CustomerId: config.RequestContext.CustomerId,
		}, config.RequestContext.GenerateJobId),
		reqcontext.NewStore(),
		clk,
	)

	g, gctx := runcontext.ErrGroup(ctx)

	//////////////////////////////////////////////////////////////////////////
	// Trigger
	//////////////////////////////////////////////////////////////////////////
	taskManager := task.NewBackgroundTaskManager(config.Metrics.Namespace+"_", registerer, clk, config.Schedule.HealthTolerance)
	tick := func(ctx *runcontext.Context) {
		spanCtx, span := tracer.Start(ctx, tickSpanName)
		defer span.End()
		e.RunOnce(runcontext.WithGoContext(ctx, spanCtx), span)
	}
	if err := taskManager.Register(gctx, tick, config.Schedule.Period, config.Schedule.InitialDelay, tickTaskName); err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		if taskManager.StopAll(config.ShutdownTimeout) {
			gctx.Log.Warnf("Trigger did not stop within %s", config.ShutdownTimeout)
		}
		return nil
	})

	//////////////////////////////////////////////////////////////////////////
	// Http: metrics and health
	//////////////////////////////////////////////////////////////////////////
	mux := http.NewServeMux()
	mux.Handle(config.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	startupCompleteCheck := health.NewStartupCompleteChecker()
	health.SetupHttpMux(mux, health.NewMultiChecker(startupCompleteCheck, taskManager))
	addr := fmt.Sprintf(":%d", config.Metrics.Port)
	lis, err := serve.Listen(addr)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Error("Failed to set up metrics endpoint; continuing without it")
	} else {
		g.Go(func() error {
			return serve.Serve(gctx, &http.Server{Handler: mux}, lis, config.ShutdownTimeout)
		})
	}

	// Mark startup as complete, will allow the health check to return healthy
	startupCompleteCheck.MarkComplete()
	ctx.Log.Infof("Running every %s", config.Schedule.Period)
	return g.Wait()
}

func logStartupSelfTest(logger *log.Entry, policy configuration.ExemplarPolicy) {
	logger.Debug("This is a DEBUG message")
	logger.Info("This is an INFO message")
	logger.Warn("This is a WARN message")
	logger.Error("This is an ERROR message")
	logger.Infof("Exemplars enabled: %t (policy %s)", policy != configuration.ExemplarsNever, policy)
}

// configureRuntimeMetrics makes sure the Go and process collectors are registered exactly when expose is set.
func configureRuntimeMetrics(logger *log.Entry, registerer prometheus.Registerer, expose bool) {
	runtimeCollectors := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range runtimeCollectors {
		if !expose {
			registerer.Unregister(c)
			continue
		}
		if err := registerer.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				logger.WithError(err).Warn("Failed to register runtime metrics")
			}
		}
	}
}
