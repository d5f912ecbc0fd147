package configuration

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/armadaproject/goldensignals/internal/common/logging"
	otelconfig "github.com/armadaproject/goldensignals/internal/common/otel/configuration"
)

type Configuration struct {
	Logging logging.Config
	Metrics MetricsConfig
	// Configuration controlling the periodic trigger
	Schedule ScheduleConfig
	Workload WorkloadConfig
	// Identifiers attached to every run
	RequestContext RequestContextConfig
	Tracing        otelconfig.OtelConfig
	// Status code reported in every run's log record
	Status int `validate:"gte=100,lte=599"`
	// Seed for the delay generator. Zero seeds from the current time.
	Seed int64
	// How long in-flight work is given to finish on shutdown
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

func (c Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(WorkloadConfigValidation, WorkloadConfig{})
	validate.RegisterStructValidation(MetricsConfigValidation, MetricsConfig{})
	return validate.Struct(c)
}

type MetricsConfig struct {
	// Prefix of every run metric name
	Namespace string `validate:"required"`
	// Port the scrape endpoint listens on
	Port uint16 `validate:"required"`
	Path string `validate:"required,startswith=/"`
	// Also expose Go runtime and process metrics
	ExposeRuntimeMetrics bool
	// Upper bounds, in seconds, of the latency histogram buckets
	HistogramBuckets []float64 `validate:"required,min=1,dive,gt=0"`
	// Quantiles tracked by the latency summary
	SummaryObjectives []Objective `validate:"required,min=1,dive"`
	ExemplarPolicy    ExemplarPolicy
}

// Objectives returns SummaryObjectives in the form the Prometheus client expects.
func (c MetricsConfig) Objectives() map[float64]float64 {
	objectives := make(map[float64]float64, len(c.SummaryObjectives))
	for _, o := range c.SummaryObjectives {
		objectives[o.Quantile] = o.Error
	}
	return objectives
}

type Objective struct {
	Quantile float64 `validate:"gt=0,lt=1"`
	Error    float64 `validate:"gte=0,lt=1"`
}

type ScheduleConfig struct {
	Period       time.Duration `validate:"gt=0"`
	InitialDelay time.Duration `validate:"gte=0"`
	// Number of periods without a completed run after which the runner reports itself unhealthy
	HealthTolerance int `validate:"gte=1"`
}

type WorkloadConfig struct {
	// Bounds, in milliseconds, of the delay drawn for each run. Both are inclusive.
	MinDelay int `validate:"gte=0"`
	MaxDelay int
	// Runs whose delay is divisible by FailureDivisor fail
	FailureDivisor int `validate:"gte=1"`
}

type RequestContextConfig struct {
	TenantId   string `validate:"required"`
	UserId     string `validate:"required"`
	JobId      string `validate:"required"`
	CustomerId string `validate:"required"`
	// Replace JobId with a fresh id for every run
	GenerateJobId bool
}

func WorkloadConfigValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(WorkloadConfig)
	if c.MaxDelay <= c.MinDelay {
		sl.ReportError(c.MaxDelay, "MaxDelay", "MaxDelay", "gtfield", "MinDelay")
	}
}

func MetricsConfigValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(MetricsConfig)
	if !c.ExemplarPolicy.IsValid() {
		sl.ReportError(c.ExemplarPolicy, "ExemplarPolicy", "ExemplarPolicy", "oneof", "")
	}
	for i := 1; i < len(c.HistogramBuckets); i++ {
		if c.HistogramBuckets[i] <= c.HistogramBuckets[i-1] {
			sl.ReportError(c.HistogramBuckets, "HistogramBuckets", "HistogramBuckets", "ascending", "")
			return
		}
	}
}
