// Package instrumentation owns the five metrics every run reports: the load gauge, the traffic and error
// counters and the latency summary and histogram.
package instrumentation

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/goldensignals/internal/common/signalerrors"
)

// Bundle is a prometheus.Collector over the five run metrics. All methods are safe for concurrent use.
type Bundle struct {
	namespace    string
	gauge        prometheus.Gauge
	traffic      prometheus.Counter
	errors       prometheus.Counter
	latencyTimer prometheus.Summary
	histogram    prometheus.Histogram
}

// New creates the metrics under namespace. Nil buckets or objectives select the defaults.
func New(namespace string, buckets []float64, objectives map[float64]float64) *Bundle {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	if objectives == nil {
		objectives = DefaultObjectives
	}
	return &Bundle{
		namespace: namespace,
		gauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      gaugeName,
			Help:      "Delay in milliseconds drawn for the most recent run",
		}),
		traffic: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      trafficName,
			Help:      "Number of runs started",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      errorsName,
			Help:      "Number of runs that failed",
		}),
		latencyTimer: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace:  namespace,
			Name:       latencyTimerName,
			Help:       "Run latency in seconds",
			Objectives: objectives,
		}),
		histogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      histogramName,
			Help:      "Run latency in seconds",
			Buckets:   buckets,
		}),
	}
}

// Register adds every metric in the bundle to registerer, or none of them.
// A metric already present is reported as ErrAlreadyRegistered. Any other failure is reported as
// ErrMetricsBackendUnavailable.
func (b *Bundle) Register(registerer prometheus.Registerer) error {
	var registered []prometheus.Collector
	for _, m := range b.metrics() {
		if err := registerer.Register(m.collector); err != nil {
			for _, c := range registered {
				registerer.Unregister(c)
			}
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return errors.WithStack(&signalerrors.ErrAlreadyRegistered{
					Type:  m.kind,
					Value: prometheus.BuildFQName(b.namespace, "", m.name),
				})
			}
			return errors.WithStack(&signalerrors.ErrMetricsBackendUnavailable{Err: err})
		}
		registered = append(registered, m.collector)
	}
	return nil
}

// RecordTraffic counts one run.
func (b *Bundle) RecordTraffic() {
	b.traffic.Inc()
}

// SetLoad records the delay drawn for the current run.
func (b *Bundle) SetLoad(v float64) {
	b.gauge.Set(v)
}

// RecordError counts one failed run. A usable exemplar is attached to this increment; anything else is ignored.
func (b *Bundle) RecordError(exemplar prometheus.Labels) {
	if !validExemplar(exemplar) {
		b.errors.Inc()
		return
	}
	adder, ok := b.errors.(prometheus.ExemplarAdder)
	if !ok {
		b.errors.Inc()
		return
	}
	defer recoverExemplar(errorsName)
	adder.AddWithExemplar(1, exemplar)
}

func (b *Bundle) ObserveLatencySummary(seconds float64) {
	b.latencyTimer.Observe(seconds)
}

// ObserveLatencyHistogram adds one observation, attaching exemplar to it when usable.
func (b *Bundle) ObserveLatencyHistogram(seconds float64, exemplar prometheus.Labels) {
	if !validExemplar(exemplar) {
		b.histogram.Observe(seconds)
		return
	}
	observer, ok := b.histogram.(prometheus.ExemplarObserver)
	if !ok {
		b.histogram.Observe(seconds)
		return
	}
	defer recoverExemplar(histogramName)
	observer.ObserveWithExemplar(seconds, exemplar)
}

// Describe is necessary to implement the prometheus.Collector interface
func (b *Bundle) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range b.metrics() {
		m.collector.Describe(ch)
	}
}

// Collect is necessary to implement the prometheus.Collector interface
func (b *Bundle) Collect(ch chan<- prometheus.Metric) {
	for _, m := range b.metrics() {
		m.collector.Collect(ch)
	}
}

type namedMetric struct {
	name      string
	kind      string
	collector prometheus.Collector
}

func (b *Bundle) metrics() []namedMetric {
	return []namedMetric{
		{name: gaugeName, kind: "gauge", collector: b.gauge},
		{name: trafficName, kind: "counter", collector: b.traffic},
		{name: errorsName, kind: "counter", collector: b.errors},
		{name: latencyTimerName, kind: "summary", collector: b.latencyTimer},
		{name: histogramName, kind: "histogram", collector: b.histogram},
	}
}

// The client library records the value before validating the exemplar, so by the time it panics the
// increment or observation has already happened and must not be repeated.
func recoverExemplar(metric string) {
	if r := recover(); r != nil {
		log.Debugf("Dropped exemplar for %s: %v", metric, r)
	}
}
