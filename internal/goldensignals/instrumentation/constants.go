package instrumentation

const (
	DefaultNamespace = "custommetricsdemo"

	// Counter names end in _total; OpenMetrics exposes them as the families "traffic" and "errors".
	gaugeName        = "gauge"
	trafficName      = "traffic_total"
	errorsName       = "errors_total"
	latencyTimerName = "latency_timer"
	histogramName    = "histogram"

	// Exemplar label names
	SpanIdKey  = "span_id"
	TraceIdKey = "trace_id"
)

// DefaultObjectives are the quantiles tracked by the latency summary, mapped to their allowed absolute error.
var DefaultObjectives = map[float64]float64{0.5: 0.01, 0.95: 0.01}
