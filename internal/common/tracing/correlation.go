package tracing

import (
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationPrefix namespaces the correlation attributes added to spans.
const CorrelationPrefix = "correlation."

// AddCorrelation adds each identifier as a span attribute, so a trace can be matched with the log records
// written under the same identifiers. Nothing is added to a span that is not recording.
func AddCorrelation(span trace.Span, ids map[string]interface{}) {
	if span == nil || !span.IsRecording() {
		return
	}
	keys := make([]string, 0, len(ids))
	for k := range ids {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(CorrelationPrefix+k, fmt.Sprint(ids[k])))
	}
	span.SetAttributes(attrs...)
}
