package instrumentation

import (
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/model"
)

// validExemplar reports whether labels can be attached as an exemplar without the client library rejecting
// them: at least one label, legal label names, valid UTF-8 and no more than prometheus.ExemplarMaxRunes
// runes across all names and values.
func validExemplar(labels prometheus.Labels) bool {
	if len(labels) == 0 {
		return false
	}
	runes := 0
	for name, value := range labels {
		if !model.LabelName(name).IsValid() || !utf8.ValidString(value) {
			return false
		}
		runes += utf8.RuneCountInString(name) + utf8.RuneCountInString(value)
	}
	return runes <= prometheus.ExemplarMaxRunes
}
