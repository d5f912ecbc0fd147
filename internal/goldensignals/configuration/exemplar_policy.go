package configuration

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/armadaproject/goldensignals/internal/common/signalerrors"
)

// ExemplarPolicy decides which latency observations carry an exemplar. Failed runs always attach one to
// the error counter unless the policy is ExemplarsNever.
type ExemplarPolicy string

const (
	// Exemplars on the error counter and on the latency of failed runs
	ExemplarsOnFailure ExemplarPolicy = "failures"
	// Exemplars on the latency of every run as well
	ExemplarsAlways ExemplarPolicy = "always"
	ExemplarsNever  ExemplarPolicy = "never"
)

func (p ExemplarPolicy) IsValid() bool {
	switch p {
	case ExemplarsOnFailure, ExemplarsAlways, ExemplarsNever:
		return true
	}
	return false
}

func ParseExemplarPolicy(s string) (ExemplarPolicy, error) {
	p := ExemplarPolicy(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return ExemplarsOnFailure, nil
	}
	if !p.IsValid() {
		return "", &signalerrors.ErrInvalidArgument{
			Name:    "ExemplarPolicy",
			Value:   s,
			Message: "must be one of failures, always or never",
		}
	}
	return p, nil
}

// ExemplarPolicyHookFunc decodes and checks exemplar policies while the configuration is loaded.
func ExemplarPolicyHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(ExemplarsOnFailure) {
			return data, nil
		}
		return ParseExemplarPolicy(data.(string))
	}
}
