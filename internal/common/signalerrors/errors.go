// Package signalerrors contains the typed errors shared by the workload runner.
//
// Callers should match on these with errors.As (or errors.Is for the sentinel values) rather than
// comparing messages, since most of them are wrapped with github.com/pkg/errors on the way up.
//
// If several errors occur in one function (e.g., while shutting down several components), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package signalerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInterrupted is reported when a suspension was cut short by the host cancelling its context.
// It is informational only: an interrupted run is never a failed run.
var ErrInterrupted = errors.New("suspension interrupted")

// ErrInvalidRange is returned when a bounded random draw is requested with min >= max.
type ErrInvalidRange struct {
	Min int
	Max int
}

func (err *ErrInvalidRange) Error() string {
	return fmt.Sprintf("invalid range [%d, %d]: max must be greater than min", err.Min, err.Max)
}

// ErrAlreadyRegistered is returned when a metric identity is registered a second time.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyRegistered struct {
	Type    string // Metric type, e.g., "counter" or "summary"
	Value   string // Fully qualified metric name, e.g., "custommetricsdemo_errors_total"
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyRegistered) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("metric %q of type %q is already registered", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("metric %q is already registered", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrMetricsBackendUnavailable wraps failures to register metrics or to bind the scrape endpoint.
// The runner keeps going without the endpoint when it sees one of these.
type ErrMetricsBackendUnavailable struct {
	Address string
	Err     error
}

func (err *ErrMetricsBackendUnavailable) Error() string {
	if err.Address == "" {
		return fmt.Sprintf("metrics backend unavailable: %s", err.Err)
	}
	return fmt.Sprintf("metrics backend unavailable on %s: %s", err.Address, err.Err)
}

func (err *ErrMetricsBackendUnavailable) Unwrap() error {
	return err.Err
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "exemplarPolicy"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// IsInvalidRange reports whether any error in err's chain is an *ErrInvalidRange.
func IsInvalidRange(err error) bool {
	var e *ErrInvalidRange
	return errors.As(err, &e)
}
