// Package workload simulates a unit of work: a suspension of a requested length that deliberately fails
// for a predictable fraction of inputs.
package workload

import (
	"context"
	"time"

	"k8s.io/utils/clock"
)

type Outcome int

const (
	Failure Outcome = 0
	Success Outcome = 1
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// Bounds of the range redrawn on the fault injection branch. They are inverted on purpose, so the draw
// always fails with an invalid range.
const (
	faultRangeMin = 750
	faultRangeMax = 500
)

type Result struct {
	// How long the workload was actually suspended for. Shorter than requested if interrupted.
	ActualDelay time.Duration
	Outcome     Outcome
	// Why the run failed. Nil on success.
	Cause error
	// The suspension was cut short because the caller's context was done.
	// An interrupted run is still a success.
	Interrupted bool
}

// Drawer supplies bounded random integers.
type Drawer interface {
	Draw(min, max int) (int, error)
}

type Workload struct {
	generator      Drawer
	clock          clock.Clock
	failureDivisor int
}

// New creates a workload that fails for every requested delay divisible by failureDivisor.
// With delays drawn uniformly that is roughly one run in failureDivisor. A divisor below one disables
// fault injection.
func New(generator Drawer, clock clock.Clock, failureDivisor int) *Workload {
	return &Workload{
		generator:      generator,
		clock:          clock,
		failureDivisor: failureDivisor,
	}
}

// Run suspends for requestedDelayMs milliseconds, or fails straight away if the delay selects the fault
// injection branch. Cancelling ctx ends the suspension early. That is reported through Result.Interrupted
// and the cancellation stays visible on ctx.
func (w *Workload) Run(ctx context.Context, requestedDelayMs int) Result {
	delayMs := requestedDelayMs
	if w.injectsFault(requestedDelayMs) {
		redrawn, err := w.generator.Draw(faultRangeMin, faultRangeMax)
		if err != nil {
			return Result{Outcome: Failure, Cause: err}
		}
		delayMs = redrawn
	}
	return w.suspend(ctx, time.Duration(delayMs)*time.Millisecond)
}

func (w *Workload) injectsFault(delayMs int) bool {
	return w.failureDivisor > 0 && delayMs%w.failureDivisor == 0
}

func (w *Workload) suspend(ctx context.Context, d time.Duration) Result {
	if d <= 0 {
		return Result{Outcome: Success}
	}
	start := w.clock.Now()
	timer := w.clock.NewTimer(d)
	select {
	case <-timer.C():
		return Result{ActualDelay: w.clock.Since(start), Outcome: Success}
	case <-ctx.Done():
		timer.Stop()
		return Result{ActualDelay: w.clock.Since(start), Outcome: Success, Interrupted: true}
	}
}
