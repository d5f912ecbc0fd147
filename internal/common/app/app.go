package app

import (
	"os/signal"
	"syscall"

	"github.com/armadaproject/goldensignals/internal/common/runcontext"
)

// CreateContextWithShutdown returns a context that will report done when a SIGINT or SIGTERM is received.
// The returned stop function releases the signal handlers; a second signal after stop kills the process.
func CreateContextWithShutdown() (*runcontext.Context, func()) {
	parent := runcontext.Background()
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	return runcontext.WithGoContext(parent, ctx), stop
}
