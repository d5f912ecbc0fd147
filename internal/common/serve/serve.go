package serve

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/armadaproject/goldensignals/internal/common/runcontext"
	"github.com/armadaproject/goldensignals/internal/common/signalerrors"
)

// Listen binds addr. A failure is reported as ErrMetricsBackendUnavailable so callers can choose to carry on
// without an endpoint.
func Listen(addr string) (net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &signalerrors.ErrMetricsBackendUnavailable{Address: addr, Err: err}
	}
	return lis, nil
}

// Serve serves on lis until ctx is done, then gives in-flight requests up to shutdownTimeout to finish.
// It returns nil after a clean shutdown.
func Serve(ctx *runcontext.Context, server *http.Server, lis net.Listener, shutdownTimeout time.Duration) error {
	serveErr := make(chan error, 1)
	go func() {
		ctx.Log.Infof("Serving http on %s", lis.Addr())
		serveErr <- server.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WithStack(err)
	case <-ctx.Done():
	}

	ctx.Log.Infof("Shutting down http server on %s", lis.Addr())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.WithMessage(err, "http server did not shut down cleanly")
	}
	return nil
}
