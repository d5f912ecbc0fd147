package health

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

const Path = "/health"

// SetupHttpMux serves checker on Path, logging through the standard logger.
func SetupHttpMux(mux *http.ServeMux, checker Checker) {
	mux.Handle(Path, NewHealthCheckHttpHandler(checker, log.NewEntry(log.StandardLogger())))
}
