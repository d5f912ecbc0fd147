package health

import (
	"net/http"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// HealthCheckHttpHandler answers 204 while checker passes and 503 with the failure as a plain text
// body otherwise. It logs when the outcome flips rather than on every request.
type HealthCheckHttpHandler struct {
	checker Checker
	log     *log.Entry
	failing atomic.Bool
}

func NewHealthCheckHttpHandler(checker Checker, logger *log.Entry) *HealthCheckHttpHandler {
	return &HealthCheckHttpHandler{
		checker: checker,
		log:     logger,
	}
}

func (h *HealthCheckHttpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.checker.Check()
	if err == nil {
		if h.failing.CompareAndSwap(true, false) {
			h.log.Info("Health check passing again")
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if h.failing.CompareAndSwap(false, true) {
		h.log.Warnf("Health check failed: %v", err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	if r.Method == http.MethodHead {
		return
	}
	if _, err = w.Write([]byte(err.Error())); err != nil {
		h.log.Errorf("Failed to write health check response: %v", err)
	}
}
