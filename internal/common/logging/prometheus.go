package logging

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
)

// AddPrometheusHook attaches a hook to the given logger that counts log lines by level in the
// log_messages_total counter of the default Prometheus registry.
func AddPrometheusHook(logger *logrus.Logger) error {
	hook, err := promrus.NewPrometheusHook()
	if err != nil {
		return errors.WithMessage(err, "error creating prometheus log hook")
	}
	logger.AddHook(hook)
	return nil
}
