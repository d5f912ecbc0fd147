package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJson LogFormat = "json"
)

// Config defines console logging configuration.
type Config struct {
	// Log level, e.g. info, error etc
	Level string
	// Logging format, either text or json
	Format LogFormat
}

// ConfigureLogging sets up the standard logrus logger. Applications call this once at startup,
// before anything else logs.
func ConfigureLogging(c Config) error {
	return configure(log.StandardLogger(), os.Stdout, c)
}

func configure(logger *log.Logger, out io.Writer, c Config) error {
	level, err := log.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return errors.WithStack(err)
	}
	formatter, err := newFormatter(c.Format)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	logger.SetOutput(out)
	return nil
}

func newFormatter(format LogFormat) (log.Formatter, error) {
	switch format {
	case FormatText, "":
		return &log.TextFormatter{ForceColors: true, FullTimestamp: true, TimestampFormat: RFC3339Milli}, nil
	case FormatJson:
		return &log.JSONFormatter{TimestampFormat: RFC3339Milli}, nil
	default:
		return nil, errors.Errorf("unknown log format: %s. Valid formats are %s and %s", format, FormatText, FormatJson)
	}
}
