package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NullLogger discards everything; use it where a logger is required but output is not wanted.
var NullLogger = &logrus.Logger{
	Out:       io.Discard,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.PanicLevel,
}

// NullEntry returns an entry on NullLogger.
func NullEntry() *logrus.Entry {
	return logrus.NewEntry(NullLogger)
}
