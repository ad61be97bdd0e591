package dagflow

import (
	"os"

	"github.com/sirupsen/logrus"
)

// defaultLogger mirrors the teacher's pipe.go: a package-level logrus
// logger at warn level so normal operation is quiet, with every field the
// executor logs attached as structured key/value pairs rather than baked
// into the message string.
var defaultLogger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.WarnLevel,
}

func nodeLogger(logger *logrus.Logger, handle NodeHandle, kind NodeKind) *logrus.Entry {
	if logger == nil {
		logger = defaultLogger
	}
	return logger.WithFields(logrus.Fields{
		"node": string(handle),
		"kind": nodeKindName(kind),
	})
}

func nodeKindName(kind NodeKind) string {
	switch kind {
	case KindSource:
		return "source"
	case KindProcessor:
		return "processor"
	default:
		return "sink"
	}
}
