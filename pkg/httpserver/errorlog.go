package httpserver

import (
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

// newErrorLog routes net/http's internal error messages into logrus.
func newErrorLog(entry *logrus.Entry) *log.Logger {
	return log.New(errorLogWriter{entry}, "", 0)
}

type errorLogWriter struct {
	entry *logrus.Entry
}

func (w errorLogWriter) Write(p []byte) (int, error) {
	w.entry.Warn(strings.TrimSpace(string(p)))
	return len(p), nil
}
