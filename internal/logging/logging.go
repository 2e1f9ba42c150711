// Package logging provides the structured logger shared by every ingestion
// daemon. It wraps logrus with the field vocabulary the feed components use
// (stream, msg_type, train_uid, update_id, counter) and routes error-level
// records to stderr while everything else goes to stdout, so a container
// log collector can split severity without parsing JSON.
package logging

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// outputSplitter routes formatted log lines to stdout or stderr by severity.
type outputSplitter struct{}

func (outputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// New builds a logger for the named daemon ("cifloader", "vstpd", "trustd",
// "reconciler"). verbose raises the level to debug; otherwise info.
func New(program string, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(outputSplitter{})
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger.WithField("program", program).Logger
}

// Frame returns a field-scoped entry for one processed message or file,
// matching the counters named throughout spec.md §4 and §8.
func Frame(logger *logrus.Logger, stream string) *logrus.Entry {
	return logger.WithField("stream", stream)
}
