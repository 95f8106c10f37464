package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configure logger construction.
type Options struct {
	Verbose bool
	JSON    bool
	Output  io.Writer
}

// New builds a configured logrus logger. Text output goes to stderr so
// command output on stdout stays machine-readable.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()

	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	} else {
		logger.SetOutput(os.Stderr)
	}

	if opts.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		})
	}

	return logger
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
