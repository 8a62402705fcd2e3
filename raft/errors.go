package raft

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Fatal terminates the process after logging a diagnostic: log I/O
// failures and environment contract violations are unrecoverable.
// cmd/refloatd wraps it in a closure to supply NewLiveEnvironment's
// logFatal callback.
func Fatal(log *logrus.Entry, err error, msg string) {
	log.WithError(errors.WithStack(err)).Error(msg)
	os.Exit(1)
}
