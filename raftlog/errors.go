package raftlog

import "github.com/pkg/errors"

// ErrLocked is returned by Open when another process already holds the
// exclusive lock on the node directory's primary file.
var ErrLocked = errors.New("raftlog: primary is locked by another process")

// wrapIO marks an error as an unrecoverable log I/O failure: callers
// must treat the node as faulted and halt, not retry.
func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "raftlog: %s", op)
}
