package recorder

import (
	"errors"
	"fmt"
)

// ErrNoActiveSession is returned by Log when no trip has been started.
var ErrNoActiveSession = errors.New("[recorder] no active trip session")

// SinkIOError reports a failed write to the trip log. Rows appended before
// the last successful flush are on disk; later rows may be lost.
type SinkIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *SinkIOError) Error() string {
	return fmt.Sprintf("[recorder] %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SinkIOError) Unwrap() error {
	return e.Err
}
