package acquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sleepywoodpecker/carmonitor/internal/telemetry"
)

// SignalSource is the vehicle bus as the loop sees it. A Read error means the
// value is absent for this tick.
type SignalSource interface {
	Connect(ctx context.Context, timeout time.Duration) error
	Read(ctx context.Context, signal telemetry.Signal) (float64, error)
	Disconnect() error
}

var (
	ErrNotConnected   = errors.New("[acquisition] signal source is not connected")
	ErrAlreadyRunning = errors.New("[acquisition] loop is already running")
	// ErrStopTimeout means the polling goroutine did not exit within the grace
	// period. It is not retried.
	ErrStopTimeout = errors.New("[acquisition] polling did not stop within the grace period")
)

// ConnectionError reports that the signal source could not be reached.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("[acquisition] connecting to signal source: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
