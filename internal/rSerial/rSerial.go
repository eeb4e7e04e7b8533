// r in rserial stands for "robust"
package rserial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"sleepywoodpecker/carmonitor/internal/telemetry"
)

// AutoPort makes Connect try every serial port on the system.
const AutoPort = "auto"

const (
	DefaultBaudrate = 38400

	// the ELM327 prints this after every response
	prompt = '>'

	// longer than any reply to the commands sent here, even from several ECUs
	maxResponse = 1024

	pollTimeout = 5 * time.Millisecond
	syncTimeout = 100 * time.Millisecond
)

var ErrNotOpen = errors.New("[rserial] port is not open")

// port is the part of serial.Port the adapter uses.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

type rserial struct {
	port       port
	open       func(name string, mode *serial.Mode) (port, error)
	listPorts  func() ([]string, error)
	logger     *zap.Logger
	portName   string
	activePort string
	baudrate   int
	tempBuff   []byte
	outOfSync  bool
}

// OutOfSyncError means the adapter answered something other than the request
// just sent, usually the tail of an earlier timed-out response.
type OutOfSyncError struct {
	ByteSequence []byte
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("[rserial] unexpected response: %q", e.ByteSequence)
}

// SignalReadError is returned by Read when a value could not be obtained.
type SignalReadError struct {
	Signal telemetry.Signal
	Err    error
}

func (e *SignalReadError) Error() string {
	return fmt.Sprintf("[rserial] reading %s: %v", e.Signal, e.Err)
}

func (e *SignalReadError) Unwrap() error {
	return e.Err
}

// NewRSerial returns an unconnected ELM327 adapter on portName, or on the
// first port that answers when portName is AutoPort.
func NewRSerial(portName string, baudrate int, logger *zap.Logger) *rserial {
	if baudrate <= 0 {
		baudrate = DefaultBaudrate
	}
	return &rserial{
		open:      openSerial,
		listPorts: serial.GetPortsList,
		logger:    logger,
		portName:  portName,
		baudrate:  baudrate,
		tempBuff:  make([]byte, 64),
	}
}

func openSerial(name string, mode *serial.Mode) (port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Connect opens the port and initializes the adapter within timeout.
func (r *rserial) Connect(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	candidates := []string{r.portName}
	if r.portName == AutoPort {
		ports, err := r.listPorts()
		if err != nil {
			return fmt.Errorf("[rserial] listing serial ports: %w", err)
		}
		if len(ports) == 0 {
			return errors.New("[rserial] no serial ports found")
		}
		candidates = ports
	}

	var errs []error
	for _, name := range candidates {
		err := r.connectPort(ctx, name)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func (r *rserial) connectPort(ctx context.Context, name string) error {
	r.logger.Info("[rserial] opening serial port", zap.String("portName", name), zap.Int("baudrate", r.baudrate))

	p, err := r.open(name, &serial.Mode{BaudRate: r.baudrate})
	if err != nil {
		return fmt.Errorf("[rserial] opening %s: %w", name, err)
	}
	r.port = p
	r.activePort = name

	if err := r.initialize(ctx); err != nil {
		r.Disconnect()
		return fmt.Errorf("[rserial] initializing adapter on %s: %w", name, err)
	}
	return nil
}

func (r *rserial) initialize(ctx context.Context) error {
	if err := r.port.SetReadTimeout(pollTimeout); err != nil {
		return err
	}
	if err := r.port.ResetInputBuffer(); err != nil {
		return err
	}

	version, err := r.command(ctx, "ATZ")
	if err != nil {
		return err
	}
	// echo, linefeeds, spaces and headers off; automatic protocol
	for _, cmd := range []string{"ATE0", "ATL0", "ATS0", "ATH0", "ATSP0"} {
		if _, err := r.command(ctx, cmd); err != nil {
			return err
		}
	}

	// supported PIDs; also forces the protocol search against the ECU
	if _, err := r.query(ctx, "00", 4); err != nil {
		return fmt.Errorf("vehicle did not respond: %w", err)
	}

	r.logger.Info("[rserial] adapter ready",
		zap.String("portName", r.activePort),
		zap.ByteString("version", bytes.TrimSpace(version)),
	)
	return nil
}

// Read queries one mode 01 PID and decodes it.
func (r *rserial) Read(ctx context.Context, signal telemetry.Signal) (float64, error) {
	p, ok := pids[signal]
	if !ok {
		return 0, &SignalReadError{Signal: signal, Err: errors.New("unsupported signal")}
	}
	if r.port == nil {
		return 0, &SignalReadError{Signal: signal, Err: ErrNotOpen}
	}

	data, err := r.query(ctx, p.code, p.size)
	if err != nil {
		return 0, &SignalReadError{Signal: signal, Err: err}
	}
	return p.decode(data), nil
}

func (r *rserial) Disconnect() error {
	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	r.outOfSync = false
	r.logger.Info("[rserial] serial port closed", zap.String("portName", r.activePort))
	return err
}

func (r *rserial) query(ctx context.Context, pid string, size int) ([]byte, error) {
	resp, err := r.command(ctx, "01"+pid)
	if err != nil {
		return nil, err
	}
	return parseResponse(pid, size, resp)
}

// command sends cmd and returns the response up to the prompt.
func (r *rserial) command(ctx context.Context, cmd string) ([]byte, error) {
	if r.outOfSync {
		r.sync()
	}
	if _, err := r.port.Write([]byte(cmd + "\r")); err != nil {
		return nil, err
	}

	var resp []byte
	for {
		n, err := r.port.Read(r.tempBuff)
		if err != nil {
			r.outOfSync = true
			return nil, err
		}
		resp = append(resp, r.tempBuff[:n]...)
		if i := bytes.IndexByte(resp, prompt); i >= 0 {
			return resp[:i], nil
		}
		// the rest of this response would be read as the next one's
		if ctx.Err() != nil {
			r.outOfSync = true
			return nil, ctx.Err()
		}
		if len(resp) > maxResponse {
			r.outOfSync = true
			return nil, &OutOfSyncError{ByteSequence: resp[:maxResponse]}
		}
	}
}

// sync drops whatever is left of an earlier response.
func (r *rserial) sync() {
	r.logger.Warn("Resyncing serial port", zap.String("portName", r.activePort))

	deadline := time.Now().Add(syncTimeout)
	for time.Now().Before(deadline) {
		n, err := r.port.Read(r.tempBuff)
		if err != nil {
			r.logger.Warn("Error while resyncing serial port", zap.Error(err), zap.String("portName", r.activePort))
			break
		}
		if bytes.IndexByte(r.tempBuff[:n], prompt) >= 0 {
			break
		}
	}
	if err := r.port.ResetInputBuffer(); err != nil {
		r.logger.Warn("Error while resyncing serial port", zap.Error(err), zap.String("portName", r.activePort))
	}
	r.outOfSync = false
}
