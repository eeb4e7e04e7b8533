package rserial

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/zap/zaptest"

	"sleepywoodpecker/carmonitor/internal/telemetry"
)

// fakePort answers each command from a script, like an ELM327 would.
type fakePort struct {
	mu        sync.Mutex
	responses map[string]string
	pending   []byte
	written   []string
	closed    bool
}

func newFakePort() *fakePort {
	return &fakePort{responses: map[string]string{
		"ATZ":   "\r\rELM327 v1.5\r\r>",
		"ATE0":  "ATE0\rOK\r\r>",
		"ATL0":  "OK\r\r>",
		"ATS0":  "OK\r\r>",
		"ATH0":  "OK\r\r>",
		"ATSP0": "OK\r\r>",
		"0100":  "SEARCHING...\r4100BE3FA813\r\r>",
		"010D":  "410D3C\r\r>",
		"010C":  "410C1AF8\r\r>",
		"0111":  "4111FF\r\r>",
		"0104":  "410480\r\r>",
	}}
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := strings.TrimSpace(string(p))
	f.written = append(f.written, cmd)
	if resp, ok := f.responses[cmd]; ok {
		f.pending = append(f.pending, resp...)
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
	return nil
}

func (f *fakePort) respond(cmd, resp string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmd] = resp
}

func newTestAdapter(t *testing.T, p *fakePort) *rserial {
	t.Helper()
	r := NewRSerial("/dev/rfcomm0", 0, zaptest.NewLogger(t))
	r.open = func(name string, mode *serial.Mode) (port, error) {
		assert.Equal(t, DefaultBaudrate, mode.BaudRate)
		return p, nil
	}
	return r
}

func TestConnect(t *testing.T) {
	p := newFakePort()
	r := newTestAdapter(t, p)

	require.NoError(t, r.Connect(context.Background(), time.Second))
	assert.Equal(t, []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATH0", "ATSP0", "0100"}, p.written)
}

func TestConnect_VehicleSilent(t *testing.T) {
	p := newFakePort()
	p.respond("0100", "SEARCHING...\rUNABLE TO CONNECT\r\r>")
	r := newTestAdapter(t, p)

	err := r.Connect(context.Background(), time.Second)

	assert.ErrorIs(t, err, ErrNoData)
	assert.True(t, p.closed)
	_, err = r.Read(context.Background(), telemetry.SignalSpeed)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestConnect_Timeout(t *testing.T) {
	p := newFakePort()
	delete(p.responses, "ATZ")
	r := newTestAdapter(t, p)

	err := r.Connect(context.Background(), 20*time.Millisecond)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnect_OpenFails(t *testing.T) {
	r := NewRSerial("/dev/missing", 38400, zaptest.NewLogger(t))
	r.open = func(string, *serial.Mode) (port, error) {
		return nil, errors.New("no such file or directory")
	}

	assert.Error(t, r.Connect(context.Background(), time.Second))
}

func TestConnect_AutoPort(t *testing.T) {
	good := newFakePort()
	r := NewRSerial(AutoPort, 38400, zaptest.NewLogger(t))
	r.listPorts = func() ([]string, error) { return []string{"/dev/ttyS0", "/dev/ttyUSB0"}, nil }
	r.open = func(name string, _ *serial.Mode) (port, error) {
		if name == "/dev/ttyS0" {
			return nil, errors.New("permission denied")
		}
		return good, nil
	}

	require.NoError(t, r.Connect(context.Background(), time.Second))
	assert.Equal(t, "/dev/ttyUSB0", r.activePort)
}

func TestRead(t *testing.T) {
	r := newTestAdapter(t, newFakePort())
	require.NoError(t, r.Connect(context.Background(), time.Second))

	tests := []struct {
		signal   telemetry.Signal
		expected float64
	}{
		{telemetry.SignalSpeed, 60},
		{telemetry.SignalRPM, 1726},
		{telemetry.SignalThrottle, 100},
		{telemetry.SignalEngineLoad, 128 * 100 / 255.0},
	}

	for _, test := range tests {
		v, err := r.Read(context.Background(), test.signal)
		assert.NoError(t, err)
		assert.InDelta(t, test.expected, v, 1e-9, test.signal)
	}
}

func TestRead_NoData(t *testing.T) {
	p := newFakePort()
	p.respond("010D", "NO DATA\r\r>")
	r := newTestAdapter(t, p)
	require.NoError(t, r.Connect(context.Background(), time.Second))

	_, err := r.Read(context.Background(), telemetry.SignalSpeed)

	var readErr *SignalReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, telemetry.SignalSpeed, readErr.Signal)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRead_TimeoutThenResync(t *testing.T) {
	p := newFakePort()
	p.respond("010C", "410C1A")
	r := newTestAdapter(t, p)
	require.NoError(t, r.Connect(context.Background(), time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Read(ctx, telemetry.SignalRPM)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, r.outOfSync)

	v, err := r.Read(context.Background(), telemetry.SignalSpeed)
	require.NoError(t, err)
	assert.Equal(t, 60.0, v)
	assert.False(t, r.outOfSync)
}

func TestDisconnect(t *testing.T) {
	p := newFakePort()
	r := newTestAdapter(t, p)
	require.NoError(t, r.Connect(context.Background(), time.Second))

	require.NoError(t, r.Disconnect())
	assert.True(t, p.closed)
	assert.NoError(t, r.Disconnect(), "second disconnect is a no-op")
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		pid      string
		size     int
		given    string
		expected []byte
		err      error
	}{
		{"compact", "0D", 1, "410D3C", []byte{0x3c}, nil},
		{"spaced lowercase", "0C", 2, "41 0c 1a f8 ", []byte{0x1a, 0xf8}, nil},
		{"after searching", "0D", 1, "SEARCHING...\r410D00", []byte{0x00}, nil},
		{"second ECU line", "0D", 1, "7F0112\r410D64", []byte{0x64}, nil},
		{"no data", "0D", 1, "NO DATA", nil, ErrNoData},
		{"unknown command", "0D", 1, "?", nil, ErrNoData},
		{"empty", "0D", 1, "\r\r", nil, ErrNoData},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			data, err := parseResponse(test.pid, test.size, []byte(test.given))
			if test.err != nil {
				assert.ErrorIs(t, err, test.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.expected, data)
		})
	}
}

func TestParseResponse_OutOfSync(t *testing.T) {
	tests := []string{"410C1AF8", "410D"}

	for _, given := range tests {
		_, err := parseResponse("0D", 1, []byte(given))
		var oosErr *OutOfSyncError
		assert.ErrorAs(t, err, &oosErr, given)
	}
}

// chattyPort never sends the prompt. delay paces each byte it returns.
type chattyPort struct {
	delay time.Duration
}

func (c *chattyPort) Write(p []byte) (int, error) { return len(p), nil }

func (c *chattyPort) Read(p []byte) (int, error) {
	time.Sleep(c.delay)
	if c.delay > 0 {
		p[0] = '4'
		return 1, nil
	}
	return copy(p, "410D3C\r410D3C\r"), nil
}

func (c *chattyPort) Close() error                        { return nil }
func (c *chattyPort) SetReadTimeout(time.Duration) error { return nil }
func (c *chattyPort) ResetInputBuffer() error             { return nil }

func TestRead_NoPromptStopsAtDeadline(t *testing.T) {
	r := NewRSerial("/dev/rfcomm0", 0, zaptest.NewLogger(t))
	r.port = &chattyPort{delay: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Read(ctx, telemetry.SignalSpeed)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, r.outOfSync)
}

func TestRead_NoPromptStopsAtMaxResponse(t *testing.T) {
	r := NewRSerial("/dev/rfcomm0", 0, zaptest.NewLogger(t))
	r.port = &chattyPort{}

	_, err := r.Read(context.Background(), telemetry.SignalSpeed)

	var syncErr *OutOfSyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Len(t, syncErr.ByteSequence, maxResponse)
	assert.True(t, r.outOfSync)
}
