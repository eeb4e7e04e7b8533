package acquisition

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/carmonitor/internal/stats"
	"sleepywoodpecker/carmonitor/internal/telemetry"
)

const (
	DefaultInterval       = 100 * time.Millisecond
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = time.Second
	DefaultReconnectAfter = 20
	DefaultStopGrace      = 2 * time.Second

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

type Config struct {
	Interval       time.Duration
	ConnectTimeout time.Duration
	// ReadTimeout bounds a single signal read.
	ReadTimeout time.Duration
	// ReconnectAfter is the number of consecutive ticks with every read
	// failing before the source is reconnected.
	ReconnectAfter int
	HistorySize    int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ReconnectAfter <= 0 {
		c.ReconnectAfter = DefaultReconnectAfter
	}
	if c.HistorySize <= 0 {
		c.HistorySize = telemetry.DefaultHistorySize
	}
	return c
}

type metrics struct {
	ticks        *stats.CounterVec
	readFailures *stats.CounterVec
	reconnects   *stats.CounterVec
}

// Loop polls a SignalSource on its own goroutine and publishes the newest
// Snapshot. Latest and Link may be called from any goroutine; the histories
// and counters below are touched only by the polling goroutine.
type Loop struct {
	source  SignalSource
	cfg     Config
	logger  *zap.Logger
	metrics metrics
	now     func() time.Time

	store snapshotStore
	link  atomic.Value

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	start         time.Time
	seq           uint64
	speeds        telemetry.SampleHistory
	accels        telemetry.SampleHistory
	failedTicks   int
	backoff       time.Duration
	nextReconnect time.Time
}

// NewLoop builds an unstarted loop. reg may be nil.
func NewLoop(source SignalSource, cfg Config, logger *zap.Logger, reg *stats.Registry) *Loop {
	cfg = cfg.withDefaults()
	if reg == nil {
		reg = stats.NewRegistry()
	}

	l := &Loop{
		source: source,
		cfg:    cfg,
		logger: logger,
		metrics: metrics{
			ticks:        reg.Counter("carmonitor_acquisition_ticks_total", "Polls of the signal source.", ""),
			readFailures: reg.Counter("carmonitor_acquisition_read_failures_total", "Signal reads that yielded no value.", "signal"),
			reconnects:   reg.Counter("carmonitor_acquisition_reconnects_total", "Reconnect attempts after the source went silent.", ""),
		},
		now:    time.Now,
		speeds: telemetry.NewSampleHistory(cfg.HistorySize),
		accels: telemetry.NewSampleHistory(cfg.HistorySize),
	}
	l.link.Store(telemetry.LinkDisconnected)
	return l
}

// Connect opens the signal source. On failure the loop stays unstarted and
// the error is a *ConnectionError.
func (l *Loop) Connect(ctx context.Context) error {
	l.logger.Info("[acquisition] connecting to signal source", zap.Duration("timeout", l.cfg.ConnectTimeout))
	if err := l.source.Connect(ctx, l.cfg.ConnectTimeout); err != nil {
		l.logger.Warn("[acquisition] connection failed", zap.Error(err))
		return &ConnectionError{Err: err}
	}

	l.start = l.now()
	l.setLink(telemetry.LinkConnected)
	l.logger.Info("[acquisition] signal source connected")
	return nil
}

// Start begins polling every interval (DefaultInterval when zero) until ctx
// is done or Stop is called.
func (l *Loop) Start(ctx context.Context, interval time.Duration) error {
	if l.Link() == telemetry.LinkDisconnected {
		return ErrNotConnected
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrAlreadyRunning
	}
	if interval > 0 {
		l.cfg.Interval = interval
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.running, l.cancel, l.done = true, cancel, done

	go l.run(ctx, done)
	l.logger.Info("[acquisition] started polling", zap.Duration("interval", l.cfg.Interval))
	return nil
}

// Stop asks the polling goroutine to exit and waits up to grace for it.
func (l *Loop) Stop(grace time.Duration) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.running, l.cancel, l.done = false, nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		l.logger.Info("[acquisition] stopped polling")
		return nil
	case <-time.After(grace):
		l.logger.Error("[acquisition] polling did not stop in time", zap.Duration("grace", grace))
		return ErrStopTimeout
	}
}

// Disconnect closes the signal source. Call Stop first.
func (l *Loop) Disconnect() error {
	l.setLink(telemetry.LinkDisconnected)
	return l.source.Disconnect()
}

// Latest returns a copy of the most recently published snapshot.
func (l *Loop) Latest() telemetry.Snapshot {
	return l.store.Load()
}

func (l *Loop) Link() telemetry.LinkState {
	return l.link.Load().(telemetry.LinkState)
}

func (l *Loop) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("[acquisition] received shutdown signal")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if l.failedTicks >= l.cfg.ReconnectAfter && !l.reconnect(ctx) {
		return
	}
	l.Poll(ctx)
}

// Poll reads every signal once, derives acceleration and jerk, and publishes
// the result. It must only be called from one goroutine at a time; Start's
// goroutine is that caller once the loop runs.
func (l *Loop) Poll(ctx context.Context) telemetry.Snapshot {
	now := l.now()
	if l.start.IsZero() {
		l.start = now
	}
	l.metrics.ticks.Inc("")

	sample := telemetry.Sample{
		Seq:       l.seq + 1,
		Timestamp: now.Sub(l.start).Seconds(),
		Time:      now,
	}

	failures := 0
	for _, signal := range telemetry.Signals {
		value, err := l.read(ctx, signal)
		if err != nil {
			failures++
			l.metrics.readFailures.Inc(string(signal))
			l.logger.Debug("[acquisition] signal read failed", zap.Error(err), zap.String("signal", string(signal)))
			continue
		}
		sample.Set(signal, telemetry.Present(value))
	}

	if failures == len(telemetry.Signals) {
		l.failedTicks++
	} else {
		l.failedTicks = 0
	}

	snapshot := telemetry.Snapshot{Sample: sample, Link: l.Link()}
	if sample.SpeedKph.Valid && l.speeds.Add(telemetry.Point{T: sample.Timestamp, V: sample.SpeedKph.Value}) {
		accel := telemetry.Acceleration(l.speeds.Tail(2))
		snapshot.AccelCalculated = telemetry.Present(accel)
		if l.accels.Add(telemetry.Point{T: sample.Timestamp, V: accel}) {
			snapshot.Jerk = telemetry.Present(telemetry.Jerk(l.accels.Tail(2)))
		}
	}

	l.seq = sample.Seq
	l.store.Store(snapshot)
	return snapshot
}

func (l *Loop) read(ctx context.Context, signal telemetry.Signal) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReadTimeout)
	defer cancel()
	return l.source.Read(ctx, signal)
}

// reconnect cycles the source connection, backing off exponentially between
// failed attempts. It reports whether polling can resume.
func (l *Loop) reconnect(ctx context.Context) bool {
	now := l.now()
	if now.Before(l.nextReconnect) {
		return false
	}

	if l.Link() != telemetry.LinkDegraded {
		l.logger.Warn("[acquisition] signal source went silent, reconnecting", zap.Int("failedTicks", l.failedTicks))
		l.setLink(telemetry.LinkDegraded)
	}
	l.metrics.reconnects.Inc("")

	if err := l.source.Disconnect(); err != nil {
		l.logger.Debug("[acquisition] disconnect before reconnect failed", zap.Error(err))
	}
	if err := l.source.Connect(ctx, l.cfg.ConnectTimeout); err != nil {
		if l.backoff == 0 {
			l.backoff = initialBackoff
		} else {
			l.backoff = min(2*l.backoff, maxBackoff)
		}
		l.nextReconnect = l.now().Add(l.backoff)
		l.logger.Warn("[acquisition] reconnect failed", zap.Error(err), zap.Duration("retryIn", l.backoff))
		return false
	}

	l.backoff = 0
	l.nextReconnect = time.Time{}
	l.failedTicks = 0
	l.setLink(telemetry.LinkConnected)
	l.logger.Info("[acquisition] signal source reconnected")
	return true
}

func (l *Loop) setLink(link telemetry.LinkState) {
	l.link.Store(link)
	l.store.SetLink(link)
}
