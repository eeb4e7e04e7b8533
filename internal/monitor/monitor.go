package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/carmonitor/internal/recorder"
	"sleepywoodpecker/carmonitor/internal/scoring"
	"sleepywoodpecker/carmonitor/internal/stats"
	"sleepywoodpecker/carmonitor/internal/telemetry"
)

// SnapshotSource is satisfied by *acquisition.Loop.
type SnapshotSource interface {
	Latest() telemetry.Snapshot
}

// TripRecorder is satisfied by *recorder.Recorder.
type TripRecorder interface {
	Start(name string) (string, error)
	Log(rec recorder.Record) error
	End() (recorder.SessionSummary, error)
	Elapsed() time.Duration
}

// Status is what presentation layers read: the newest snapshot plus the
// scoring state as of the last processed tick.
type Status struct {
	Snapshot    telemetry.Snapshot `json:"snapshot"`
	Event       scoring.Event      `json:"event_type"`
	Score       scoring.Summary    `json:"score"`
	TripActive  bool               `json:"trip_active"`
	SessionID   string             `json:"session_id,omitempty"`
	TripElapsed time.Duration      `json:"trip_elapsed"`
}

// TripSummary is returned when a trip ends.
type TripSummary struct {
	Session recorder.SessionSummary `json:"session"`
	Score   scoring.Summary         `json:"score"`
}

type metrics struct {
	rows   *stats.CounterVec
	events *stats.CounterVec
	score  *stats.Gauge
}

// Monitor ties acquisition, scoring and recording together. Everything except
// Status must be called from one goroutine, normally the one running Run.
type Monitor struct {
	source   SnapshotSource
	recorder TripRecorder
	scorer   *scoring.Scorer
	interval time.Duration
	logger   *zap.Logger
	metrics  metrics

	pending   *scoring.Config
	active    bool
	sessionID string
	lastSeq   uint64
	lastEvent scoring.Event

	status atomic.Pointer[Status]
}

// New builds a Monitor ticking every interval. reg may be nil.
func New(source SnapshotSource, rec TripRecorder, scoringCfg scoring.Config, interval time.Duration, logger *zap.Logger, reg *stats.Registry) *Monitor {
	if reg == nil {
		reg = stats.NewRegistry()
	}
	m := &Monitor{
		source:    source,
		recorder:  rec,
		scorer:    scoring.NewScorer(scoringCfg),
		interval:  interval,
		logger:    logger,
		lastEvent: scoring.EventNormal,
		metrics: metrics{
			rows:   reg.Counter("carmonitor_trip_rows_total", "Rows written to trip logs.", ""),
			events: reg.Counter("carmonitor_driving_events_total", "Scored ticks by event type.", "event"),
			score:  reg.Gauge("carmonitor_driver_score", "Current driver score of the active trip."),
		},
	}
	m.publish(source.Latest())
	return m
}

// Tick processes the latest snapshot once. A snapshot that was already
// processed is not scored or logged again.
func (m *Monitor) Tick() error {
	snapshot := m.source.Latest()
	if snapshot.Seq == 0 || snapshot.Seq == m.lastSeq {
		m.publish(snapshot)
		return nil
	}
	m.lastSeq = snapshot.Seq

	if m.active {
		score, event := m.scorer.Update(snapshot.SpeedKph.Or(0), snapshot.AccelCalculated.Or(0))
		m.lastEvent = event
		m.metrics.events.Inc(string(event))
		m.metrics.score.Set(score)

		if err := m.recorder.Log(buildRecord(snapshot, event, score)); err != nil {
			return fmt.Errorf("[monitor] logging tick %d: %w", snapshot.Seq, err)
		}
		m.metrics.rows.Inc("")

		if event != scoring.EventNormal {
			m.logger.Debug("[monitor] driving event",
				zap.String("event", string(event)),
				zap.Float64("score", score),
				zap.Float64("speedKph", snapshot.SpeedKph.Value),
				zap.Float64("accel", snapshot.AccelCalculated.Value),
			)
		}
	}

	m.publish(snapshot)
	return nil
}

// StartTrip resets the scorer and opens a new recorder session. A trip that
// is already running is stopped first.
func (m *Monitor) StartTrip(name string) (string, error) {
	if m.active {
		summary, err := m.StopTrip()
		if err != nil {
			return "", err
		}
		m.logger.Info("[monitor] ended running trip before starting a new one",
			zap.String("file", summary.Session.File))
	}

	if m.pending != nil {
		m.scorer = scoring.NewScorer(*m.pending)
		m.pending = nil
	} else {
		m.scorer.Reset()
	}
	m.lastEvent = scoring.EventNormal

	id, err := m.recorder.Start(name)
	if err != nil {
		return "", fmt.Errorf("[monitor] starting trip: %w", err)
	}
	m.active = true
	m.sessionID = id
	m.metrics.score.Set(m.scorer.Score())

	m.logger.Info("[monitor] trip started", zap.String("sessionID", id))
	m.publish(m.source.Latest())
	return id, nil
}

// StopTrip closes the recorder session and returns its summary together with
// the final score. Without an active trip it returns a zero summary.
func (m *Monitor) StopTrip() (TripSummary, error) {
	if !m.active {
		return TripSummary{}, nil
	}

	session, err := m.recorder.End()
	summary := TripSummary{Session: session, Score: m.scorer.Summary()}
	m.active = false
	m.sessionID = ""
	m.publish(m.source.Latest())

	if err != nil {
		return summary, fmt.Errorf("[monitor] ending trip: %w", err)
	}

	m.logger.Info("[monitor] trip ended",
		zap.String("file", session.File),
		zap.Int("rows", session.RowCount),
		zap.Duration("duration", session.Duration),
		zap.Float64("finalScore", summary.Score.CurrentScore),
		zap.Float64("averageScore", summary.Score.AverageScore),
		zap.String("grade", summary.Score.Grade),
		zap.Int("harshBrakes", summary.Score.HarshBrakeCount),
		zap.Int("aggressiveAccels", summary.Score.AggressiveAccelCount),
		zap.Int("speeding", summary.Score.SpeedingCount),
	)
	return summary, nil
}

// Reconfigure replaces the scoring thresholds from the next trip on.
func (m *Monitor) Reconfigure(cfg scoring.Config) {
	m.pending = &cfg
	m.logger.Info("[monitor] scoring thresholds updated, applied at next trip start",
		zap.Float64("harshBrake", cfg.HarshBrakeThreshold),
		zap.Float64("aggressiveAccel", cfg.AggressiveAccelThreshold),
		zap.Float64("speeding", cfg.SpeedingThreshold),
	)
}

func (m *Monitor) Active() bool {
	return m.active
}

// Status returns the last published status. Safe from any goroutine.
func (m *Monitor) Status() Status {
	if p := m.status.Load(); p != nil {
		return *p
	}
	return Status{}
}

// Run is the consumer loop: it ticks every interval and executes commands
// until ctx is done, then ends any running trip. A tick error stops Run.
func (m *Monitor) Run(ctx context.Context, commands <-chan Command) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("[monitor] received shutdown signal")
			if _, err := m.StopTrip(); err != nil {
				return err
			}
			return nil

		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			m.handle(cmd)

		case <-ticker.C:
			if err := m.Tick(); err != nil {
				m.logger.Error("[monitor] tick failed", zap.Error(err))
				if _, stopErr := m.StopTrip(); stopErr != nil {
					m.logger.Error("[monitor] closing trip after failure", zap.Error(stopErr))
				}
				return err
			}
		}
	}
}

func (m *Monitor) publish(snapshot telemetry.Snapshot) {
	status := &Status{
		Snapshot:   snapshot,
		Event:      m.lastEvent,
		Score:      m.scorer.Summary(),
		TripActive: m.active,
		SessionID:  m.sessionID,
	}
	if m.active {
		status.TripElapsed = m.recorder.Elapsed()
	}
	m.status.Store(status)
}

func buildRecord(s telemetry.Snapshot, event scoring.Event, score float64) recorder.Record {
	return recorder.Record{
		recorder.FieldTimestamp:       s.Time,
		recorder.FieldSpeedKph:        s.SpeedKph,
		recorder.FieldThrottlePct:     s.ThrottlePct,
		recorder.FieldRPM:             s.RPM,
		recorder.FieldEngineLoad:      s.EngineLoad,
		recorder.FieldAccelCalculated: s.AccelCalculated,
		recorder.FieldJerk:            s.Jerk,
		recorder.FieldEventType:       string(event),
		recorder.FieldScore:           score,
	}
}
