package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// FlushEvery bounds how many rows can be lost if the process dies.
	FlushEvery = 10

	DefaultExtension = "csv"
	tripNameLayout   = "trip_20060102_150405"

	// files tried per name before Start gives up, counting the unsuffixed one
	maxNameAttempts = 100
)

type Config struct {
	Directory string
	Tier      Tier
	// Extension of session files, without the dot.
	Extension string
	// NewSink builds the sink for each session. Defaults to NewCSVSink.
	NewSink func() Sink
}

// SessionSummary describes a finished trip log. The zero value means no
// session was open.
type SessionSummary struct {
	SessionID string        `json:"session_id"`
	File      string        `json:"file"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	RowCount  int           `json:"data_points"`
}

func (s SessionSummary) IsZero() bool {
	return s.SessionID == ""
}

type session struct {
	id        string
	path      string
	sink      Sink
	startTime time.Time
	rowCount  int
}

// Recorder writes one trip at a time to a Sink. It is owned by a single
// goroutine and does no locking.
type Recorder struct {
	directory string
	extension string
	tier      Tier
	schema    []string
	newSink   func() Sink
	logger    *zap.Logger
	now       func() time.Time

	session *session
}

func New(cfg Config, logger *zap.Logger) (*Recorder, error) {
	if !cfg.Tier.Valid() {
		return nil, fmt.Errorf("[recorder] invalid schema tier %d", cfg.Tier)
	}
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("[recorder] creating log directory: %w", err)
	}

	r := &Recorder{
		directory: cfg.Directory,
		extension: cfg.Extension,
		tier:      cfg.Tier,
		schema:    cfg.Tier.Schema(),
		newSink:   cfg.NewSink,
		logger:    logger,
		now:       time.Now,
	}
	if r.extension == "" {
		r.extension = DefaultExtension
	}
	if r.newSink == nil {
		r.newSink = NewCSVSink
	}
	return r, nil
}

// Start opens a new session and returns its id. An open session is ended
// first. An empty name becomes trip_<YYYYMMDD>_<HHMMSS>. Existing files are
// never overwritten: a taken name gets a _1, _2, ... suffix.
func (r *Recorder) Start(name string) (string, error) {
	if r.session != nil {
		summary, err := r.End()
		if err != nil {
			return "", err
		}
		r.logger.Info("[recorder] implicitly ended previous trip",
			zap.String("file", summary.File),
			zap.Int("rows", summary.RowCount),
		)
	}

	startTime := r.now()
	if name == "" {
		name = startTime.Format(tripNameLayout)
	}
	sink, path, err := r.openSink(name)
	if err != nil {
		return "", err
	}

	r.session = &session{
		id:        uuid.NewString(),
		path:      path,
		sink:      sink,
		startTime: startTime,
	}
	r.logger.Info("[recorder] started trip logging",
		zap.String("sessionID", r.session.id),
		zap.String("file", path),
		zap.Stringer("tier", r.tier),
	)
	return r.session.id, nil
}

func (r *Recorder) openSink(name string) (Sink, string, error) {
	var path string
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		file := name
		if attempt > 0 {
			file = fmt.Sprintf("%s_%d", name, attempt)
		}
		path = filepath.Join(r.directory, file+"."+r.extension)

		sink := r.newSink()
		err := sink.Open(path, r.schema)
		if err == nil {
			return sink, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", &SinkIOError{Op: "open", Path: path, Err: err}
		}
	}
	return nil, "", &SinkIOError{Op: "open", Path: path, Err: os.ErrExist}
}

// Log appends rec to the open session. A missing timestamp is filled with the
// current time.
func (r *Recorder) Log(rec Record) error {
	s := r.session
	if s == nil {
		return ErrNoActiveSession
	}

	row := make([]string, len(r.schema))
	for i, column := range r.schema {
		value := rec[column]
		if column == FieldTimestamp && value == nil {
			value = r.now()
		}
		row[i] = formatValue(value)
	}

	if err := s.sink.Append(row); err != nil {
		return &SinkIOError{Op: "append", Path: s.path, Err: err}
	}
	s.rowCount++

	if s.rowCount%FlushEvery == 0 {
		if err := s.sink.Flush(); err != nil {
			return &SinkIOError{Op: "flush", Path: s.path, Err: err}
		}
	}
	return nil
}

// End flushes and closes the open session. Without one it returns an empty
// summary and no error. The session is cleared even if closing fails.
func (r *Recorder) End() (SessionSummary, error) {
	s := r.session
	if s == nil {
		return SessionSummary{}, nil
	}
	r.session = nil

	endTime := r.now()
	summary := SessionSummary{
		SessionID: s.id,
		File:      s.path,
		StartTime: s.startTime,
		EndTime:   endTime,
		Duration:  endTime.Sub(s.startTime),
		RowCount:  s.rowCount,
	}

	if err := s.sink.Flush(); err != nil {
		s.sink.Close()
		return summary, &SinkIOError{Op: "flush", Path: s.path, Err: err}
	}
	if err := s.sink.Close(); err != nil {
		return summary, &SinkIOError{Op: "close", Path: s.path, Err: err}
	}

	r.logger.Info("[recorder] trip ended",
		zap.String("sessionID", s.id),
		zap.Duration("duration", summary.Duration),
		zap.Int("rows", summary.RowCount),
	)
	return summary, nil
}

func (r *Recorder) Active() bool {
	return r.session != nil
}

// Elapsed is the duration of the open session, or 0 without one.
func (r *Recorder) Elapsed() time.Duration {
	if r.session == nil {
		return 0
	}
	return r.now().Sub(r.session.startTime)
}

// Path of the open session's file, or "" without one.
func (r *Recorder) Path() string {
	if r.session == nil {
		return ""
	}
	return r.session.path
}

func (r *Recorder) Schema() []string {
	return append([]string{}, r.schema...)
}
