package monitor

import (
	"go.uber.org/zap"

	"sleepywoodpecker/carmonitor/internal/scoring"
)

type Op int

const (
	OpStartTrip Op = iota
	OpStopTrip
	OpReconfigure
)

func (o Op) String() string {
	switch o {
	case OpStartTrip:
		return "start_trip"
	case OpStopTrip:
		return "stop_trip"
	case OpReconfigure:
		return "reconfigure"
	}
	return "unknown"
}

// Command asks Run to change trip state on its own goroutine. Reply, when
// set, receives exactly one Result and should be buffered.
type Command struct {
	Op      Op
	Name    string         // trip name for OpStartTrip, may be empty
	Scoring scoring.Config // for OpReconfigure
	Reply   chan<- Result
}

type Result struct {
	SessionID string
	Trip      TripSummary
	Err       error
}

func (m *Monitor) handle(cmd Command) {
	var res Result
	switch cmd.Op {
	case OpStartTrip:
		res.SessionID, res.Err = m.StartTrip(cmd.Name)
	case OpStopTrip:
		res.Trip, res.Err = m.StopTrip()
	case OpReconfigure:
		m.Reconfigure(cmd.Scoring)
	}

	if res.Err != nil {
		m.logger.Warn("[monitor] command failed", zap.Stringer("op", cmd.Op), zap.Error(res.Err))
	}
	if cmd.Reply != nil {
		cmd.Reply <- res
	}
}
