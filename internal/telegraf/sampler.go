// Package telegraf samples the monitor status on a fixed interval and sends
// it to a telegraf socket listener as influx line protocol over UDP.
package telegraf

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/carmonitor/internal/monitor"
	"sleepywoodpecker/carmonitor/internal/telemetry"
)

const MeasurementName = "carmonitor"

type StatusSource interface {
	Status() monitor.Status
}

type Sampler struct {
	samplingFrequency time.Duration
	conn              io.Writer
	source            StatusSource
	logger            *zap.Logger

	lastSeq uint64
}

// Dial opens the UDP connection to addr. The caller closes it.
func Dial(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.DialUDP("udp", nil, udpAddr)
}

func NewSampler(samplingFrequency time.Duration, conn io.Writer, source StatusSource, logger *zap.Logger) *Sampler {
	return &Sampler{
		samplingFrequency: samplingFrequency,
		conn:              conn,
		source:            source,
		logger:            logger,
	}
}

// SampleAndSend writes one line for the current status. Nothing is sent
// before the first sample or when the sample has not changed.
func (s *Sampler) SampleAndSend() {
	status := s.source.Status()
	if status.Snapshot.Seq == 0 || status.Snapshot.Seq == s.lastSeq {
		return
	}
	s.lastSeq = status.Snapshot.Seq

	line := FormatLine(status)
	if err := s.send(line); err != nil {
		s.logger.Warn("[telegraf] Error writing data to UDP connection", zap.Error(err))
		return
	}
	s.logger.Debug("[telegraf] sent sample", zap.String("line", line))
}

func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.samplingFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleAndSend()
		}
	}
}

func (s *Sampler) send(line string) error {
	data := []byte(line)
	for len(data) > 0 {
		n, err := s.conn.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// FormatLine renders status as one influx line. Absent readings are left
// out of the field set.
func FormatLine(status monitor.Status) string {
	snap := status.Snapshot

	var b strings.Builder
	b.WriteString(MeasurementName)
	b.WriteString(",link=")
	b.WriteString(string(snap.Link))
	b.WriteString(",trip=")
	b.WriteString(strconv.FormatBool(status.TripActive))
	b.WriteByte(' ')

	fields := []struct {
		key string
		r   telemetry.Reading
	}{
		{"speed_kph", snap.SpeedKph},
		{"rpm", snap.RPM},
		{"throttle_pct", snap.ThrottlePct},
		{"engine_load", snap.EngineLoad},
		{"accel", snap.AccelCalculated},
		{"jerk", snap.Jerk},
	}
	for _, f := range fields {
		if !f.r.Valid {
			continue
		}
		fmt.Fprintf(&b, "%s=%s,", f.key, strconv.FormatFloat(f.r.Value, 'f', -1, 64))
	}
	fmt.Fprintf(&b, "score=%s,event=%q", strconv.FormatFloat(status.Score.CurrentScore, 'f', 2, 64), string(status.Event))

	ts := snap.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, " %d\n", ts.UnixNano())
	return b.String()
}
