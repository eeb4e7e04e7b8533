package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/carmonitor/internal/monitor"
)

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  s + ENTER  start trip")
	fmt.Println("  x + ENTER  stop trip")
	fmt.Println("  q + ENTER  quit")
	fmt.Println()
}

// readCommands turns console lines into monitor commands until ctx is done
// or the input ends. q cancels the whole process through quit.
func readCommands(ctx context.Context, in io.Reader, commands chan<- monitor.Command, quit func(), logger *zap.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var op monitor.Op
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "s":
			op = monitor.OpStartTrip
		case "x":
			op = monitor.OpStopTrip
		case "q":
			quit()
			return
		case "":
			continue
		default:
			printHelp()
			continue
		}

		res, ok := send(ctx, commands, monitor.Command{Op: op})
		if !ok {
			return
		}
		if res.Err != nil {
			fmt.Printf("%s failed: %v\n", op, res.Err)
			continue
		}
		switch op {
		case monitor.OpStartTrip:
			fmt.Printf("\nTRIP STARTED (%s)\n\n", res.SessionID)
		case monitor.OpStopTrip:
			printTripSummary(res.Trip)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("[console] reading commands", zap.Error(err))
	}
}

// send delivers cmd and waits for its result. ok is false once ctx is done.
func send(ctx context.Context, commands chan<- monitor.Command, cmd monitor.Command) (monitor.Result, bool) {
	reply := make(chan monitor.Result, 1)
	cmd.Reply = reply

	select {
	case commands <- cmd:
	case <-ctx.Done():
		return monitor.Result{}, false
	}

	select {
	case res := <-reply:
		return res, true
	case <-ctx.Done():
		return monitor.Result{}, false
	}
}

func printTripSummary(trip monitor.TripSummary) {
	if trip.Session.IsZero() {
		fmt.Println("No active trip.")
		return
	}
	s := trip.Score

	fmt.Println()
	fmt.Println("TRIP ENDED")
	fmt.Printf("Duration:    %.1f seconds\n", trip.Session.Duration.Seconds())
	fmt.Printf("Data points: %d\n", trip.Session.RowCount)
	fmt.Printf("Log file:    %s\n", trip.Session.File)
	fmt.Println()
	fmt.Printf("Final score:   %.1f/100 (%s)\n", s.CurrentScore, s.Grade)
	fmt.Printf("Average score: %.1f/100\n", s.AverageScore)
	fmt.Printf("Harsh braking: %d  Aggressive acceleration: %d  Speeding: %d\n",
		s.HarshBrakeCount, s.AggressiveAccelCount, s.SpeedingCount)
	fmt.Println()
}

func displayStatus(ctx context.Context, mon *monitor.Monitor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Println(formatStatus(mon.Status()))
		}
	}
}

func formatStatus(st monitor.Status) string {
	snap := st.Snapshot

	var b strings.Builder
	if st.TripActive {
		fmt.Fprintf(&b, "[trip %.0fs] ", st.TripElapsed.Seconds())
	} else {
		b.WriteString("[no trip] ")
	}
	fmt.Fprintf(&b, "link=%s speed=%s km/h rpm=%s throttle=%s%% load=%s%% accel=%s m/s²",
		snap.Link, orNA(snap.SpeedKph.String()), orNA(snap.RPM.String()),
		orNA(snap.ThrottlePct.String()), orNA(snap.EngineLoad.String()),
		orNA(snap.AccelCalculated.String()))
	if st.TripActive {
		fmt.Fprintf(&b, " score=%.1f (%s) event=%s", st.Score.CurrentScore, st.Score.Grade, st.Event)
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
