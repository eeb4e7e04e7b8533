// Command main probes an ELM327 adapter: it connects, prints ten samples
// half a second apart and disconnects. Run it before the full monitor to
// check pairing and wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/carmonitor/internal/acquisition"
	rserial "sleepywoodpecker/carmonitor/internal/rSerial"
	"sleepywoodpecker/carmonitor/internal/telemetry"
)

const (
	probeSamples  = 10
	probeInterval = 500 * time.Millisecond
)

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "serial device of the adapter, or auto")
	baudrate := flag.Int("baud", rserial.DefaultBaudrate, "adapter baudrate")
	verbose := flag.Bool("v", false, "log adapter traffic")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "verbose logging unavailable: %v\n", err)
		} else {
			logger = dev
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	os.Exit(probe(ctx, *port, *baudrate, logger))
}

func probe(ctx context.Context, port string, baudrate int, logger *zap.Logger) int {
	fmt.Println("Attempting to connect to OBD-II adapter...")
	fmt.Println("(Make sure car ignition is ON and adapter is plugged in)")

	source := rserial.NewRSerial(port, baudrate, logger)
	loop := acquisition.NewLoop(source, acquisition.Config{ConnectTimeout: 15 * time.Second}, logger, nil)

	if err := loop.Connect(ctx); err != nil {
		fmt.Printf("Failed to connect: %v\n\n", err)
		printTroubleshooting(os.Stdout, port)
		return 1
	}
	defer loop.Disconnect() //nolint:errcheck

	fmt.Println("Connected. Reading vehicle data...")
	for i := 1; i <= probeSamples; i++ {
		snap := loop.Poll(ctx)
		fmt.Printf("Sample %d/%d: %s\n", i, probeSamples, describe(snap))

		select {
		case <-ctx.Done():
			fmt.Println("Test interrupted by user")
			return 1
		case <-time.After(probeInterval):
		}
	}

	fmt.Println("Test completed, the adapter is working.")
	return 0
}

func printTroubleshooting(w io.Writer, port string) {
	fmt.Fprintln(w, "Troubleshooting:")
	fmt.Fprintln(w, "1. Check Bluetooth pairing (bluetoothctl)")
	if port == rserial.AutoPort {
		fmt.Fprintln(w, "2. Verify the adapter shows up as a serial device")
	} else {
		fmt.Fprintf(w, "2. Verify %s exists\n", port)
	}
	fmt.Fprintln(w, "3. Ensure car ignition is ON")
	fmt.Fprintln(w, "4. Check adapter is plugged into OBD-II port")
}

func describe(s telemetry.Snapshot) string {
	return fmt.Sprintf("Speed: %s km/h | RPM: %s | Throttle: %s%% | Accel: %.2f m/s²",
		na(s.SpeedKph), na(s.RPM), na(s.ThrottlePct), s.AccelCalculated.Or(0))
}

func na(r telemetry.Reading) string {
	if !r.Valid {
		return "N/A"
	}
	return r.String()
}
