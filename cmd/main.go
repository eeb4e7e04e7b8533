package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sleepywoodpecker/carmonitor/internal/acquisition"
	"sleepywoodpecker/carmonitor/internal/config"
	"sleepywoodpecker/carmonitor/internal/live"
	"sleepywoodpecker/carmonitor/internal/logger"
	"sleepywoodpecker/carmonitor/internal/monitor"
	rserial "sleepywoodpecker/carmonitor/internal/rSerial"
	"sleepywoodpecker/carmonitor/internal/recorder"
	"sleepywoodpecker/carmonitor/internal/stats"
	"sleepywoodpecker/carmonitor/internal/telegraf"
)

const DEFAULT_CONFIG_PATH = "config.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", DEFAULT_CONFIG_PATH, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// first initialize the main logger
	log, err := logger.NewLogger(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync() //nolint:errcheck

	// context handler for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := stats.NewRegistry()

	source := rserial.NewRSerial(cfg.OBD.Port, cfg.OBD.Baudrate, log)
	loop := acquisition.NewLoop(source, cfg.Acquisition(), log, reg)

	rec, err := recorder.New(cfg.Recorder(), log)
	if err != nil {
		log.Error("[main] creating trip recorder", zap.Error(err))
		return 1
	}

	mon := monitor.New(loop, rec, cfg.ScoringConfig(), cfg.OBD.PollInterval, log, reg)

	if err := loop.Connect(ctx); err != nil {
		log.Error("[main] failed to connect to the OBD-II adapter",
			zap.Error(err), zap.String("port", cfg.OBD.Port))
		return 1
	}
	if err := loop.Start(ctx, cfg.OBD.PollInterval); err != nil {
		log.Error("[main] starting acquisition", zap.Error(err))
		_ = loop.Disconnect()
		return 1
	}

	commands := make(chan monitor.Command)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mon.Run(gctx, commands)
	})

	g.Go(optional(gctx, log, "config hot reload", func() error {
		return config.Watch(gctx, *configPath, log, func(next *config.Config) {
			select {
			case commands <- monitor.Command{Op: monitor.OpReconfigure, Scoring: next.ScoringConfig()}:
			case <-gctx.Done():
			}
		})
	}))

	if addr := cfg.Telemetry.TelegrafAddr; addr != "" {
		// initialize UDP connection to telegraf
		conn, err := telegraf.Dial(addr)
		if err != nil {
			log.Warn("[main] telegraf feed disabled", zap.Error(err), zap.String("addr", addr))
		} else {
			defer conn.Close()
			sampler := telegraf.NewSampler(cfg.OBD.PollInterval, conn, mon, log)
			g.Go(func() error {
				sampler.Run(gctx)
				return nil
			})
		}
	}

	if addr := cfg.Telemetry.LiveListen; addr != "" {
		hub := live.NewHub(mon, cfg.Telemetry.StatusInterval, log)
		g.Go(optional(gctx, log, "live feed", func() error {
			return hub.Serve(gctx, addr)
		}))
	}

	if path := cfg.Telemetry.StatsFile; path != "" {
		g.Go(func() error {
			reg.Run(gctx, path, cfg.Telemetry.StatsInterval, log)
			return nil
		})
	}

	g.Go(func() error {
		displayStatus(gctx, mon, cfg.Telemetry.StatusInterval)
		return nil
	})

	// stdin cannot be interrupted, so the reader lives outside the group
	go readCommands(gctx, os.Stdin, commands, stop, log)

	printHelp()

	exitCode := 0
	if err := g.Wait(); err != nil {
		log.Error("[main] monitor stopped with error", zap.Error(err))
		exitCode = 1
	}

	if err := loop.Stop(acquisition.DefaultStopGrace); err != nil {
		if errors.Is(err, acquisition.ErrStopTimeout) {
			log.Error("[main] acquisition did not stop, exiting anyway")
		}
		exitCode = 1
	}
	if err := loop.Disconnect(); err != nil {
		log.Warn("[main] disconnecting adapter", zap.Error(err))
	}

	log.Info("[main] shut down")
	return exitCode
}

// optional wraps a side feature for the errgroup: its failure is logged and
// the feature stays off, but the monitor keeps running.
func optional(ctx context.Context, log *zap.Logger, name string, fn func() error) func() error {
	return func() error {
		if err := fn(); err != nil && ctx.Err() == nil {
			log.Warn("[main] "+name+" disabled", zap.Error(err))
		}
		return nil
	}
}
