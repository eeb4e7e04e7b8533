// Package config loads the monitor configuration from YAML. A Config is
// validated once by Load and treated as immutable afterwards; components get
// the typed section they need through their constructors.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"sleepywoodpecker/carmonitor/internal/acquisition"
	"sleepywoodpecker/carmonitor/internal/recorder"
	"sleepywoodpecker/carmonitor/internal/scoring"
)

const (
	DefaultPort          = "/dev/rfcomm0"
	DefaultBaudrate      = 38400
	DefaultLogDirectory  = "logs"
	DefaultLogFile       = "carmonitor.log"
	DefaultLogLevel      = "info"
	DefaultStatsInterval = 15 * time.Second
	DefaultStatus        = time.Second
)

type Config struct {
	OBD       OBDConfig       `yaml:"obd"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// OBDConfig describes the adapter connection and the polling schedule.
type OBDConfig struct {
	// Port is the serial device of the adapter, or "auto" to probe all ports.
	Port           string        `yaml:"port"`
	Baudrate       int           `yaml:"baudrate"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ReconnectAfter int           `yaml:"reconnect_after"`
}

type LoggingConfig struct {
	// Directory receives one CSV file per trip. Relative paths are resolved
	// against the directory of the config file.
	Directory string `yaml:"directory"`
	// Tier selects the trip log columns: 1 OBD, 2 +IMU/GPS, 3 +lane.
	Tier  int    `yaml:"tier"`
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

type ScoringConfig struct {
	HarshBrakeThreshold      float64 `yaml:"harsh_brake_threshold"`
	AggressiveAccelThreshold float64 `yaml:"aggressive_accel_threshold"`
	SpeedingThreshold        float64 `yaml:"speeding_threshold"`
	RecoveryPerTick          float64 `yaml:"recovery_per_tick"`
}

// TelemetryConfig enables the optional feeds. Empty values disable them.
type TelemetryConfig struct {
	TelegrafAddr   string        `yaml:"telegraf_addr"`
	LiveListen     string        `yaml:"live_listen"`
	StatsFile      string        `yaml:"stats_file"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

// Load reads and parses the YAML config file at path, fills defaults and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if !filepath.IsAbs(cfg.Logging.Directory) {
		cfg.Logging.Directory = filepath.Join(filepath.Dir(path), cfg.Logging.Directory)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	sc := scoring.DefaultConfig()
	return &Config{
		OBD: OBDConfig{
			Port:           DefaultPort,
			Baudrate:       DefaultBaudrate,
			ConnectTimeout: acquisition.DefaultConnectTimeout,
			ReadTimeout:    acquisition.DefaultReadTimeout,
			PollInterval:   acquisition.DefaultInterval,
			ReconnectAfter: acquisition.DefaultReconnectAfter,
		},
		Logging: LoggingConfig{
			Directory: DefaultLogDirectory,
			Tier:      int(recorder.TierOBD),
			File:      DefaultLogFile,
			Level:     DefaultLogLevel,
		},
		Scoring: ScoringConfig{
			HarshBrakeThreshold:      sc.HarshBrakeThreshold,
			AggressiveAccelThreshold: sc.AggressiveAccelThreshold,
			SpeedingThreshold:        sc.SpeedingThreshold,
			RecoveryPerTick:          sc.RecoveryPerTick,
		},
		Telemetry: TelemetryConfig{
			StatsInterval:  DefaultStatsInterval,
			StatusInterval: DefaultStatus,
		},
	}
}

func validate(cfg *Config) error {
	if cfg.OBD.Port == "" {
		return fmt.Errorf("obd.port is required")
	}
	if cfg.OBD.Baudrate <= 0 {
		return fmt.Errorf("obd.baudrate must be positive")
	}
	if cfg.OBD.ConnectTimeout <= 0 {
		return fmt.Errorf("obd.connect_timeout must be positive")
	}
	if cfg.OBD.ReadTimeout <= 0 {
		return fmt.Errorf("obd.read_timeout must be positive")
	}
	if cfg.OBD.PollInterval <= 0 {
		return fmt.Errorf("obd.poll_interval must be positive")
	}
	if cfg.OBD.ReconnectAfter <= 0 {
		return fmt.Errorf("obd.reconnect_after must be positive")
	}
	if !recorder.Tier(cfg.Logging.Tier).Valid() {
		return fmt.Errorf("logging.tier must be 1, 2 or 3, got %d", cfg.Logging.Tier)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Scoring.HarshBrakeThreshold >= 0 {
		return fmt.Errorf("scoring.harsh_brake_threshold must be negative")
	}
	if cfg.Scoring.AggressiveAccelThreshold <= 0 {
		return fmt.Errorf("scoring.aggressive_accel_threshold must be positive")
	}
	if cfg.Scoring.SpeedingThreshold <= 0 {
		return fmt.Errorf("scoring.speeding_threshold must be positive")
	}
	if cfg.Scoring.RecoveryPerTick < 0 {
		return fmt.Errorf("scoring.recovery_per_tick must not be negative")
	}
	if cfg.Telemetry.StatsFile != "" && cfg.Telemetry.StatsInterval <= 0 {
		return fmt.Errorf("telemetry.stats_interval must be positive")
	}
	if cfg.Telemetry.StatusInterval <= 0 {
		return fmt.Errorf("telemetry.status_interval must be positive")
	}
	return nil
}

func (c *Config) Acquisition() acquisition.Config {
	return acquisition.Config{
		Interval:       c.OBD.PollInterval,
		ConnectTimeout: c.OBD.ConnectTimeout,
		ReadTimeout:    c.OBD.ReadTimeout,
		ReconnectAfter: c.OBD.ReconnectAfter,
	}
}

func (c *Config) Recorder() recorder.Config {
	return recorder.Config{
		Directory: c.Logging.Directory,
		Tier:      recorder.Tier(c.Logging.Tier),
	}
}

func (c *Config) ScoringConfig() scoring.Config {
	return scoring.Config{
		HarshBrakeThreshold:      c.Scoring.HarshBrakeThreshold,
		AggressiveAccelThreshold: c.Scoring.AggressiveAccelThreshold,
		SpeedingThreshold:        c.Scoring.SpeedingThreshold,
		RecoveryPerTick:          c.Scoring.RecoveryPerTick,
	}
}
