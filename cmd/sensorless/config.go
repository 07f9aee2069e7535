package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"sensorless/internal/board"
	"sensorless/internal/controller"
	"sensorless/internal/fix16"
	"sensorless/internal/telemetry"
)

// Config is the top-level YAML configuration for the sensorless daemon.
//
// The file configures the harness around the control core (board backend,
// store location, telemetry, logging) and the motor profile. Loop constants
// stay compiled in; the core reads this once at start-up.
type Config struct {
	// Motor profile
	Motor MotorConfig `yaml:"motor"`

	// Sample source and power stage
	Board board.Config `yaml:"board"`

	// Persistent calibration data
	Store StoreConfig `yaml:"store"`

	// Status outputs
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Bench control socket (sim backend only)
	Bench BenchConfig `yaml:"bench"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type MotorConfig struct {
	Poles  uint32  `yaml:"poles"`
	MinRPM float32 `yaml:"min_rpm"`
	MaxRPM float32 `yaml:"max_rpm"`
	// UncalibratedPower is the open-loop duty used until calibration is stored.
	UncalibratedPower float64 `yaml:"uncalibrated_power"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type TelemetryConfig struct {
	// Listen is the HTTP address for /ws/status and /metrics. Empty disables HTTP.
	Listen          string               `yaml:"listen"`
	WSPath          string               `yaml:"ws_path"`
	MetricsPath     string               `yaml:"metrics_path"`
	PublishInterval time.Duration        `yaml:"publish_interval"`
	Hub             telemetry.HubConfig  `yaml:"hub"`
	MQTT            telemetry.MQTTConfig `yaml:"mqtt"`
}

type BenchConfig struct {
	// Socket is the Unix socket path for simctl. Empty disables it.
	Socket string `yaml:"socket"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Clock selection. Sample time follows the sample count, so the sim backend
// can run faster or slower than wall time without changing behavior.
const (
	clockWall   = "wall"
	clockSample = "sample"
)

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	core := controller.DefaultConfig()
	return Config{
		Motor: MotorConfig{
			Poles:             core.Regulator.Poles,
			MinRPM:            core.Regulator.MinRPM,
			MaxRPM:            core.Regulator.MaxRPM,
			UncalibratedPower: core.UncalibratedPower.Float64(),
		},
		Board: board.DefaultConfig(),
		Store: StoreConfig{
			Path: "~/.config/sensorless/calibration.yaml",
		},
		Telemetry: TelemetryConfig{
			Listen:          "127.0.0.1:3002",
			WSPath:          "/ws/status",
			MetricsPath:     "/metrics",
			PublishInterval: core.PublishInterval,
			MQTT:            telemetry.DefaultMQTTConfig(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds flag values that win over the config file. Each
// override is applied only when its pointer is non-nil.
type FlagOverrides struct {
	Backend    *string
	SerialPort *string
	SerialBaud *int
	SimKnob    *float64

	StorePath *string

	Listen     *string
	MQTTBroker *string

	BenchSocket *string

	LogLevel *string
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even
// when it holds a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Backend != nil {
		cfg.Board.Backend = *o.Backend
	}
	if o.SerialPort != nil {
		cfg.Board.Serial.Port = *o.SerialPort
	}
	if o.SerialBaud != nil {
		cfg.Board.Serial.Baud = *o.SerialBaud
	}
	if o.SimKnob != nil {
		cfg.Board.Sim.Knob = *o.SimKnob
	}
	if o.StorePath != nil {
		cfg.Store.Path = *o.StorePath
	}
	if o.Listen != nil {
		cfg.Telemetry.Listen = *o.Listen
	}
	if o.MQTTBroker != nil {
		cfg.Telemetry.MQTT.Broker = *o.MQTTBroker
		cfg.Telemetry.MQTT.Enabled = *o.MQTTBroker != ""
	}
	if o.BenchSocket != nil {
		cfg.Bench.Socket = *o.BenchSocket
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants after defaults, file and overrides are
// applied.
func (c *Config) Validate() error {
	// Board
	switch c.Board.Backend {
	case board.BackendSim:
		if err := c.Board.Sim.Validate(); err != nil {
			return err
		}
		if rate := controller.DefaultConfig().Meter.SampleRate; c.Board.Sim.Plant.SampleRate != rate {
			return fmt.Errorf("board.sim.plant.sample_rate must be %d (the meter sample rate)", rate)
		}
	case board.BackendSerial:
		if err := c.Board.Serial.Validate(); err != nil {
			return err
		}
	case board.BackendLinux:
		if err := c.Board.Device.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("board.backend must be %q, %q or %q", board.BackendSim, board.BackendSerial, board.BackendLinux)
	}

	// Store
	if c.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}

	// Motor
	if c.Motor.UncalibratedPower < 0 || c.Motor.UncalibratedPower > 1 {
		return errors.New("motor.uncalibrated_power must be in [0, 1]")
	}
	if err := c.ControllerConfig().Validate(); err != nil {
		return err
	}

	// Telemetry
	if c.Telemetry.Listen != "" {
		if c.Telemetry.WSPath == "" || c.Telemetry.MetricsPath == "" {
			return errors.New("telemetry.ws_path and telemetry.metrics_path must not be empty")
		}
		if c.Telemetry.WSPath == c.Telemetry.MetricsPath {
			return errors.New("telemetry.ws_path and telemetry.metrics_path must differ")
		}
	}
	if c.Telemetry.PublishInterval < 0 {
		return errors.New("telemetry.publish_interval must be >= 0")
	}
	if err := c.Telemetry.MQTT.Validate(); err != nil {
		return err
	}

	// Bench
	if c.Bench.Socket != "" && c.Board.Backend != board.BackendSim {
		return errors.New("bench.socket requires board.backend sim")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ControllerConfig maps the motor profile onto the core configuration.
func (c *Config) ControllerConfig() controller.Config {
	core := controller.DefaultConfig()

	core.Regulator.Poles = c.Motor.Poles
	core.Regulator.MinRPM = c.Motor.MinRPM
	core.Regulator.MaxRPM = c.Motor.MaxRPM
	core.Calibrator.Poles = c.Motor.Poles
	core.Calibrator.MinRPM = c.Motor.MinRPM
	core.UncalibratedPower = fix16.F(c.Motor.UncalibratedPower)
	core.PublishInterval = c.Telemetry.PublishInterval

	return core
}

// ClockKind picks sample time for the simulator and wall time for hardware.
func (c *Config) ClockKind() string {
	if c.Board.Backend == board.BackendSim {
		return clockSample
	}
	return clockWall
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
