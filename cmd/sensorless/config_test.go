package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sensorless/internal/board"
	"sensorless/internal/fix16"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensorless.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestLoadConfigFile_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
motor:
  poles: 4
  min_rpm: 3000
board:
  backend: serial
  serial:
    port: /dev/ttyUSB1
telemetry:
  publish_interval: 500ms
  mqtt:
    enabled: true
    broker: tcp://broker:1883
logging:
  level: debug
`)
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Motor.Poles != 4 || cfg.Motor.MinRPM != 3000 {
		t.Errorf("expected motor 4 poles / 3000 rpm, got %d / %v", cfg.Motor.Poles, cfg.Motor.MinRPM)
	}
	if cfg.Motor.MaxRPM != 100000 {
		t.Errorf("expected default max rpm to survive, got %v", cfg.Motor.MaxRPM)
	}
	if cfg.Board.Backend != board.BackendSerial || cfg.Board.Serial.Port != "/dev/ttyUSB1" {
		t.Errorf("unexpected board config: %+v", cfg.Board)
	}
	if cfg.Board.Serial.Baud != 921600 {
		t.Errorf("expected default baud, got %d", cfg.Board.Serial.Baud)
	}
	if cfg.Telemetry.PublishInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms publish interval, got %v", cfg.Telemetry.PublishInterval)
	}
	if !cfg.Telemetry.MQTT.Enabled || cfg.Telemetry.MQTT.Topic != "sensorless/status" {
		t.Errorf("unexpected mqtt config: %+v", cfg.Telemetry.MQTT)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected loaded config to validate, got %v", err)
	}

	core := cfg.ControllerConfig()
	if core.Regulator.Poles != 4 || core.Calibrator.Poles != 4 || core.Calibrator.MinRPM != 3000 {
		t.Errorf("motor profile not applied to core config: %+v / %+v", core.Regulator, core.Calibrator)
	}
	if core.PublishInterval != 500*time.Millisecond {
		t.Errorf("expected publish interval in core config, got %v", core.PublishInterval)
	}
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "motor:\n  polse: 4\n")
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadConfigFile_RejectsTrailingDocument(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n---\nlogging:\n  level: debug\n")
	_, err := LoadConfigFile(path)
	if err == nil || !strings.Contains(err.Error(), "trailing document") {
		t.Fatalf("expected trailing document error, got %v", err)
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	backend := board.BackendSerial
	port := "/dev/ttyS3"
	broker := "tcp://10.0.0.2:1883"
	empty := ""

	FlagOverrides{Backend: &backend, SerialPort: &port, MQTTBroker: &broker, Listen: &empty}.Apply(&cfg)

	if cfg.Board.Backend != board.BackendSerial || cfg.Board.Serial.Port != port {
		t.Errorf("expected serial override, got %+v", cfg.Board)
	}
	if !cfg.Telemetry.MQTT.Enabled || cfg.Telemetry.MQTT.Broker != broker {
		t.Errorf("expected mqtt enabled on %s, got %+v", broker, cfg.Telemetry.MQTT)
	}
	if cfg.Telemetry.Listen != "" {
		t.Errorf("expected zero-value override to apply, got %q", cfg.Telemetry.Listen)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected untouched log level, got %q", cfg.Logging.Level)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Board.Backend = "can" }},
		{"sim rate mismatch", func(c *Config) { c.Board.Sim.Plant.SampleRate = 8000 }},
		{"empty store path", func(c *Config) { c.Store.Path = "" }},
		{"zero poles", func(c *Config) { c.Motor.Poles = 0 }},
		{"min above max rpm", func(c *Config) { c.Motor.MinRPM = 200000 }},
		{"uncalibrated power above one", func(c *Config) { c.Motor.UncalibratedPower = 1.5 }},
		{"same http paths", func(c *Config) { c.Telemetry.MetricsPath = c.Telemetry.WSPath }},
		{"mqtt without broker", func(c *Config) {
			c.Telemetry.MQTT.Enabled = true
			c.Telemetry.MQTT.Broker = ""
		}},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestConfig_UncalibratedPower(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Motor.UncalibratedPower = 0.35
	if got := cfg.ControllerConfig().UncalibratedPower; got != fix16.F(0.35) {
		t.Errorf("expected %v, got %v", fix16.F(0.35), got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/cal.yaml"); got != filepath.Join(home, "cal.yaml") {
		t.Errorf("expected %s, got %s", filepath.Join(home, "cal.yaml"), got)
	}
	if got := ExpandPath("/etc/cal.yaml"); got != "/etc/cal.yaml" {
		t.Errorf("expected path unchanged, got %s", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{"ERROR": LogLevelError, "warning": LogLevelWarn, "debug": LogLevelDebug} {
		got, err := parseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("parseLogLevel(%q): expected %q, got %q (%v)", in, want, got, err)
		}
	}
	if _, err := parseLogLevel("trace"); err == nil {
		t.Error("expected error for unknown level")
	}
}
