// Package board connects the controller to a power stage and a sample
// source: a microcontroller bridge on a serial port, a Linux sample device
// with a GPIO PWM pin, or the simulated motor.
package board

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"sensorless/internal/fix16"
	"sensorless/internal/plant"
	"sensorless/internal/sampler"
)

// Source delivers raw samples to sink until ctx is done or the device fails.
// sink runs on the reader goroutine.
type Source interface {
	ReadSamples(ctx context.Context, sink func(sampler.Raw)) error
}

// PowerWriter drives the power stage with a duty cycle in [0, 1].
type PowerWriter interface {
	WritePower(duty fix16.Fix16) error
}

type Board interface {
	Source
	PowerWriter
	io.Closer
	Name() string
}

const (
	BackendSim    = "sim"
	BackendSerial = "serial"
	BackendLinux  = "linux"
)

type Config struct {
	Backend string       `yaml:"backend"`
	Serial  SerialConfig `yaml:"serial"`
	Device  DeviceConfig `yaml:"device"`
	Sim     SimConfig    `yaml:"sim"`
}

func DefaultConfig() Config {
	return Config{
		Backend: BackendSim,
		Serial: SerialConfig{
			Port: "/dev/ttyACM0",
			Baud: 921600,
		},
		Device: DeviceConfig{
			SamplePath: "/dev/motor_samples",
			PWMPin:     "GPIO18",
			PWMHz:      20000,
		},
		Sim: SimConfig{
			Plant: plant.DefaultConfig(),
			Knob:  0,
		},
	}
}

// Open builds the configured backend.
func Open(cfg Config, logger *slog.Logger) (Board, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	switch cfg.Backend {
	case BackendSim:
		b, err := NewSim(cfg.Sim)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendSerial:
		b, err := OpenSerial(cfg.Serial, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendLinux:
		b, err := openDevice(cfg.Device, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown board backend %q", cfg.Backend)
	}
}
