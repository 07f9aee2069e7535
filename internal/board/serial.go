package board

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"
	"go.uber.org/multierr"

	"sensorless/internal/fix16"
	"sensorless/internal/sampler"
)

// readTimeout bounds each blocking read so ReadSamples notices cancellation.
const readTimeout = 100 * time.Millisecond

type SerialConfig struct {
	Port string `yaml:"port"`
	// Baud must carry 5 bytes per sample: 921600 is enough for 16384 Hz.
	Baud int `yaml:"baud"`
}

func (c SerialConfig) Validate() error {
	if c.Port == "" {
		return errors.New("board.serial.port must be set")
	}
	if c.Baud <= 0 {
		return errors.New("board.serial.baud must be > 0")
	}
	return nil
}

// Serial talks to a microcontroller bridge that samples the ADC at the
// control rate and drives the power stage.
type Serial struct {
	name string
	port io.ReadWriteCloser
	log  *slog.Logger
	dec  FrameDecoder
}

func OpenSerial(cfg SerialConfig, logger *slog.Logger) (*Serial, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		return nil, multierr.Append(fmt.Errorf("serial read timeout: %w", err), port.Close())
	}
	if err := port.ResetInputBuffer(); err != nil {
		logger.Warn("serial input flush failed", "port", cfg.Port, "error", err)
	}
	logger.Info("serial board opened", "port", cfg.Port, "baud", cfg.Baud)
	return newSerial(cfg.Port, port, logger), nil
}

func newSerial(name string, port io.ReadWriteCloser, logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Serial{name: name, port: port, log: logger}
}

func (s *Serial) Name() string { return "serial:" + s.name }

func (s *Serial) ReadSamples(ctx context.Context, sink func(sampler.Raw)) error {
	buf := make([]byte, 512)
	for ctx.Err() == nil {
		n, err := s.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("serial read %s: %w", s.name, err)
		}
		if n == 0 {
			// Read timeout.
			continue
		}
		s.dec.Feed(buf[:n], sink)
	}
	return nil
}

func (s *Serial) WritePower(duty fix16.Fix16) error {
	if _, err := s.port.Write(EncodePower(duty)); err != nil {
		return fmt.Errorf("serial write %s: %w", s.name, err)
	}
	return nil
}

// Close switches the power stage off before releasing the port.
func (s *Serial) Close() error {
	if skipped := s.dec.Skipped(); skipped > 0 {
		s.log.Info("serial stream resyncs", "skipped_bytes", skipped)
	}
	return multierr.Combine(s.WritePower(0), s.port.Close())
}
