//go:build linux

package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"sensorless/internal/fix16"
	"sensorless/internal/sampler"
)

// epollTimeoutMs bounds each wait so ReadSamples notices cancellation.
const epollTimeoutMs = 100

// SampleDevice reads sample frames from a character device or FIFO.
//
// A single goroutine waits on epoll and reads whatever is buffered, so a
// burst of frames costs one wakeup.
type SampleDevice struct {
	path string
	fd   int
	epfd int
	dec  FrameDecoder
}

func OpenSampleDevice(path string) (*SampleDevice, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("epoll_create1: %w", err), unix.Close(fd))
	}

	event := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return nil, multierr.Combine(fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err), unix.Close(epfd), unix.Close(fd))
	}

	return &SampleDevice{path: path, fd: fd, epfd: epfd}, nil
}

func (d *SampleDevice) ReadSamples(ctx context.Context, sink func(sampler.Raw)) error {
	events := make([]unix.EpollEvent, 1)
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		n, err := unix.EpollWait(d.epfd, events, epollTimeoutMs)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}
		if n == 0 {
			continue
		}

		// Drain what is buffered before honoring a hangup.
		for {
			r, err := unix.Read(d.fd, buf)
			if err != nil {
				if errors.Is(err, unix.EAGAIN) || errors.Is(err, syscall.EINTR) {
					break
				}
				return fmt.Errorf("read %s: %w", d.path, err)
			}
			if r == 0 {
				break
			}
			d.dec.Feed(buf[:r], sink)
		}

		if events[0].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			return fmt.Errorf("sample device error/hangup: %s", d.path)
		}
	}
	return nil
}

func (d *SampleDevice) Close() error {
	return multierr.Combine(unix.Close(d.epfd), unix.Close(d.fd))
}

// PWMOutput drives the power stage from a GPIO pin.
type PWMOutput struct {
	pin  gpio.PinIO
	freq physic.Frequency
}

func OpenPWM(name string, hz uint32) (*PWMOutput, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("PWM pin %q not found", name)
	}
	return &PWMOutput{pin: pin, freq: physic.Frequency(hz) * physic.Hertz}, nil
}

// dutyToGPIO maps [0, 1] in Q16.16 onto [0, gpio.DutyMax].
func dutyToGPIO(duty fix16.Fix16) gpio.Duty {
	return gpio.Duty(int64(duty) * int64(gpio.DutyMax) >> 16)
}

func (p *PWMOutput) WritePower(duty fix16.Fix16) error {
	if err := p.pin.PWM(dutyToGPIO(duty), p.freq); err != nil {
		return fmt.Errorf("pwm %s: %w", p.pin.Name(), err)
	}
	return nil
}

// Close drives the pin low and releases it.
func (p *PWMOutput) Close() error {
	return multierr.Combine(p.pin.Out(gpio.Low), p.pin.Halt())
}

// Device is the Linux board.
type Device struct {
	*SampleDevice
	*PWMOutput
}

func openDevice(cfg DeviceConfig, logger *slog.Logger) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src, err := OpenSampleDevice(cfg.SamplePath)
	if err != nil {
		return nil, err
	}
	pwm, err := OpenPWM(cfg.PWMPin, cfg.PWMHz)
	if err != nil {
		return nil, multierr.Append(err, src.Close())
	}
	logger.Info("linux board opened", "samples", cfg.SamplePath, "pwm_pin", cfg.PWMPin, "pwm_hz", cfg.PWMHz)
	return &Device{SampleDevice: src, PWMOutput: pwm}, nil
}

func (d *Device) Name() string { return "linux:" + d.path }

// Close switches the power stage off first.
func (d *Device) Close() error {
	return multierr.Combine(d.PWMOutput.Close(), d.SampleDevice.Close())
}
