//go:build linux

package board

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/gpio"

	"sensorless/internal/fix16"
	"sensorless/internal/sampler"
)

func TestSampleDevice_ReadsFramesFromFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples")
	if err := unix.Mkfifo(path, 0o600); err != nil {
		t.Skipf("mkfifo not available: %v", err)
	}

	dev, err := OpenSampleDevice(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}

	got := make(chan sampler.Raw, 16)
	done := make(chan error, 1)
	go func() {
		done <- dev.ReadSamples(context.Background(), func(r sampler.Raw) { got <- r })
	}()

	var stream []byte
	for i := 0; i < 4; i++ {
		stream = append(stream, EncodeFrame(sampler.Raw{Current: uint16(1000 + i), Knob: 10})...)
	}
	if _, err := w.Write(stream); err != nil {
		t.Fatalf("write: %v", err)
	}

	for i := 0; i < 4; i++ {
		select {
		case r := <-got:
			if r.Current != uint16(1000+i) {
				t.Fatalf("expected current %d, got %d", 1000+i, r.Current)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}

	// The writer going away is a hangup.
	w.Close()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "hangup") {
			t.Errorf("expected hangup error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadSamples did not report the hangup")
	}
}

func TestSampleDevice_StopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples")
	if err := unix.Mkfifo(path, 0o600); err != nil {
		t.Skipf("mkfifo not available: %v", err)
	}
	dev, err := OpenSampleDevice(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := dev.ReadSamples(ctx, func(sampler.Raw) {}); err != nil {
		t.Errorf("expected clean stop, got %v", err)
	}
}

func TestDutyToGPIO(t *testing.T) {
	tests := []struct {
		duty fix16.Fix16
		want gpio.Duty
	}{
		{0, 0},
		{fix16.One, gpio.DutyMax},
		{fix16.Half, gpio.DutyMax / 2},
	}
	for _, tt := range tests {
		if got := dutyToGPIO(tt.duty); got != tt.want {
			t.Errorf("duty %v: expected %d, got %d", tt.duty.Float64(), tt.want, got)
		}
	}
}
