package board

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sensorless/internal/fix16"
	"sensorless/internal/sampler"
)

// fakePort behaves like a serial port with a read timeout: an empty read
// returns 0 bytes and no error.
type fakePort struct {
	mu      sync.Mutex
	rx      bytes.Buffer
	tx      bytes.Buffer
	closed  bool
	readErr error
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.rx.Len() == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
		return 0, nil
	}
	return p.rx.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) feed(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx.Write(b)
}

func TestSerial_ReadSamples(t *testing.T) {
	port := &fakePort{}
	s := newSerial("test", port, nil)

	for i := 0; i < 50; i++ {
		port.feed(EncodeFrame(sampler.Raw{Current: uint16(i), Knob: 4095}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan sampler.Raw, 100)
	done := make(chan error, 1)
	go func() {
		done <- s.ReadSamples(ctx, func(r sampler.Raw) { got <- r })
	}()

	for i := 0; i < 50; i++ {
		select {
		case r := <-got:
			if int(r.Current) != i || r.Knob != 4095 {
				t.Fatalf("sample %d: expected {%d 4095}, got %+v", i, i, r)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for sample %d", i)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadSamples did not stop")
	}
}

func TestSerial_ReadErrorIsReturned(t *testing.T) {
	port := &fakePort{readErr: errors.New("device unplugged")}
	s := newSerial("test", port, nil)

	err := s.ReadSamples(context.Background(), func(sampler.Raw) {})
	if err == nil {
		t.Fatal("expected read error")
	}
}

func TestSerial_WritePowerAndClose(t *testing.T) {
	port := &fakePort{}
	s := newSerial("test", port, nil)

	if err := s.WritePower(fix16.F(0.25)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := append(EncodePower(fix16.F(0.25)), EncodePower(0)...)
	if !bytes.Equal(port.tx.Bytes(), want) {
		t.Errorf("expected %v, got %v", want, port.tx.Bytes())
	}
	if !port.closed {
		t.Errorf("expected port to be closed")
	}
}
