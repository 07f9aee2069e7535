// Package bench is a control socket for the simulated motor. It stands in
// for the hands on the bench: it turns the knob, changes the mechanical load
// and can play the calibration gesture.
//
// Protocol: line-delimited JSON over a Unix domain socket.
//   - Client sends: {"type": "knob", "data": {"value": 0.5}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
package bench

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

const adcMax = 4095

// Command types.
const (
	TypeKnob    = "knob"
	TypeLoad    = "load"
	TypeGesture = "gesture"
)

// Motor is the part of the simulated plant the bench can touch.
type Motor interface {
	SetKnob(raw uint16)
	SetLoad(factor float64)
}

type Command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type KnobData struct {
	Value float64 `json:"value"` // [0, 1]
}

type LoadData struct {
	Factor float64 `json:"factor"` // 1 unloaded
}

// GestureData shapes the knob sequence: a rest, then Dials pairs of
// (Level, 0), each held HoldMs. Zero fields take the defaults.
type GestureData struct {
	Dials  int     `json:"dials,omitempty"`
	HoldMs int     `json:"hold_ms,omitempty"`
	Level  float64 `json:"level,omitempty"`
}

func (g GestureData) withDefaults() GestureData {
	if g.Dials <= 0 {
		g.Dials = 3
	}
	if g.HoldMs <= 0 {
		g.HoldMs = 400
	}
	if g.Level <= 0 {
		g.Level = 0.5
	}
	return g
}

// NewCommand builds a command with a JSON payload.
func NewCommand(typ string, data any) (Command, error) {
	cmd := Command{Type: typ}
	if data == nil {
		return cmd, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Command{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	cmd.Data = b
	return cmd, nil
}

// Server applies bench commands to a motor.
type Server struct {
	motor Motor
	log   *slog.Logger

	mu      sync.Mutex
	knob    float64
	playing bool
	wg      sync.WaitGroup
}

// NewServer returns a server for m; knob is the position the motor starts at.
func NewServer(m Motor, knob float64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{motor: m, knob: knob, log: logger}
}

func (s *Server) setKnob(v float64) {
	s.motor.SetKnob(uint16(v * adcMax))
}

// Handle decodes and applies one command line.
func (s *Server) Handle(ctx context.Context, line []byte) Response {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return errResponse(fmt.Errorf("parse command: %w", err))
	}
	if err := s.apply(ctx, cmd); err != nil {
		return errResponse(err)
	}
	return Response{Status: "ok"}
}

func errResponse(err error) Response {
	return Response{Status: "error", Error: err.Error()}
}

func decode(cmd Command, v any) error {
	if len(cmd.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(cmd.Data, v); err != nil {
		return fmt.Errorf("parse %s data: %w", cmd.Type, err)
	}
	return nil
}

func (s *Server) apply(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case TypeKnob:
		var d KnobData
		if err := decode(cmd, &d); err != nil {
			return err
		}
		if d.Value < 0 || d.Value > 1 {
			return fmt.Errorf("knob value must be in [0, 1] (got %g)", d.Value)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.playing {
			return errors.New("gesture in progress")
		}
		s.knob = d.Value
		s.setKnob(d.Value)
		s.log.Info("bench knob", "value", d.Value)
		return nil

	case TypeLoad:
		var d LoadData
		if err := decode(cmd, &d); err != nil {
			return err
		}
		if d.Factor < 0 {
			return fmt.Errorf("load factor must be >= 0 (got %g)", d.Factor)
		}
		s.motor.SetLoad(d.Factor)
		s.log.Info("bench load", "factor", d.Factor)
		return nil

	case TypeGesture:
		var d GestureData
		if err := decode(cmd, &d); err != nil {
			return err
		}
		d = d.withDefaults()
		if d.Level > 1 {
			return fmt.Errorf("gesture level must be in (0, 1] (got %g)", d.Level)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.playing {
			return errors.New("gesture in progress")
		}
		s.playing = true
		s.wg.Add(1)
		go s.playGesture(ctx, d)
		return nil

	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

// playGesture drives the knob through rest, Dials high/low pairs and back to
// the position it had before.
func (s *Server) playGesture(ctx context.Context, g GestureData) {
	defer s.wg.Done()

	s.mu.Lock()
	restore := s.knob
	s.mu.Unlock()

	hold := time.Duration(g.HoldMs) * time.Millisecond
	steps := []float64{0}
	for i := 0; i < g.Dials; i++ {
		steps = append(steps, g.Level, 0)
	}

	s.log.Info("bench gesture", "dials", g.Dials, "hold_ms", g.HoldMs, "level", g.Level)

	for _, v := range steps {
		s.setKnob(v)
		if !sleep(ctx, hold) {
			break
		}
	}

	s.mu.Lock()
	s.setKnob(restore)
	s.playing = false
	s.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Wait blocks until a gesture in progress has finished.
func (s *Server) Wait() { s.wg.Wait() }

// Run listens on socketPath until ctx is canceled.
func (s *Server) Run(ctx context.Context, socketPath string) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	s.log.Info("bench listening", "socket", socketPath)

	// Closing the listener unblocks Accept.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.Wait()
				return nil
			}
			s.log.Error("bench accept error", "error", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		resp := s.Handle(ctx, scanner.Bytes())
		if err := encoder.Encode(resp); err != nil {
			s.log.Warn("bench failed to send response", "error", err)
			return
		}
	}
}

// Send delivers one command and returns the server's error, if any.
func Send(socketPath string, cmd Command) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return fmt.Errorf("send command: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("bench error: %s", resp.Error)
	}
	return nil
}
