package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// status mirrors the fields of the daemon's status snapshot that this tool
// reports on.
type status struct {
	RPM              uint32  `json:"rpm"`
	Setpoint         float64 `json:"setpoint"`
	Power            float64 `json:"power"`
	RegulatorEnabled bool    `json:"regulator_enabled"`
	Calibrating      bool    `json:"calibrating"`
	CalibrationDone  bool    `json:"calibration_done"`
	Phase            string  `json:"phase"`
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func main() {
	var (
		wsURL   = flag.String("ws", "ws://127.0.0.1:3002/ws/status", "sensorless status websocket URL")
		rpmStep = flag.Uint("rpm-step", 100, "Minimum speed change in RPM worth printing")
		raw     = flag.Bool("raw", false, "Print every frame as JSON")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	// The hub pings every 20s; answer within the read deadline.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	tr := &tracker{rpmStep: uint32(*rpmStep)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *raw {
				fmt.Printf("%s\n", message)
				continue
			}
			handleTextMessage(os.Stdout, message, tr)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage decodes one status frame and prints what changed.
func handleTextMessage(w io.Writer, message []byte, tr *tracker) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Data == nil {
		fmt.Fprintf(w, "[TEXT] %s\n", string(message))
		return
	}

	var s status
	if err := json.Unmarshal(env.Data, &s); err != nil {
		fmt.Fprintf(w, "[TEXT] %s\n", string(message))
		return
	}

	if env.Type == "state_init" {
		tr.reset()
	}
	for _, line := range tr.update(s) {
		fmt.Fprintln(w, line)
	}
}

// tracker reports speed, phase and calibration changes between frames.
type tracker struct {
	rpmStep uint32
	last    *status
}

func (t *tracker) reset() { t.last = nil }

func (t *tracker) update(s status) []string {
	var out []string
	prev := t.last
	t.last = &s

	if prev == nil || diff(prev.RPM, s.RPM) >= t.rpmStep {
		out = append(out, fmt.Sprintf("[SPEED] %d rpm (setpoint %.3f, power %.3f)", s.RPM, s.Setpoint, s.Power))
	}
	if prev == nil || prev.Phase != s.Phase {
		out = append(out, fmt.Sprintf("[PHASE] %s", s.Phase))
	}
	if prev == nil || prev.Calibrating != s.Calibrating || prev.CalibrationDone != s.CalibrationDone {
		switch {
		case s.Calibrating:
			out = append(out, "[CALIBRATION] running")
		case s.CalibrationDone:
			out = append(out, "[CALIBRATION] done")
		default:
			out = append(out, "[CALIBRATION] not calibrated")
		}
	}
	if prev == nil || prev.RegulatorEnabled != s.RegulatorEnabled {
		state := "OFF"
		if s.RegulatorEnabled {
			state = "ON"
		}
		out = append(out, fmt.Sprintf("[REGULATOR] %s", state))
	}
	return out
}

func diff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
