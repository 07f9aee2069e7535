package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sensorless/internal/controller"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	token        *fakeToken
	sent         []published
	disconnected bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.sent = append(f.sent, published{topic, qos, retained, payload.([]byte)})
	return f.token
}

func (f *fakeMQTT) Disconnect(uint) { f.disconnected = true }

func TestMQTT_PublishesRetainedJSON(t *testing.T) {
	cfg := DefaultMQTTConfig()
	client := &fakeMQTT{token: &fakeToken{}}
	m := newMQTT(cfg, client, nil)

	if err := m.Publish(controller.Snapshot{RPM: 9000, Phase: "autotune_rise"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(client.sent))
	}
	p := client.sent[0]
	if p.topic != "sensorless/status" || !p.retained || p.qos != 0 {
		t.Errorf("unexpected publish options: %+v", p)
	}
	var snap controller.Snapshot
	if err := json.Unmarshal(p.payload, &snap); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if snap.RPM != 9000 || snap.Phase != "autotune_rise" {
		t.Errorf("unexpected payload: %+v", snap)
	}

	m.Close()
	if !client.disconnected {
		t.Error("expected disconnect on close")
	}
}

func TestMQTT_PublishErrors(t *testing.T) {
	m := newMQTT(DefaultMQTTConfig(), &fakeMQTT{token: &fakeToken{err: errors.New("not connected")}}, nil)
	if err := m.Publish(controller.Snapshot{}); err == nil {
		t.Error("expected token error to be returned")
	}

	m = newMQTT(DefaultMQTTConfig(), &fakeMQTT{token: &fakeToken{timeout: true}}, nil)
	if err := m.Publish(controller.Snapshot{}); err == nil {
		t.Error("expected timeout error")
	}
}

func TestMQTTConfig_Validate(t *testing.T) {
	cfg := DefaultMQTTConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled config should validate, got %v", err)
	}
	cfg.Enabled = true
	cfg.QoS = 3
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for qos 3")
	}
	cfg.QoS = 1
	cfg.Broker = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty broker")
	}
}
