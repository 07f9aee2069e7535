package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sensorless/internal/controller"
)

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
	// Timeout bounds connect and each publish.
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "sensorless",
		Topic:    "sensorless/status",
		Retain:   true,
		Timeout:  2 * time.Second,
	}
}

func (c MQTTConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return errors.New("telemetry.mqtt.broker must be set")
	}
	if c.Topic == "" {
		return errors.New("telemetry.mqtt.topic must be set")
	}
	if c.QoS > 2 {
		return fmt.Errorf("telemetry.mqtt.qos must be 0, 1 or 2 (got %d)", c.QoS)
	}
	if c.Timeout <= 0 {
		return errors.New("telemetry.mqtt.timeout must be > 0")
	}
	return nil
}

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes each snapshot as JSON on a single topic.
type MQTT struct {
	cfg    MQTTConfig
	client mqttClient
	log    *slog.Logger
}

// DialMQTT connects to the broker and returns a publisher.
func DialMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected", "broker", cfg.Broker, "topic", cfg.Topic)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return newMQTT(cfg, client, logger), nil
}

func newMQTT(cfg MQTTConfig, client mqttClient, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MQTT{cfg: cfg, client: client, log: logger}
}

func (m *MQTT) Publish(s controller.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.cfg.Topic, m.cfg.QoS, m.cfg.Retain, payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		return fmt.Errorf("mqtt publish %s: timed out", m.cfg.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", m.cfg.Topic, err)
	}
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
