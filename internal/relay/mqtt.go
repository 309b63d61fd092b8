package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient is the subset of [mqtt.Client] used by [MQTTPublisher].
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTConfig configures [DialMQTT].
type MQTTConfig struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker string

	// Topic is the prefix; envelopes go to "<Topic>/<event>".
	Topic string

	ClientID string
	Username string
	Password string

	// QoS is the MQTT quality of service level (0, 1 or 2).
	QoS byte

	// ConnectTimeout bounds the initial connection. Default: 10s.
	ConnectTimeout time.Duration
}

// MQTTPublisher publishes envelopes as JSON to an MQTT broker.
type MQTTPublisher struct {
	client MQTTClient
	topic  string
	qos    byte
}

// NewMQTTPublisher wraps an existing, connected client.
func NewMQTTPublisher(client MQTTClient, topic string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, qos: qos}
}

// DialMQTT connects to the broker described by cfg. The client reconnects
// on its own after the initial connection succeeds.
func DialMQTT(cfg MQTTConfig) (*MQTTPublisher, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("relay: mqtt connection lost", "err", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("relay: connect mqtt %s: timed out after %s", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("relay: connect mqtt %s: %w", cfg.Broker, err)
	}
	slog.Info("relay: connected to mqtt", "broker", cfg.Broker, "topic", cfg.Topic)
	return NewMQTTPublisher(client, cfg.Topic, cfg.QoS), nil
}

// Name implements [Publisher].
func (p *MQTTPublisher) Name() string { return "mqtt" }

// Topic returns the topic env is published on.
func (p *MQTTPublisher) Topic(env Envelope) string {
	return p.topic + "/" + env.Event
}

// Publish implements [Publisher]. It waits for the broker to acknowledge
// according to the configured QoS, or for ctx to end.
func (p *MQTTPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("relay: encode %s: %w", env.Event, err)
	}
	topic := p.Topic(env)
	token := p.client.Publish(topic, p.qos, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("relay: mqtt publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("relay: mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Close implements [Publisher]. In-flight work gets 250 ms to complete.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
