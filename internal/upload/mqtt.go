package upload

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cjeanneret/GoBell/internal/debug"
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker      string // host:port
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // entries go to <prefix>/<path>
	QoS         byte
}

// mqttConnectTimeout bounds the initial broker connection.
const mqttConnectTimeout = 5 * time.Second

// MQTTSink publishes each entry as a JSON envelope. Keys are UUIDv7 since
// MQTT has no server-side ordering.
type MQTTSink struct {
	client    mqtt.Client
	prefix    string
	qos       byte
	connected atomic.Bool
}

// NewMQTTSink connects to the broker with auto-reconnect enabled.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	s := &MQTTSink{prefix: cfg.TopicPrefix, qos: cfg.QoS}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.connected.Store(true)
		debug.Info("MQTT connection established (broker %s)", cfg.Broker)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.connected.Store(false)
		debug.Errorf("mqtt", fmt.Errorf("connection lost, will auto-reconnect: %w", err))
	}

	s.client = mqtt.NewClient(opts)
	if err := connectMQTT(s.client, mqttConnectTimeout); err != nil {
		return nil, err
	}
	s.connected.Store(true)
	return s, nil
}

// connectMQTT waits for the first connection. With connect retry enabled a
// timed-out attempt keeps retrying in the background, so the client is
// disconnected before giving up.
func connectMQTT(c mqtt.Client, timeout time.Duration) error {
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		c.Disconnect(0)
		return fmt.Errorf("mqtt connection timeout after %v", timeout)
	}
	if err := token.Error(); err != nil {
		c.Disconnect(0)
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

func (s *MQTTSink) topic(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *MQTTSink) Push(ctx context.Context, path string, entry LogEntry) (string, error) {
	if !s.connected.Load() {
		return "", fmt.Errorf("mqtt not connected")
	}
	key, err := newKey()
	if err != nil {
		return "", err
	}
	payload, err := encodeEnvelope(path, key, entry, time.Now())
	if err != nil {
		return "", err
	}

	token := s.client.Publish(s.topic(path), s.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return "", fmt.Errorf("publish: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return "", fmt.Errorf("publish failed: %w", err)
	}
	return key, nil
}

// Close disconnects with a 250ms grace period.
func (s *MQTTSink) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.connected.Store(false)
	return nil
}
