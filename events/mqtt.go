package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig configures the broker connection used to reach vending devices.
type MQTTConfig struct {
	// Broker is a URL such as tcp://broker.hivemq.com:1883.
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	Retained       bool
	ConnectTimeout time.Duration
	// Subscribe lists topics whose inbound messages are logged (control and
	// config channels of the merchant).
	Subscribe []string
}

// MQTTPublisher publishes lifecycle events over MQTT. The connection is kept
// alive by the client's auto-reconnect; publishes made while disconnected
// fail fast.
type MQTTPublisher struct {
	client    mqtt.Client
	cfg       MQTTConfig
	logger    *slog.Logger
	connected atomic.Bool
}

// BrokerURL builds a paho broker URL from the host/port/protocol triple the
// deployment environment provides.
func BrokerURL(protocol, host string, port int) string {
	host = strings.TrimSpace(host)
	if strings.Contains(host, "://") {
		return host
	}
	scheme := "tcp"
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "mqtts", "ssl", "tls":
		scheme = "ssl"
	case "ws":
		scheme = "ws"
	case "wss":
		scheme = "wss"
	}
	if port <= 0 {
		port = 1883
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// NewMQTTPublisher connects to the broker. An unreachable broker is logged
// and retried in the background rather than failing startup.
func NewMQTTPublisher(cfg MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("mqtt broker required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "payme-server-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	p := &MQTTPublisher{cfg: cfg, logger: logger}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.connected.Store(false)
			p.logger.Warn("mqtt: connection lost", "broker", cfg.Broker, "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	p.client = mqtt.NewClient(opts)

	token := p.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		logger.Warn("mqtt: initial connect still pending", "broker", cfg.Broker)
	} else if err := token.Error(); err != nil {
		logger.Error("mqtt: initial connect failed", "broker", cfg.Broker, "error", err)
	}
	return p, nil
}

func (p *MQTTPublisher) onConnect(client mqtt.Client) {
	p.connected.Store(true)
	p.logger.Info("mqtt: connected", "broker", p.cfg.Broker, "client_id", p.cfg.ClientID)
	for _, topic := range p.cfg.Subscribe {
		token := client.Subscribe(topic, p.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			p.logger.Info("mqtt: message received", "topic", msg.Topic(), "payload", string(msg.Payload()))
		})
		go func() {
			if token.WaitTimeout(p.cfg.ConnectTimeout) && token.Error() != nil {
				p.logger.Warn("mqtt: subscribe failed", "topic", topic, "error", token.Error())
			}
		}()
	}
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload map[string]interface{}) bool {
	if !p.connected.Load() || !p.client.IsConnectionOpen() {
		p.logger.Warn("mqtt: not connected, cannot publish", "topic", topic)
		return false
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("mqtt: encode payload", "topic", topic, "error", err)
		return false
	}
	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retained, encoded)
	select {
	case <-token.Done():
	case <-ctx.Done():
		p.logger.Warn("mqtt: publish timed out", "topic", topic, "error", ctx.Err())
		return false
	}
	if err := token.Error(); err != nil {
		p.logger.Error("mqtt: publish failed", "topic", topic, "error", err)
		return false
	}
	return true
}

func (p *MQTTPublisher) Connected() bool {
	return p.connected.Load() && p.client.IsConnectionOpen()
}

func (p *MQTTPublisher) Endpoint() string { return p.cfg.Broker }

// Close disconnects, allowing in-flight work a short grace period.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	p.connected.Store(false)
	return nil
}
