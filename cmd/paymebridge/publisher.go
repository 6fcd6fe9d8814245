package main

import (
	"fmt"
	"log/slog"

	"paymebridge/config"
	"paymebridge/events"
	"paymebridge/gateway/middleware"
)

// brokerPublisher is what the bridge needs from a configured transport.
type brokerPublisher interface {
	events.Publisher
	events.Status
	Close() error
}

type logPublisher struct {
	*events.LogPublisher
}

func (logPublisher) Close() error { return nil }

func newPublisher(cfg config.Config, logger *slog.Logger) (brokerPublisher, error) {
	switch cfg.Publisher.Driver {
	case "mqtt":
		mc := cfg.Publisher.MQTT
		var subscribe []string
		if mc.SubscribeControl {
			subscribe = []string{
				events.Topic("control", cfg.MerchantID),
				events.Topic("config", cfg.MerchantID),
			}
		}
		pub, err := events.NewMQTTPublisher(events.MQTTConfig{
			Broker:    events.BrokerURL(mc.Protocol, mc.Broker, mc.Port),
			ClientID:  mc.ClientID,
			Username:  mc.Username,
			Password:  mc.Password,
			QoS:       byte(mc.QoS),
			Subscribe: subscribe,
		}, logger)
		if err != nil {
			return nil, err
		}
		return pub, nil
	case "amqp":
		pub, err := events.NewAMQPPublisher(events.AMQPConfig{
			URL:            cfg.Publisher.AMQP.URL,
			Exchange:       cfg.Publisher.AMQP.Exchange,
			ConfirmTimeout: cfg.Publisher.AMQP.ConfirmTimeout.Duration,
		}, logger)
		if err != nil {
			return nil, err
		}
		return pub, nil
	case "log":
		return logPublisher{events.NewLogPublisher(logger)}, nil
	default:
		return nil, fmt.Errorf("unknown publisher driver %q", cfg.Publisher.Driver)
	}
}

func rateLimits(limits map[string]config.Limit) map[string]middleware.RateLimit {
	out := make(map[string]middleware.RateLimit, len(limits))
	for group, limit := range limits {
		out[group] = middleware.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}
	return out
}
