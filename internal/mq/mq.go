// Package mq carries asynchronous work, such as outbound mail, over a
// pluggable broker.
package mq

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quillpress/apiserver/config"
	"github.com/quillpress/apiserver/internal/logging"
)

// Message is a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. A returned error asks the broker to redeliver.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by every broker.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ wraps a backend and logs traffic.
type MQ struct {
	backend Backend
	name    string
	logger  zerolog.Logger
}

// New wraps backend. name is only used in log lines.
func New(backend Backend, name string, logger zerolog.Logger) *MQ {
	return &MQ{
		backend: backend,
		name:    name,
		logger:  logging.Component(logger, "mq").With().Str("backend", name).Logger(),
	}
}

// Open connects to the backend selected in cfg.
func Open(ctx context.Context, cfg config.MQConfig, logger zerolog.Logger) (*MQ, error) {
	switch cfg.Backend {
	case "", "memory":
		return New(NewMemory(), "memory", logger), nil
	case "rabbitmq":
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		return New(client, "rabbitmq", logger), nil
	case "pubsub":
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		return New(client, "pubsub", logger), nil
	default:
		return nil, fmt.Errorf("unsupported mq backend %q", cfg.Backend)
	}
}

// Name returns the backend name.
func (m *MQ) Name() string {
	return m.name
}

func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	id, err := m.backend.Publish(ctx, channel, data, attrs)
	if err != nil {
		m.logger.Error().Err(err).Str("channel", channel).Msg("publish failed")
		return "", err
	}
	m.logger.Debug().Str("channel", channel).Str("message_id", id).Msg("published")
	return id, nil
}

// Subscribe blocks until ctx is done or the backend fails.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	m.logger.Info().Str("channel", channel).Msg("subscribing")
	return m.backend.Subscribe(ctx, channel, func(ctx context.Context, msg Message) error {
		if err := handler(ctx, msg); err != nil {
			m.logger.Warn().Err(err).Str("channel", channel).Str("message_id", msg.ID).Msg("handler failed")
			return err
		}
		return nil
	})
}

func (m *MQ) Close() error {
	return m.backend.Close()
}
