package mq

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const memoryBuffer = 256

// ErrClosed is returned by a closed in-process broker.
var ErrClosed = errors.New("mq: backend closed")

// Memory is an in-process broker for single-node deployments and tests.
// Each channel is a buffered queue shared by its subscribers; a failed
// message is requeued once and then dropped.
type Memory struct {
	mu     sync.Mutex
	queues map[string]chan memoryDelivery
	closed chan struct{}
	once   sync.Once
}

type memoryDelivery struct {
	msg         Message
	redelivered bool
}

func NewMemory() *Memory {
	return &Memory{
		queues: map[string]chan memoryDelivery{},
		closed: make(chan struct{}),
	}
}

func (m *Memory) queue(channel string) chan memoryDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[channel]
	if !ok {
		q = make(chan memoryDelivery, memoryBuffer)
		m.queues[channel] = q
	}
	return q
}

func (m *Memory) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("memory channel is required")
	}
	select {
	case <-m.closed:
		return "", ErrClosed
	default:
	}

	msg := Message{
		ID:         uuid.NewString(),
		Data:       append([]byte(nil), data...),
		Attributes: copyAttributes(attrs),
	}
	select {
	case m.queue(channel) <- memoryDelivery{msg: msg}:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.closed:
		return "", ErrClosed
	}
}

func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("memory channel is required")
	}
	q := m.queue(channel)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return ErrClosed
		case d := <-q:
			if err := handler(ctx, d.msg); err != nil && !d.redelivered {
				select {
				case q <- memoryDelivery{msg: d.msg, redelivered: true}:
				default:
				}
			}
		}
	}
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func copyAttributes(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
