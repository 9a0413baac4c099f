// Package notify queues outbound mail and delivers it from a worker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quillpress/apiserver/internal/logging"
	"github.com/quillpress/apiserver/internal/mq"
)

// Mail is the queued message envelope.
type Mail struct {
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	QueuedAt time.Time `json:"queued_at"`
}

// Publisher is the broker subset used to queue mail.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Queue enqueues mail on a broker channel. It satisfies auth.Notifier.
type Queue struct {
	publisher Publisher
	channel   string
	logger    zerolog.Logger
}

func NewQueue(publisher Publisher, channel string, logger zerolog.Logger) *Queue {
	return &Queue{
		publisher: publisher,
		channel:   channel,
		logger:    logging.Component(logger, "notify"),
	}
}

// Send queues one mail. Delivery happens later in a Worker.
func (q *Queue) Send(ctx context.Context, to, subject, body string) error {
	data, err := json.Marshal(Mail{To: to, Subject: subject, Body: body, QueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}
	id, err := q.publisher.Publish(ctx, q.channel, data, map[string]string{"type": "mail"})
	if err != nil {
		return fmt.Errorf("queue mail: %w", err)
	}
	q.logger.Debug().Str("message_id", id).Msg("mail queued")
	return nil
}

// Sender delivers one mail.
type Sender interface {
	Deliver(ctx context.Context, mail Mail) error
}

// Subscriber is the broker subset used by the worker.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Worker consumes queued mail and hands it to a Sender.
type Worker struct {
	subscriber Subscriber
	channel    string
	sender     Sender
	logger     zerolog.Logger
}

func NewWorker(subscriber Subscriber, channel string, sender Sender, logger zerolog.Logger) *Worker {
	return &Worker{
		subscriber: subscriber,
		channel:    channel,
		sender:     sender,
		logger:     logging.Component(logger, "mailer"),
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Str("channel", w.channel).Msg("mailer started")
	err := w.subscriber.Subscribe(ctx, w.channel, w.handle)
	if ctx.Err() != nil {
		w.logger.Info().Msg("mailer stopped")
		return nil
	}
	return err
}

func (w *Worker) handle(ctx context.Context, msg mq.Message) error {
	var mail Mail
	if err := json.Unmarshal(msg.Data, &mail); err != nil {
		// Malformed payloads are acked; redelivery cannot fix them.
		w.logger.Error().Err(err).Str("message_id", msg.ID).Msg("dropping undecodable mail")
		return nil
	}
	if mail.To == "" {
		w.logger.Error().Str("message_id", msg.ID).Msg("dropping mail without recipient")
		return nil
	}
	if err := w.sender.Deliver(ctx, mail); err != nil {
		return fmt.Errorf("deliver mail %s: %w", msg.ID, err)
	}
	w.logger.Info().Str("message_id", msg.ID).Msg("mail delivered")
	return nil
}
