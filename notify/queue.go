package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	accounts "github.com/lungvision/go-accounts"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds the notification topic settings
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	WriteTimeout time.Duration
}

// MessageWriter is the part of kafka.Writer the queue mailer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the part of kafka.Reader the worker uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// QueueMailer publishes notifications to Kafka. A QueueWorker delivers them.
type QueueMailer struct {
	writer MessageWriter
	logger accounts.Logger
}

var _ accounts.Notifier = (*QueueMailer)(nil)

// NewKafkaWriter builds the producer used by QueueMailer.
func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: timeout,
	}
}

// NewKafkaReader builds the consumer used by QueueWorker.
func NewKafkaReader(cfg KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

func NewQueueMailer(writer MessageWriter, logger accounts.Logger) *QueueMailer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &QueueMailer{
		writer: writer,
		logger: logger,
	}
}

// Send enqueues the notification keyed by recipient.
func (q *QueueMailer) Send(ctx context.Context, n accounts.Notification) error {
	if q.writer == nil {
		return errors.New("queue mailer: writer not configured")
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	if err := q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.To),
		Value: payload,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	q.logger.Debug("notification queued", "to", n.To, "kind", n.Kind)
	return nil
}

func (q *QueueMailer) Close() error {
	if q.writer == nil {
		return nil
	}
	return q.writer.Close()
}

// QueueWorker consumes queued notifications and hands them to a delivery
// notifier. Messages are committed once handled, failed deliveries included,
// so a bad address does not block the partition.
type QueueWorker struct {
	reader   MessageReader
	delivery accounts.Notifier
	logger   accounts.Logger
}

func NewQueueWorker(reader MessageReader, delivery accounts.Notifier, logger accounts.Logger) *QueueWorker {
	if logger == nil {
		logger = nopLogger{}
	}
	return &QueueWorker{
		reader:   reader,
		delivery: delivery,
		logger:   logger,
	}
}

// Run processes messages until ctx is cancelled.
func (w *QueueWorker) Run(ctx context.Context) error {
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			w.logger.Error("notification fetch failed", "error", err)
			return err
		}

		w.Handle(ctx, msg)

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("notification commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Handle decodes and delivers a single message. It reports whether the
// notification was delivered.
func (w *QueueWorker) Handle(ctx context.Context, msg kafka.Message) bool {
	var n accounts.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		w.logger.Error("invalid notification payload", "offset", msg.Offset, "error", err)
		return false
	}

	if err := w.delivery.Send(ctx, n); err != nil {
		w.logger.Error("queued notification failed", "to", n.To, "kind", n.Kind, "error", err)
		return false
	}

	w.logger.Info("queued notification sent", "to", n.To, "kind", n.Kind)
	return true
}

func (w *QueueWorker) Close() error {
	return w.reader.Close()
}
