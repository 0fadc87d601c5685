package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// jobMessage is the wire envelope. Only the ID crosses the broker.
type jobMessage struct {
	JobID string `json:"job_id"`
}

// rabbitQueue is an AMQP-backed Queue for multi-process deployments.
// Deliveries are acked on dequeue; the store-level claim is the fence
// against duplicate processing, so redelivery is harmless.
type rabbitQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
	queueName  string
	log        *slog.Logger
}

// RabbitConfig holds the AMQP connection settings.
type RabbitConfig struct {
	URL           string
	QueueName     string
	PrefetchCount int
	ConsumerTag   string
}

// NewRabbit connects to the broker, declares the durable job queue, and
// starts a manual-ack consumer.
func NewRabbit(cfg RabbitConfig, log *slog.Logger) (Queue, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 8
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "ocrworker-" + uuid.NewString()[:8]
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		cfg.QueueName, // name
		true,          // durable
		false,         // auto-delete
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := channel.Qos(cfg.PrefetchCount, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := channel.Consume(
		cfg.QueueName,   // queue
		cfg.ConsumerTag, // consumer tag
		false,           // auto-ack
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("start consumer: %w", err)
	}

	log.Info("rabbitmq queue ready",
		"queue", cfg.QueueName,
		"consumer_tag", cfg.ConsumerTag,
		"prefetch", cfg.PrefetchCount,
	)

	return &rabbitQueue{
		conn:       conn,
		channel:    channel,
		deliveries: deliveries,
		queueName:  cfg.QueueName,
		log:        log,
	}, nil
}

func (q *rabbitQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	body, err := json.Marshal(jobMessage{JobID: jobID.String()})
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		"",          // default exchange
		q.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		q.log.Error("publish failed", "job_id", jobID, "err", err)
		return fmt.Errorf("publish job message: %w", err)
	}
	q.log.Debug("job published", "job_id", jobID)
	return nil
}

func (q *rabbitQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		select {
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		case delivery, ok := <-q.deliveries:
			if !ok {
				return uuid.Nil, ErrClosed
			}

			var msg jobMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				q.log.Error("malformed queue message", "body", string(delivery.Body), "err", err)
				// no requeue for garbage; let the broker drop or dead-letter it
				_ = delivery.Nack(false, false)
				continue
			}
			id, err := uuid.Parse(msg.JobID)
			if err != nil {
				q.log.Error("invalid job id in queue message", "job_id", msg.JobID, "err", err)
				_ = delivery.Nack(false, false)
				continue
			}

			if err := delivery.Ack(false); err != nil {
				q.log.Warn("ack failed", "job_id", id, "err", err)
			}
			return id, nil
		}
	}
}

func (q *rabbitQueue) Close() error {
	if q.channel != nil {
		if err := q.channel.Close(); err != nil {
			q.log.Warn("channel close failed", "err", err)
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}
