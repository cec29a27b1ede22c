package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"prototype-versions-backend/internal/logger"
	"prototype-versions-backend/internal/models"
)

const tracerName = "prototype-versions/queue"

// tableCarrier adapts amqp.Table to TextMapCarrier for trace propagation.
type tableCarrier struct {
	table amqp.Table
}

func (c tableCarrier) Get(key string) string {
	if val, ok := c.table[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
		return fmt.Sprintf("%v", val)
	}
	return ""
}

func (c tableCarrier) Set(key, value string) {
	c.table[key] = value
}

func (c tableCarrier) Keys() []string {
	keys := make([]string, 0, len(c.table))
	for k := range c.table {
		keys = append(keys, k)
	}
	return keys
}

type DialFunc func() (*amqp.Connection, error)

func Dialer(url string) DialFunc {
	return func() (*amqp.Connection, error) { return amqp.Dial(url) }
}

// Publisher sends ingestion tasks to a durable queue through the default
// exchange. A closed channel is re-dialled on the next publish.
type Publisher struct {
	dial  DialFunc
	queue string
	log   *logger.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

func NewPublisher(dial DialFunc, queueName string, log *logger.Logger) (*Publisher, error) {
	p := &Publisher{dial: dial, queue: queueName, log: log.With("component", "QueuePublisher")}
	if _, err := p.channel(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("publisher is closed")
	}
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := p.dial()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", p.queue, err)
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) Dispatch(ctx context.Context, task models.IngestTask) error {
	body, err := sonic.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rabbitmq.publish",
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", p.queue),
			attribute.String("version.id", task.VersionID.String()),
		))
	defer span.End()

	headers := make(amqp.Table)
	otel.GetTextMapPropagator().Inject(ctx, tableCarrier{table: headers})

	ch, err := p.channel()
	if err != nil {
		span.RecordError(err)
		return err
	}
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
		Headers:      headers,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish task: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var err error
	if p.ch != nil {
		err = p.ch.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type Consumer struct {
	ch      *amqp.Channel
	q       amqp.Queue
	workers int
	log     *logger.Logger
}

var errConsumerClosed = errors.New("consumer channel closed")

// NewConsumer opens a channel on conn with a prefetch of workers, so each
// worker holds at most one unacknowledged delivery.
func NewConsumer(conn *amqp.Connection, queueName string, workers int, log *logger.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 1
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, q: q, workers: workers, log: log.With("component", "QueueConsumer")}, nil
}

func (c *Consumer) Close() error { return c.ch.Close() }

// Handle consumes on c.workers goroutines until ctx is done. Handler errors
// Nack and requeue the delivery; undecodable messages are dropped.
func (c *Consumer) Handle(ctx context.Context, handler Handler) error {
	msgs, err := c.ch.Consume(c.q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	return c.consume(ctx, msgs, handler)
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery, handler Handler) error {
	tracer := otel.Tracer(tracerName)
	propagator := otel.GetTextMapPropagator()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < max(c.workers, 1); i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case m, ok := <-msgs:
					if !ok {
						return errConsumerClosed
					}

					msgCtx := gctx
					if m.Headers != nil {
						msgCtx = propagator.Extract(gctx, tableCarrier{table: m.Headers})
					}
					c.deliver(msgCtx, tracer, m, handler)
				}
			}
		})
	}
	return g.Wait()
}

func (c *Consumer) deliver(ctx context.Context, tracer trace.Tracer, m amqp.Delivery, handler Handler) {
	ctx, span := tracer.Start(ctx, "rabbitmq.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", c.q.Name),
			attribute.Int("messaging.message.body.size", len(m.Body)),
		))
	defer span.End()

	task, err := DecodeTask(m.Body)
	if err != nil {
		span.RecordError(err)
		c.log.Error("dropping undecodable task", "error", err)
		_ = m.Nack(false, false)
		return
	}

	if err := handler(ctx, task); err != nil {
		span.RecordError(err)
		c.log.Error("consume error, requeueing", "version_id", task.VersionID, "error", err)
		_ = m.Nack(false, true)
		return
	}
	_ = m.Ack(false)
}

func DecodeTask(body []byte) (models.IngestTask, error) {
	var task models.IngestTask
	if err := sonic.Unmarshal(body, &task); err != nil {
		return task, fmt.Errorf("failed to decode task: %w", err)
	}
	if task.VersionID == uuid.Nil {
		return task, errors.New("task has no version id")
	}
	return task, nil
}
