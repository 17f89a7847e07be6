// Package bus реализует шину широковещательных событий между репликами поверх RabbitMQ.
//
// Все реплики публикуют в одну topic-точку обмена. Каждая реплика держит
// собственную эксклюзивную очередь, поэтому событие получает каждая реплика.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Ключи маршрутизации событий.
const (
	TopicChat         = "bid.chat"
	TopicBidInfo      = "bid.info"
	TopicBidResult    = "bid.result"
	TopicPresence     = "auction.numbers"
	TopicOrderCreated = "auction.order.created"
)

// BroadcastTopics перечисляет события, которые ретранслируются подключённым клиентам.
var BroadcastTopics = []string{TopicChat, TopicBidInfo, TopicBidResult, TopicPresence}

// ErrMalformed помечает событие, которое невозможно обработать ни при каком повторе.
var ErrMalformed = errors.New("malformed event")

// Publisher публикует события в точку обмена.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewPublisher подключается к брокеру и объявляет точку обмена.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish сериализует v в JSON и публикует под ключом topic.
func (p *Publisher) Publish(ctx context.Context, topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        b,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Delivery описывает входящее событие шины.
type Delivery struct {
	Topic string
	Body  []byte
}

// Handler обрабатывает событие. Ошибка с ErrMalformed отбрасывает событие,
// любая другая возвращает его в очередь.
type Handler func(ctx context.Context, d Delivery) error

// ConsumerConfig описывает очередь реплики.
type ConsumerConfig struct {
	URL      string
	Exchange string
	Queue    string
	Keys     []string
	Prefetch int
}

// Consumer получает события из очереди реплики.
type Consumer struct {
	cfg    ConsumerConfig
	logger *zap.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewConsumer подключается к брокеру и объявляет эксклюзивную очередь реплики.
func NewConsumer(cfg ConsumerConfig, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	// Очередь живёт столько же, сколько реплика: после падения события ей не нужны.
	q, err := ch.QueueDeclare(cfg.Queue, false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range cfg.Keys {
		if err := ch.QueueBind(q.Name, key, cfg.Exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 16
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	cfg.Queue = q.Name
	return &Consumer{cfg: cfg, logger: logger, conn: conn, ch: ch}, nil
}

// Run читает события до отмены контекста.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			err := h(ctx, Delivery{Topic: d.RoutingKey, Body: d.Body})
			settle(d, err, c.logger)
		}
	}
}

func settle(d amqp.Delivery, err error, logger *zap.Logger) {
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrMalformed):
		logger.Warn("drop malformed event", zap.String("topic", d.RoutingKey), zap.Error(err))
		_ = d.Nack(false, false)
	default:
		logger.Error("handle event error, requeue", zap.String("topic", d.RoutingKey), zap.Error(err))
		_ = d.Nack(false, true)
	}
}

// Close закрывает канал и соединение.
func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
