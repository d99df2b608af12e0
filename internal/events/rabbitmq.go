package events

import (
	"context"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 事件交换机。
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// RabbitMQBus 通过 fanout 交换机广播事件，每个订阅者拥有独立的临时队列。
type RabbitMQBus struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

// NewRabbitMQBus 建立连接并声明交换机。
func NewRabbitMQBus(cfg RabbitMQConfig) (*RabbitMQBus, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "genconsole.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEventFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeEventFailure, err, "创建 RabbitMQ channel 失败")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeEventFailure, err, "声明 RabbitMQ 交换机失败")
	}
	return &RabbitMQBus{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish 实现 Publisher。amqp channel 不支持并发发布，这里串行化。
func (b *RabbitMQBus) Publish(ctx context.Context, event Event) error {
	if b == nil || b.ch == nil {
		return xerrors.New(xerrors.CodeEventFailure, "RabbitMQ 总线未初始化")
	}
	payload, err := encode(event)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    event.OccurredAt,
		DeliveryMode: amqp.Transient,
		Body:         payload,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "RabbitMQ 发布事件失败")
	}
	return nil
}

// Subscribe 声明一个独占队列绑定到交换机并消费。
func (b *RabbitMQBus) Subscribe(ctx context.Context, handler Handler) error {
	if b == nil || b.conn == nil {
		return xerrors.New(xerrors.CodeEventFailure, "RabbitMQ 总线未初始化")
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "创建 RabbitMQ channel 失败")
	}
	defer ch.Close()

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "声明 RabbitMQ 队列失败")
	}
	if err := ch.QueueBind(queue.Name, "", b.exchange, false, nil); err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "绑定 RabbitMQ 队列失败")
	}
	msgs, err := ch.Consume(queue.Name, "", false, true, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "订阅 RabbitMQ 队列失败")
	}

	log := logger.Named("events")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			event, err := decode(msg.Body)
			if err != nil {
				log.Warn("丢弃无法解析的事件", slog.String("exchange", b.exchange), slog.Any("error", err))
				_ = msg.Ack(false)
				continue
			}
			_ = handler(ctx, event)
			_ = msg.Ack(false)
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (b *RabbitMQBus) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

var _ Bus = (*RabbitMQBus)(nil)
