package events

import (
	"context"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/pkg/logger"
)

// RedisConfig 描述 Redis 事件通道。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// RedisBus 基于 Redis Pub/Sub 广播事件。
type RedisBus struct {
	client  *goredis.Client
	channel string
	owned   bool
}

// NewRedisBus 创建独立连接的 Redis 总线。
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeEventFailure, err, "连接 Redis 失败")
	}
	bus := NewRedisBusWithClient(client, cfg.Channel)
	bus.owned = true
	return bus, nil
}

// NewRedisBusWithClient 复用已有连接，例如缓存存储所用的客户端。
func NewRedisBusWithClient(client *goredis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "genconsole:events"
	}
	return &RedisBus{client: client, channel: channel}
}

// Publish 实现 Publisher。
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "Redis 发布事件失败")
	}
	return nil
}

// Subscribe 订阅频道并逐条处理事件。
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "Redis 订阅事件失败")
	}

	log := logger.Named("events")
	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			event, err := decode([]byte(msg.Payload))
			if err != nil {
				log.Warn("丢弃无法解析的事件", slog.String("channel", msg.Channel), slog.Any("error", err))
				continue
			}
			_ = handler(ctx, event)
		}
	}
}

// Close 只关闭自己创建的连接。
func (b *RedisBus) Close() error {
	if b == nil || !b.owned {
		return nil
	}
	return b.client.Close()
}

var _ Bus = (*RedisBus)(nil)
