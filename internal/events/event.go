// Package events 在多个 genconsole 实例之间广播历史缓存的变更通知。
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	xerrors "ImageGen-Console/internal/errors"
)

// Type 枚举事件类型。
type Type string

const (
	// TypeRefreshed 在缓存被一次成功拉取覆盖后发布。
	TypeRefreshed Type = "history.refreshed"
	// TypeInvalidated 在缓存被清空后发布。
	TypeInvalidated Type = "history.invalidated"
)

// Event 为总线上传递的消息体。
type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Namespace string `json:"namespace"`
	// Origin 为发布者的实例 ID，订阅方据此忽略自己发出的事件。
	Origin     string    `json:"origin"`
	Count      int       `json:"count,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New 构造一个带唯一 ID 的事件。
func New(typ Type, namespace, origin string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Namespace:  namespace,
		Origin:     origin,
		OccurredAt: time.Now().UTC(),
	}
}

// NewOrigin 生成实例 ID。
func NewOrigin() string {
	return uuid.NewString()
}

// Handler 处理一条事件。返回的错误只会被记录。
type Handler func(ctx context.Context, event Event) error

// Publisher 发布事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber 阻塞消费事件，直到 ctx 结束。
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}

// Bus 同时具备发布与订阅能力。
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Driver 枚举支持的事件总线。
const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEventFailure, err, "序列化事件失败")
	}
	return payload, nil
}

func decode(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeEventFailure, err, "解析事件失败")
	}
	return event, nil
}

// Nop 丢弃所有事件，用于未配置总线的场景。
type Nop struct{}

// Publish 实现 Publisher。
func (Nop) Publish(context.Context, Event) error { return nil }

// Subscribe 阻塞到 ctx 结束。
func (Nop) Subscribe(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close 实现 Bus。
func (Nop) Close() error { return nil }
