package events

import (
	"context"
	"sync"

	xerrors "ImageGen-Console/internal/errors"
)

// MemoryBus 在进程内广播事件，主要用于单实例部署与测试。
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewMemoryBus 创建进程内总线，buffer 为每个订阅者的缓冲区大小。
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 16
	}
	return &MemoryBus{subs: make(map[int]chan Event), buffer: buffer}
}

// Publish 将事件投递给所有订阅者。订阅者缓冲区已满时丢弃该事件。
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return xerrors.New(xerrors.CodeEventFailure, "事件总线已关闭")
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// Subscribe 注册订阅者并阻塞处理事件。
func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return xerrors.New(xerrors.CodeEventFailure, "事件总线已关闭")
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, event)
		}
	}
}

// Subscribers 返回当前订阅者数量。
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close 关闭总线并结束所有订阅。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	return nil
}

var _ Bus = (*MemoryBus)(nil)
