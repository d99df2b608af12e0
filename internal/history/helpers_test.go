package history

import (
	"fmt"
	"sync"
	"time"

	"ImageGen-Console/sdk/go/imagegen"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func entry(id string, status imagegen.Status, minute int) Entry {
	created := baseTime.Add(time.Duration(minute) * time.Minute)
	return Entry{
		ID:        id,
		TaskID:    id,
		Status:    status,
		CreatedAt: imagegen.At(created),
		UpdatedAt: imagegen.At(created),
	}
}

// entries 生成 n 条记录，minute 越大越新。
func entries(n int) []Entry {
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, entry(fmt.Sprintf("task-%03d", i), imagegen.StatusCompleted, i))
	}
	return out
}

func ids(list []Entry) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.Key()
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
