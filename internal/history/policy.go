package history

import "time"

// Freshness 为缓存的新鲜度分档。
type Freshness int

const (
	Expired Freshness = iota
	Stale
	Fresh
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "expired"
	}
}

const (
	DefaultMaxAge = 5 * time.Minute
	// DefaultStaleWindow 为未配置 StaleThreshold 时在 MaxAge 之上追加的可用窗口。
	DefaultStaleWindow = 2 * time.Minute
)

// Policy 根据缓存年龄决定新鲜度。
//
// StaleThreshold 是绝对年龄上限：age 落在 [MaxAge, StaleThreshold) 时为 Stale。
// 为 0 时取 MaxAge+DefaultStaleWindow；不大于 MaxAge 时不存在 Stale 档。
type Policy struct {
	MaxAge         time.Duration
	StaleThreshold time.Duration
}

// DefaultPolicy 返回默认策略。
func DefaultPolicy() Policy {
	return Policy{MaxAge: DefaultMaxAge, StaleThreshold: DefaultMaxAge + DefaultStaleWindow}
}

func (p Policy) normalized() Policy {
	if p.MaxAge <= 0 {
		p.MaxAge = DefaultMaxAge
	}
	if p.StaleThreshold == 0 {
		p.StaleThreshold = p.MaxAge + DefaultStaleWindow
	}
	return p
}

// Classify 是纯函数：meta 为空视为 Expired，未来时间戳按年龄 0 处理。
func (p Policy) Classify(meta *Meta, now time.Time) Freshness {
	if meta == nil {
		return Expired
	}
	p = p.normalized()
	age := now.Sub(meta.WrittenAt())
	if age < 0 {
		age = 0
	}
	switch {
	case age < p.MaxAge:
		return Fresh
	case age < p.StaleThreshold:
		return Stale
	default:
		return Expired
	}
}
