package storage

import (
	"context"
	"strings"

	xerrors "ImageGen-Console/internal/errors"
)

// ErrNotFound 表示指定的 key 不存在。
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "key not found")

// Store 抽象了缓存载荷的持久化接口。实现必须支持并发调用。
type Store interface {
	// Get 返回 key 对应的原始字节，不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 覆盖写入 key。
	Set(ctx context.Context, key string, value []byte) error
	// Delete 删除若干 key，不存在的 key 被忽略。
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Driver 枚举支持的存储驱动。
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = xerrors.New(xerrors.CodeInvalidArgument, "暂不支持的存储驱动")

// ValidateKey 拒绝空 key。
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "key 不能为空")
	}
	return nil
}
