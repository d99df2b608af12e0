package redis

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/internal/storage"
)

// Config 描述 Redis 存储的连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	// TTL 为 0 时 key 永不过期，过期由缓存元数据自行判断。
	TTL time.Duration
}

// Store 使用 Redis string 保存缓存载荷。
type Store struct {
	client *goredis.Client
	ttl    time.Duration
}

// New 创建 Redis 存储实例并校验连通性。
func New(ctx context.Context, cfg Config) (*Store, error) {
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
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return &Store{client: client, ttl: cfg.TTL}, nil
}

// NewWithClient 使用已有客户端构造存储，调用方负责客户端生命周期以外的配置。
func NewWithClient(client *goredis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Get 实现 storage.Store。
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if stdErrors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 失败")
	}
	return value, nil
}

// Set 实现 storage.Store。
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 失败")
	}
	return nil
}

// Delete 实现 storage.Store。
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除 Redis key 失败")
	}
	return nil
}

// Client 暴露底层客户端，供事件总线复用连接。
func (s *Store) Client() *goredis.Client {
	return s.client
}

// Close 关闭 Redis 连接。
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ storage.Store = (*Store)(nil)
