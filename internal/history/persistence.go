package history

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/internal/storage"
)

const (
	DefaultNamespace = "imagegen"
	DefaultMaxSize   = 100
)

// Persistence 负责缓存的序列化与存取，数据与元数据分别存放在两个固定 key 下。
type Persistence struct {
	store   storage.Store
	dataKey string
	metaKey string
	version string
	maxSize int
	now     func() time.Time
}

// NewPersistence 创建持久化适配器。namespace、version、maxSize 为零值时使用默认值。
func NewPersistence(store storage.Store, namespace, version string, maxSize int) *Persistence {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if version == "" {
		version = SchemaVersion
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Persistence{
		store:   store,
		dataKey: namespace + ":history_cache",
		metaKey: namespace + ":cache_meta",
		version: version,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Keys 返回数据 key 与元数据 key。
func (p *Persistence) Keys() (data, meta string) {
	return p.dataKey, p.metaKey
}

// Load 读取缓存。缓存不存在时返回 (nil, nil)。
//
// 元数据缺失、无法解析或版本不匹配时会先清空两个 key，再返回
// CodeCacheCorrupted 或 CodeCacheVersionMismatch；存储本身不可用时返回
// CodeStorageFailure 且不做清理。调用方应把任何错误都当作没有缓存。
func (p *Persistence) Load(ctx context.Context) (*Snapshot, error) {
	rawData, err := p.store.Get(ctx, p.dataKey)
	dataMissing := stdErrors.Is(err, storage.ErrNotFound)
	if err != nil && !dataMissing {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取历史缓存失败")
	}

	rawMeta, err := p.store.Get(ctx, p.metaKey)
	metaMissing := stdErrors.Is(err, storage.ErrNotFound)
	if err != nil && !metaMissing {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取缓存元数据失败")
	}

	if metaMissing {
		if dataMissing {
			return nil, nil
		}
		return nil, p.discard(ctx, xerrors.New(CodeCacheCorrupted, "缓存元数据缺失"))
	}

	var meta Meta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, p.discard(ctx, xerrors.Wrap(CodeCacheCorrupted, err, "缓存元数据无法解析"))
	}
	if meta.Version != p.version {
		return nil, p.discard(ctx, xerrors.New(CodeCacheVersionMismatch, "缓存版本不匹配",
			xerrors.WithMetadata("stored", meta.Version),
			xerrors.WithMetadata("expected", p.version)))
	}
	if dataMissing {
		return nil, nil
	}

	var data []Entry
	if err := json.Unmarshal(rawData, &data); err != nil {
		return nil, p.discard(ctx, xerrors.Wrap(CodeCacheCorrupted, err, "缓存数据无法解析"))
	}
	if data == nil {
		data = []Entry{}
	}
	return &Snapshot{Data: data, Meta: meta}, nil
}

// discard 清空缓存并返回 cause；清理失败不会覆盖原因。
func (p *Persistence) discard(ctx context.Context, cause *xerrors.Error) error {
	_ = p.Clear(ctx)
	return cause
}

// Save 按创建时间倒序截断到 maxSize 后覆盖写入，先写数据再写元数据。
func (p *Persistence) Save(ctx context.Context, entries []Entry, totalCount int, hasMore bool) (*Snapshot, error) {
	limited := make([]Entry, len(entries))
	copy(limited, entries)
	sortNewestFirst(limited)
	if len(limited) > p.maxSize {
		limited = limited[:p.maxSize]
	}

	rawData, err := json.Marshal(limited)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化历史缓存失败")
	}
	now := p.now().UnixMilli()
	meta := Meta{
		Version:    p.version,
		Timestamp:  now,
		LastUpdate: now,
		TotalCount: totalCount,
		HasMore:    hasMore,
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化缓存元数据失败")
	}

	if err := p.store.Set(ctx, p.dataKey, rawData); err != nil {
		return nil, err
	}
	if err := p.store.Set(ctx, p.metaKey, rawMeta); err != nil {
		return nil, err
	}
	return &Snapshot{Data: limited, Meta: meta}, nil
}

// Clear 删除两个 key。
func (p *Persistence) Clear(ctx context.Context) error {
	return p.store.Delete(ctx, p.dataKey, p.metaKey)
}
