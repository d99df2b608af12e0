package history

import (
	"context"
	"net/http"
	"time"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/sdk/go/imagegen"
)

// Entry 为一条历史记录，直接复用后端返回的结构。
type Entry = imagegen.Task

// Page 为一次拉取的结果。
type Page struct {
	Data       []Entry
	TotalCount int
	HasMore    bool
}

// FetchFunc 拉取最新的一页历史记录。
type FetchFunc func(ctx context.Context) (*Page, error)

// SchemaVersion 为当前缓存结构版本，结构变化时递增。
const SchemaVersion = "1.0"

// Meta 与缓存数据成对保存。
type Meta struct {
	Version string `json:"version"`
	// Timestamp 为最近一次写入时间（毫秒），新鲜度据此计算。
	Timestamp  int64 `json:"timestamp"`
	LastUpdate int64 `json:"last_update"`
	TotalCount int   `json:"total_count"`
	HasMore    bool  `json:"has_more"`
}

// WrittenAt 返回写入时间。
func (m Meta) WrittenAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Snapshot 为一次读取到的缓存。
type Snapshot struct {
	Data []Entry `json:"data"`
	Meta Meta    `json:"meta"`
}

const (
	CodeCacheCorrupted       xerrors.Code = "CACHE_CORRUPTED"
	CodeCacheVersionMismatch xerrors.Code = "CACHE_VERSION_MISMATCH"
)

func init() {
	xerrors.Register(CodeCacheCorrupted, xerrors.Attributes{
		Message:    "history cache corrupted",
		Severity:   xerrors.SeverityWarning,
		Retryable:  false,
		Alert:      false,
		HTTPStatus: http.StatusInternalServerError,
	})
	xerrors.Register(CodeCacheVersionMismatch, xerrors.Attributes{
		Message:    "history cache version mismatch",
		Severity:   xerrors.SeverityInfo,
		Retryable:  false,
		Alert:      false,
		HTTPStatus: http.StatusConflict,
	})
}
