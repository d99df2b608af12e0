// Package sqlite 使用纯 Go 的 SQLite 驱动持久化缓存载荷，CLI 默认使用该驱动。
package sqlite
