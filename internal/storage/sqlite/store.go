package sqlite

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	// 注册 sqlite 驱动。
	_ "modernc.org/sqlite"

	"ImageGen-Console/deploy/migrations"
	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/internal/storage"
)

// Store 将缓存载荷保存到本地 SQLite 文件。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开（必要时创建）数据库文件。path 为 ":memory:" 时使用内存库。
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "sqlite 路径不能为空")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 sqlite 目录失败")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 sqlite 失败")
	}
	// 单连接避免 database is locked，同时保证 :memory: 库在连接间共享。
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "设置 sqlite busy_timeout 失败")
	}
	store := &Store{db: db, now: time.Now}
	if _, err := migrations.Apply(ctx, db, migrations.SQLite, store.now); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Get 实现 storage.Store。
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv_entries WHERE k = ?`, key).Scan(&value)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 sqlite 记录失败")
	}
	return value, nil
}

// Set 实现 storage.Store。
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv_entries (k, v, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
		key, value, s.now().UnixMilli())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 sqlite 记录失败")
	}
	return nil
}

// Delete 实现 storage.Store。
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE k IN (`+placeholders+`)`, args...); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除 sqlite 记录失败")
	}
	return nil
}

// Close 关闭数据库。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)
