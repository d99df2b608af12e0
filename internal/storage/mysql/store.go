package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"ImageGen-Console/deploy/migrations"
	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/internal/storage"
)

// Store 使用 MySQL 表 kv_entries 保存缓存载荷。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New 建立连接池并执行迁移。
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, now: time.Now}
	if _, err := migrations.Apply(ctx, db, migrations.MySQL, store.now); err != nil {
		_ = db.Close()
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
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询缓存记录失败")
	}
	return value, nil
}

// Set 以 upsert 方式写入 key。
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	const stmt = `INSERT INTO kv_entries (k, v, updated_at) VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE v = VALUES(v), updated_at = VALUES(updated_at)`

	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, stmt, key, value, s.now().UnixMilli()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入缓存记录失败")
	}
	return nil
}

// Delete 实现 storage.Store。
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		placeholders = append(placeholders, "?")
		args = append(args, key)
	}
	query := `DELETE FROM kv_entries WHERE k IN (` + strings.Join(placeholders, ",") + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除缓存记录失败")
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)
