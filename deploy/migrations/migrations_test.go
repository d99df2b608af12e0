package migrations

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	xerrors "ImageGen-Console/internal/errors"
)

func TestLoadDialects(t *testing.T) {
	for _, dialect := range []Dialect{MySQL, SQLite} {
		migrations, err := Load(dialect)
		if err != nil {
			t.Fatalf("load %s: %v", dialect, err)
		}
		if len(migrations) == 0 || migrations[0].Version != "0001" {
			t.Fatalf("%s: unexpected migrations %+v", dialect, migrations)
		}
	}
	if _, err := Load("postgres"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for unknown dialect, got %v", err)
	}
}

func TestApplySQLiteIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	at := time.Unix(1714564800, 0)
	applied, err := Apply(ctx, db, SQLite, func() time.Time { return at })
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0001" {
		t.Fatalf("unexpected applied versions %v", applied)
	}

	var recorded int64
	if err := db.QueryRowContext(ctx, `SELECT applied_at FROM schema_migrations WHERE version = '0001'`).Scan(&recorded); err != nil {
		t.Fatalf("read version table: %v", err)
	}
	if recorded != at.Unix() {
		t.Fatalf("unexpected applied_at %d", recorded)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO kv_entries (k, v, updated_at) VALUES ('a', x'00', 1)`); err != nil {
		t.Fatalf("kv_entries should exist: %v", err)
	}

	applied, err = Apply(ctx, db, SQLite, nil)
	if err != nil || len(applied) != 0 {
		t.Fatalf("second apply should be a no-op, got %v %v", applied, err)
	}
}

func TestSplitStatements(t *testing.T) {
	content := "-- header; with semicolon\nCREATE TABLE a (x INT);\n\n  ;\nCREATE INDEX i ON a (x);\n"
	got := SplitStatements(content)
	if len(got) != 2 || got[0] != "CREATE TABLE a (x INT)" || got[1] != "CREATE INDEX i ON a (x)" {
		t.Fatalf("unexpected statements %q", got)
	}
}

func TestVersionOf(t *testing.T) {
	cases := map[string]string{
		"0001_create_kv_entries.sql": "0001",
		"0002.sql":                   "0002",
		"plain":                      "plain",
	}
	for name, want := range cases {
		if got := VersionOf(name); got != want {
			t.Fatalf("VersionOf(%q) = %q, want %q", name, got, want)
		}
	}
}
