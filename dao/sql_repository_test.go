//go:build cgo

package dao

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/db"
)

func openSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", filepath.Join(t.TempDir(), "threads.db"))
	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second run must be a no-op
	if err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	return conn
}

func TestSQLiteThreadRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) ThreadRepository {
		return NewSQLThreadRepository(openSQLite(t), SQLite)
	})
}
