package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/spec-kit/queue-service/internal/config"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// sqliteReadConns sizes the read-only pool of a file-backed database.
const sqliteReadConns = 4

// SQLite wraps an embedded database used for single-node deployments. DB is
// the single writer connection; Read is a query-only pool that does not wait
// behind open units of work. In-memory databases share one handle.
type SQLite struct {
	DB   *sql.DB
	Read *sql.DB
}

// OpenSQLite opens (or creates) the database at cfg.Path and applies the
// embedded schema. Transactions begin IMMEDIATE and the writer pool holds a
// single connection, so every unit of work runs serialized.
func OpenSQLite(cfg config.SQLiteConfig, logger *zap.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	read := db
	if cfg.Path != ":memory:" {
		read, err = sql.Open("sqlite3", sqliteReadDSN(cfg.Path))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open sqlite reader: %w", err)
		}
		read.SetMaxOpenConns(sqliteReadConns)
		read.SetMaxIdleConns(sqliteReadConns)
	}

	if logger != nil {
		logger.Info("opened sqlite", zap.String("path", cfg.Path))
	}
	return &SQLite{DB: db, Read: read}, nil
}

func sqliteReadDSN(path string) string {
	return "file:" + path + "?_busy_timeout=5000&_foreign_keys=on&_query_only=true"
}

func sqliteDSN(path string) string {
	const params = "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	if path == ":memory:" {
		return "file::memory:?mode=memory&" + params
	}
	return "file:" + path + "?_journal_mode=WAL&_synchronous=NORMAL&" + params
}

// Close releases the database handles.
func (s *SQLite) Close() {
	if s == nil {
		return
	}
	if s.Read != nil && s.Read != s.DB {
		_ = s.Read.Close()
	}
	if s.DB != nil {
		_ = s.DB.Close()
	}
}

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("sqlite not configured")
	}
	return s.DB.PingContext(ctx)
}
