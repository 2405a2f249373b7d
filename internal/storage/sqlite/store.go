// Package sqlite provides a single-file store for local runs, backed by the
// pure-Go modernc SQLite driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 2

// connPragmas are applied by the driver on every new connection, so they hold
// even after database/sql recycles one.
const connPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Store runs crawler transactions against a SQLite file.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store.dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+connPragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite would otherwise report SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &Store{db: db, logger: logger.Named("sqlite")}, nil
}

// Migrate applies the schema and records its version.
func (s *Store) Migrate(ctx context.Context) error {
	return s.inTx(ctx, func(sqlTx *sql.Tx) error {
		if _, err := sqlTx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}

		var versionStr string
		err := sqlTx.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&versionStr)
		if errors.Is(err, sql.ErrNoRows) {
			if _, err := sqlTx.ExecContext(ctx,
				"INSERT INTO metadata(key, value) VALUES('schema_version', ?)", strconv.Itoa(schemaVersion),
			); err != nil {
				return fmt.Errorf("insert schema version: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			return fmt.Errorf("parse schema version: %w", err)
		}
		if version > schemaVersion {
			return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
		}
		if version < schemaVersion {
			if _, err := sqlTx.ExecContext(ctx,
				"UPDATE metadata SET value = ? WHERE key = 'schema_version'", strconv.Itoa(schemaVersion),
			); err != nil {
				return fmt.Errorf("update schema version: %w", err)
			}
			s.logger.Info("Upgraded schema", zap.Int("from", version), zap.Int("to", schemaVersion))
		}
		return nil
	})
}

// WithTx runs fn inside a transaction, committing only if it returns nil.
func (s *Store) WithTx(ctx context.Context, fn store.TxFunc) error {
	return s.inTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(ctx, &tx{tx: sqlTx})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(sqlTx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
