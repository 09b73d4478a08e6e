// Package sqlStore keeps the relational half of the document store: documents, knowledge bases,
// share grants and credit balances. Chunk vectors live in the vector index.
package sqlStore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/akolanti/kbchat/pkg/logger_i"
	_ "modernc.org/sqlite"
)

type Store struct {
	db     *sql.DB
	logger *logger_i.Logger
}

// NewStore opens (or creates) the sqlite database at path and applies the schema.
func NewStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, logger: logger_i.NewLogger("SQL Store")}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	s.logger.Info("SQL store ready", "path", path)
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CloseOnDone closes the database once ctx is cancelled.
func (s *Store) CloseOnDone(ctx context.Context) {
	<-ctx.Done()
	s.logger.Info("Closing SQL store")
	if err := s.Close(); err != nil {
		s.logger.Error("could not close SQL store", "error", err)
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		knowledge_base_id TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		is_kb_doc INTEGER NOT NULL DEFAULT 0,
		source_url TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id, active, is_kb_doc)`,
	// inactive rows may repeat a title, so only active rows are unique
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_active_title ON documents(owner_id, title) WHERE active = 1`,
	`CREATE TABLE IF NOT EXISTS knowledge_bases (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_public INTEGER NOT NULL DEFAULT 0,
		allow_embedding INTEGER NOT NULL DEFAULT 0,
		instruction TEXT NOT NULL DEFAULT '',
		is_pinned INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_kb_owner ON knowledge_bases(owner_id)`,
	`CREATE TABLE IF NOT EXISTS knowledge_base_documents (
		document_id TEXT PRIMARY KEY,
		knowledge_base_id TEXT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
		position INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_kb_documents_kb ON knowledge_base_documents(knowledge_base_id, position)`,
	`CREATE TABLE IF NOT EXISTS knowledge_base_shares (
		knowledge_base_id TEXT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
		email TEXT NOT NULL,
		PRIMARY KEY (knowledge_base_id, email)
	)`,
	`CREATE TABLE IF NOT EXISTS credits (
		owner_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0)
	)`,
}

func (s *Store) runMigrations(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for i, stmt := range migrations {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
