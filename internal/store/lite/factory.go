// Package lite implements the storage contracts on sqlite (standalone mode).
package lite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/parleyhq/parley/internal/store"
)

// OpenDB opens the standalone sqlite database with WAL enabled.
// A single connection sidesteps SQLITE_BUSY under concurrent turns; per-statement
// atomicity is what the claim protocol needs and sqlite provides it.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by sqlite.
func NewStores(cfg store.Config) (*store.Stores, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "parley.db"
	}
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	s := &store.Stores{
		Conversations: NewConversationStore(db),
		Messages:      NewMessageStore(db),
		ToolServers:   NewToolServerStore(db),
		Credentials:   NewCredentialStore(db),
	}
	s.SetCloser(db.Close)
	return s, nil
}
