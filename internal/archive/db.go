// Package archive keeps a local sqlite copy of synced conversations and
// messages. It is write-through from bus events and read back only as a
// best-effort page source when the network history path is down.
package archive

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite connection for the app-owned archive.db.
type DB struct {
	*sql.DB
}

// Open creates a sqlite connection with WAL mode and busy timeout set.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive db: %w", err)
	}
	return &DB{db}, nil
}
