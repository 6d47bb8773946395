// Package sqlite implements the credential store, group repository and
// profile repository on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// InitDB opens the SQLite database at dbPath and creates the tables.
func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName(dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	// Every connection to :memory: is a separate database
	if isMemory(dbPath) {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}

	return db, nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	-- Signed VC-JWTs keyed by credential uuid
	CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credentials_created_at ON credentials(created_at);

	-- Authorization groups
	CREATE TABLE IF NOT EXISTS user_groups (
		id TEXT PRIMARY KEY,
		display_name TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (group_id, user_id),
		FOREIGN KEY (group_id) REFERENCES user_groups(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members(user_id);

	-- OB 3.0 profiles keyed by owner email
	CREATE TABLE IF NOT EXISTS profiles (
		email TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to execute schema")
	}

	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}

// connectionPragmas are applied by the driver to every pooled connection.
var connectionPragmas = []string{
	"_foreign_keys=on",
	"_journal_mode=WAL",
	"_synchronous=NORMAL",
	"_busy_timeout=5000",
}

func dataSourceName(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + strings.Join(connectionPragmas, "&")
}

// CloseDB closes the database connection.
func CloseDB(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
