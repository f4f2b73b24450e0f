// Package model stores trained model artifacts. An artifact is a single
// SQLite file holding string settings (detector name, resolved parameter
// strings, selected grid values) and the serialized classifier weights.
package model

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// Mode selects how an artifact is opened.
type Mode string

const (
	// Append creates the artifact if missing and allows writes.
	Append Mode = "a"
	// Read requires the artifact to exist and rejects writes.
	Read Mode = "r"
)

var (
	ErrNoSuchKey = errors.New("no such key")
	ErrReadOnly  = errors.New("model opened read-only")
)

// Model is an open artifact handle. Writes accumulate in a transaction
// until Save; closing without saving discards them.
type Model struct {
	db   *sql.DB
	tx   *sql.Tx
	path string
	mode Mode
}

// Open opens a model artifact at path.
func Open(path string, mode Mode) (*Model, error) {
	switch mode {
	case Append, Read:
	default:
		return nil, fmt.Errorf("invalid model mode %q", mode)
	}
	if mode == Read {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open model %s: %w", path, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?cache=shared", path)
	if mode == Read {
		dsn += "&mode=ro"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", path, err)
	}
	m := &Model{db: conn, path: path, mode: mode}
	if mode == Append {
		if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS settings (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`); err != nil {
			conn.Close()
			return nil, fmt.Errorf("init model %s: %w", path, err)
		}
		tx, err := conn.Begin()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("init model %s: %w", path, err)
		}
		m.tx = tx
	}
	return m, nil
}

// Path returns the artifact location.
func (m *Model) Path() string { return m.path }

// AddStr binds a setting, replacing any previous value. The write lands
// on disk at the next Save.
func (m *Model) AddStr(name, value string) error {
	if m.mode != Append {
		return ErrReadOnly
	}
	_, err := m.tx.Exec(`INSERT INTO settings(name, value) VALUES(?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	if err != nil {
		return fmt.Errorf("model %s: add %s: %w", m.path, name, err)
	}
	return nil
}

// GetStr reads a setting. A missing key is ErrNoSuchKey.
func (m *Model) GetStr(name string) (string, error) {
	var value string
	var err error
	if m.tx != nil {
		err = m.tx.QueryRow(`SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	} else {
		err = m.db.QueryRow(`SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("model %s: %q: %w", m.path, name, ErrNoSuchKey)
	}
	if err != nil {
		return "", fmt.Errorf("model %s: get %s: %w", m.path, name, err)
	}
	return value, nil
}

// Keys lists the stored setting names.
func (m *Model) Keys() ([]string, error) {
	var rows *sql.Rows
	var err error
	if m.tx != nil {
		rows, err = m.tx.Query(`SELECT name FROM settings ORDER BY name`)
	} else {
		rows, err = m.db.Query(`SELECT name FROM settings ORDER BY name`)
	}
	if err != nil {
		return nil, fmt.Errorf("model %s: keys: %w", m.path, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Save commits accumulated writes and starts a new transaction.
func (m *Model) Save() error {
	if m.mode != Append {
		return ErrReadOnly
	}
	if err := m.tx.Commit(); err != nil {
		return fmt.Errorf("save model %s: %w", m.path, err)
	}
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("save model %s: %w", m.path, err)
	}
	m.tx = tx
	return nil
}

// Close releases the handle, discarding unsaved writes.
func (m *Model) Close() error {
	if m.tx != nil {
		m.tx.Rollback()
		m.tx = nil
	}
	return m.db.Close()
}
