package storage

import (
	"database/sql"
	"fmt"
	"regexp"
	"sync"

	"ledgerdb/pkg/common"

	_ "modernc.org/sqlite"
)

var tableNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// SQLiteExporter copies ledger tables into a SQLite database, one SQL table
// per ledger table holding the raw key and payload.
type SQLiteExporter struct {
	db *sql.DB
	mu sync.Mutex
}

func OpenSQLite(path string) (*SQLiteExporter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite %s: %w", path, err)
	}
	return &SQLiteExporter{db: db}, nil
}

func quoteTable(name string) (string, error) {
	if !tableNameRe.MatchString(name) {
		return "", fmt.Errorf("sqlite: invalid table name %q", name)
	}
	return `"` + name + `"`, nil
}

// ExportTable replaces the contents of the SQL table name with records in a
// single transaction.
func (s *SQLiteExporter) ExportTable(name string, records []common.Record) error {
	tbl, err := quoteTable(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS ` + tbl + ` (key INTEGER PRIMARY KEY, value BLOB)`); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := tx.Exec(`DELETE FROM ` + tbl); err != nil {
		return fmt.Errorf("clear %s: %w", name, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO ` + tbl + ` (key, value) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(int64(rec.Key), []byte(rec.Value)); err != nil {
			return fmt.Errorf("insert %s/%d: %w", name, rec.Key, err)
		}
	}
	return tx.Commit()
}

// LoadTable reads back an exported table in key order.
func (s *SQLiteExporter) LoadTable(name string) ([]common.Record, error) {
	tbl, err := quoteTable(name)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT key, value FROM ` + tbl + ` ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []common.Record
	for rows.Next() {
		var k int64
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		records = append(records, common.Record{Key: common.KeyType(k), Value: v})
	}
	return records, rows.Err()
}

func (s *SQLiteExporter) Close() error {
	return s.db.Close()
}
