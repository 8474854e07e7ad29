// Package sqlite stores exported run tables in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	rowbatch "github.com/vivaneiona/genkit-rowbatch"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database connection.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite file at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer only
	conn.SetMaxOpenConns(1)
	return &Store{conn: conn}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// WriteTable replaces the table named t.Name with t's rows. Every column is
// stored as TEXT in table order.
func (s *Store) WriteTable(ctx context.Context, t *rowbatch.Table) error {
	if t.Name == "" {
		return fmt.Errorf("write table: name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("write table %s: no columns", t.Name)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	table := quoteIdent(t.Name)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("drop %s: %w", t.Name, err)
	}

	defs := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		defs[i] = quoteIdent(col) + " TEXT"
		marks[i] = "?"
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create %s: %w", t.Name, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", t.Name, err)
	}
	defer stmt.Close()

	args := make([]any, len(t.Columns))
	for n, row := range t.Rows {
		for i := range args {
			args[i] = ""
			if i < len(row) {
				args[i] = row[i]
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s row %d: %w", t.Name, n, err)
		}
	}
	return tx.Commit()
}

// ReadTable loads a table written by WriteTable.
func (s *Store) ReadTable(ctx context.Context, name string) (*rowbatch.Table, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT * FROM "+quoteIdent(name)+" ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	t := &rowbatch.Table{Name: name, Columns: cols}
	for rows.Next() {
		cells := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		row := make([]string, len(cols))
		for i, c := range cells {
			row[i] = c.String
		}
		t.Rows = append(t.Rows, row)
	}
	return t, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
