// Package migrations holds the embedded schema for every supported SQL dialect.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed sql/postgres/*.sql sql/sqlite/*.sql
var files embed.FS

// Dialects supported by Apply.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Statements returns every schema statement for dialect in application order.
func Statements(dialect string) ([]string, error) {
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	dir := "sql/" + dialect
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var stmts []string
	for _, name := range names {
		data, err := files.ReadFile(dir + "/" + name)
		if err != nil {
			return nil, err
		}
		for _, stmt := range strings.Split(string(data), ";") {
			if trimmed := strings.TrimSpace(stmt); trimmed != "" {
				stmts = append(stmts, trimmed)
			}
		}
	}
	return stmts, nil
}

// Apply executes the schema for dialect against db. Every statement is
// idempotent so Apply may run on each start.
func Apply(ctx context.Context, db *sql.DB, dialect string) error {
	stmts, err := Statements(dialect)
	if err != nil {
		return err
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i+1, err)
		}
	}
	return nil
}
