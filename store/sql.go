package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/ezachrisen/ruleswp"
)

// DefaultTable is the table definitions are stored in.
const DefaultTable = "rule_sets"

var tableRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLSource reads definitions from a table with the columns name and
// definition, through database/sql. Queries use ? placeholders, as SQLite
// and MySQL drivers expect.
type SQLSource struct {
	db    *sql.DB
	table string
}

var _ ruleswp.Source = (*SQLSource)(nil)

// NewSQLSource creates a source reading from the table. An empty table name
// means DefaultTable.
func NewSQLSource(db *sql.DB, table string) (*SQLSource, error) {
	if db == nil {
		return nil, fmt.Errorf("sql source: database cannot be nil")
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableRx.MatchString(table) {
		return nil, fmt.Errorf("sql source: invalid table name '%s'", table)
	}
	return &SQLSource{db: db, table: table}, nil
}

// Migrate creates the table if it does not exist.
func (s *SQLSource) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name       TEXT PRIMARY KEY,
			definition TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

func (s *SQLSource) Definition(ctx context.Context, name string) (*ruleswp.Definition, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT definition FROM %s WHERE name = ?`, s.table)

	var data string
	err := s.db.QueryRowContext(ctx, query, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading rule set %s: %w", name, err)
	}
	return decode(name, []byte(data))
}

// Put stores the definition, replacing any definition with the same name.
func (s *SQLSource) Put(ctx context.Context, def *ruleswp.Definition) error {
	data, err := encode(def)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (name, definition, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE SET definition = excluded.definition, updated_at = excluded.updated_at`,
		s.table)

	if _, err := s.db.ExecContext(ctx, query, def.Name, string(data)); err != nil {
		return fmt.Errorf("storing rule set %s: %w", def.Name, err)
	}
	return nil
}
