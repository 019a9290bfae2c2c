package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ezachrisen/ruleswp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxConn is the subset of *pgxpool.Pool and *pgx.Conn used by
// PostgresSource.
type PgxConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSource reads definitions from a PostgreSQL table with the columns
// name and definition.
type PostgresSource struct {
	db    PgxConn
	table string
}

var _ ruleswp.Source = (*PostgresSource)(nil)

// NewPostgresSource creates a source reading from the table. An empty table
// name means DefaultTable.
func NewPostgresSource(db PgxConn, table string) *PostgresSource {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableRx.MatchString(table) {
		panic(fmt.Sprintf("store: invalid table name '%s'", table))
	}
	return &PostgresSource{db: db, table: table}
}

// Migrate creates the table if it does not exist.
func (s *PostgresSource) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name       TEXT PRIMARY KEY,
			definition TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table)

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresSource) Definition(ctx context.Context, name string) (*ruleswp.Definition, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT definition FROM %s WHERE name = $1`, s.table)

	var data string
	err := s.db.QueryRow(ctx, query, name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading rule set %s: %w", name, err)
	}
	return decode(name, []byte(data))
}

// Put stores the definition, replacing any definition with the same name.
func (s *PostgresSource) Put(ctx context.Context, def *ruleswp.Definition) error {
	data, err := encode(def)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (name, definition) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET definition = EXCLUDED.definition, updated_at = now()`,
		s.table)

	if _, err := s.db.Exec(ctx, query, def.Name, string(data)); err != nil {
		return fmt.Errorf("storing rule set %s: %w", def.Name, err)
	}
	return nil
}
