package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect covers the differences between the supported SQL drivers.
type Dialect struct {
	Driver string
	dollar bool
}

var (
	Postgres = Dialect{Driver: "postgres", dollar: true}
	SQLite   = Dialect{Driver: "sqlite"}
)

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d.dollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// insertBatchRows keeps a multi-row INSERT under every driver's bind limit.
const insertBatchRows = 500

// insertColumns is the seven row fields plus raw_line.
const insertColumns = rowFields + 1

// SQLStore keeps the snapshot in the vessel_positions table.
// Replace runs inside one transaction.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	log     zerolog.Logger
}

func NewSQLStore(db *sql.DB, dialect Dialect, log zerolog.Logger) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, log: log}
}

// OpenPostgres connects with lib/pq and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string, log zerolog.Logger) (*SQLStore, error) {
	db, err := ConnectPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return migrated(ctx, db, Postgres, log)
}

// OpenSQLite opens (or creates) the database file at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*SQLStore, error) {
	db, err := ConnectSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return migrated(ctx, db, SQLite, log)
}

// ConnectPostgres opens and pings a Postgres pool without touching the schema.
func ConnectPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(Postgres.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return pinged(ctx, db, Postgres)
}

// ConnectSQLite opens (or creates) the database file without touching the schema.
func ConnectSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open(SQLite.Driver, fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return pinged(ctx, db, SQLite)
}

func pinged(ctx context.Context, db *sql.DB, dialect Dialect) (*sql.DB, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Driver, err)
	}
	return db, nil
}

func migrated(ctx context.Context, db *sql.DB, dialect Dialect, log zerolog.Logger) (*SQLStore, error) {
	if err := NewMigrator(db, dialect, log).Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return NewSQLStore(db, dialect, log), nil
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vessel_id, vessel_name, longitude, latitude, direction, speed, report_time, raw_line
		FROM vessel_positions
	`)
	if err != nil {
		return nil, fmt.Errorf("query vessel_positions: %w", err)
	}
	defer rows.Close()

	snap := make(Snapshot)
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Name, &r.Longitude, &r.Latitude, &r.Direction, &r.Speed, &r.Timestamp, &r.Raw); err != nil {
			return nil, fmt.Errorf("scan vessel_positions: %w", err)
		}
		snap[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vessel_positions: %w", err)
	}
	return snap, nil
}

// Replace deletes every row and inserts snap in its place, in one transaction.
func (s *SQLStore) Replace(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vessel_positions`); err != nil {
		return fmt.Errorf("clear vessel_positions: %w", err)
	}

	rows := snap.SortedRows()
	for start := 0; start < len(rows); start += insertBatchRows {
		end := min(start+insertBatchRows, len(rows))
		if err := s.insertBatch(ctx, tx, rows[start:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// insertBatch writes rows with one multi-row INSERT.
func (s *SQLStore) insertBatch(ctx context.Context, tx *sql.Tx, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO vessel_positions
		(vessel_id, vessel_name, longitude, latitude, direction, speed, report_time, raw_line)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*insertColumns)

	for i, r := range rows {
		base := i * insertColumns
		ph := make([]string, insertColumns)
		for j := range ph {
			ph[j] = s.dialect.Placeholder(base + j + 1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args, r.ID, r.Name, r.Longitude, r.Latitude, r.Direction, r.Speed, r.Timestamp, r.Raw)
	}

	query += strings.Join(values, ", ")

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert vessel_positions: %w", err)
	}
	return nil
}
