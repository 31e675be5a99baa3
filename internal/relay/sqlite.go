package relay

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/spaceshare/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps payloads in a SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	limit int
}

// OpenSQLite opens (or creates) the database at path and migrates it to the
// latest schema. ":memory:" gives a private in-memory database.
func OpenSQLite(path string, limit int) (*SQLiteStore, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// Every connection to ":memory:" is a separate database, and SQLite
	// allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db, path); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, limit: limit}, nil
}

func applyPragmas(db *sql.DB, path string) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m is not closed: that would close db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// SchemaVersion returns the applied migration version.
func (s *SQLiteStore) SchemaVersion() (uint, error) {
	var version uint
	var dirty bool
	err := s.db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err != nil {
		return 0, err
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO payloads (room, device_id, body, stored_at) VALUES (?, ?, ?, ?)`,
		rec.Room, rec.DeviceID, string(rec.Body), rec.StoredAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert payload: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM payloads
		WHERE room = ? AND payload_id NOT IN (
			SELECT payload_id FROM payloads WHERE room = ? ORDER BY payload_id DESC LIMIT ?
		)`, rec.Room, rec.Room, s.limit,
	); err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, room string) (Record, error) {
	recs, err := s.History(ctx, room, 1)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

func (s *SQLiteStore) History(ctx context.Context, room string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = s.limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, body, stored_at FROM payloads
		WHERE room = ?
		ORDER BY payload_id DESC
		LIMIT ?`, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec  Record
			body string
			ns   int64
		)
		if err := rows.Scan(&rec.DeviceID, &body, &ns); err != nil {
			return nil, err
		}
		rec.Room = room
		rec.Body = []byte(body)
		rec.StoredAt = time.Unix(0, ns).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
