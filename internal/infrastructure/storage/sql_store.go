package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"OutreachEngine/internal/infrastructure/storage/migrations"
	"OutreachEngine/internal/ports"
)

const (
	kvTable  = "kv_entries"
	logTable = "event_log"

	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// SQLStore implements ports.Store on a single key/value table plus an append-only event table.
type SQLStore struct {
	db      *sql.DB
	dialect string
	sb      sq.StatementBuilderType
	now     func() time.Time
}

var _ ports.Store = (*SQLStore)(nil)

// Open connects to the database, applies migrations and returns a ready store.
func Open(ctx context.Context, dialect, dsn string) (*SQLStore, error) {
	driverName, err := driverFor(dialect)
	if err != nil {
		return nil, err
	}

	if dialect == DialectSQLite {
		dsn = withSQLitePragmas(dsn)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// One writer keeps SQLite from returning SQLITE_BUSY inside transactions.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	store := NewSQLStore(db, dialect)
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewSQLStore wraps an existing sql.DB whose schema is already migrated.
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	var format sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		format = sq.Dollar
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(format),
		now:     time.Now,
	}
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) migrate() error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	var driver database.Driver
	switch s.dialect {
	case DialectPostgres:
		driver, err = migratepg.WithInstance(s.db, &migratepg.Config{})
	case DialectSQLite:
		driver, err = migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	default:
		err = fmt.Errorf("unsupported dialect %s", s.dialect)
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, s.dialect, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Get returns the value stored under key or ports.ErrNotFound.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, s.db, key, false)
}

// Set upserts key.
func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	return s.set(ctx, s.db, key, value)
}

// Insert writes key only if it does not exist yet.
func (s *SQLStore) Insert(ctx context.Context, key string, value []byte) (bool, error) {
	query, args, err := s.sb.Insert(kvTable).
		Columns("entry_key", "entry_value", "updated_at").
		Values(key, string(value), s.now().UnixNano()).
		Suffix("ON CONFLICT (entry_key) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert %s rows affected: %w", key, err)
	}
	return n > 0, nil
}

// Delete removes key; deleting an absent key is not an error.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.delete(ctx, s.db, key)
}

// Scan returns every entry whose key starts with prefix, ordered by key.
func (s *SQLStore) Scan(ctx context.Context, prefix string) ([]ports.Entry, error) {
	query, args, err := s.sb.Select("entry_key", "entry_value").
		From(kvTable).
		Where(sq.Expr("substr(entry_key, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix)).
		OrderBy("entry_key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build scan: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer rows.Close()

	var entries []ports.Entry
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		entries = append(entries, ports.Entry{Key: key, Value: []byte(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return entries, nil
}

// AppendLog adds an immutable event record.
func (s *SQLStore) AppendLog(ctx context.Context, event string, payload []byte) error {
	return s.appendLog(ctx, s.db, event, payload)
}

// ReadLog returns events named event (all events when empty) in insertion order.
func (s *SQLStore) ReadLog(ctx context.Context, event string) ([]ports.LogEntry, error) {
	builder := s.sb.Select("id", "event", "payload", "created_at").From(logTable).OrderBy("created_at", "id")
	if event != "" {
		builder = builder.Where(sq.Eq{"event": event})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build read log: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer rows.Close()

	var entries []ports.LogEntry
	for rows.Next() {
		var (
			entry   ports.LogEntry
			payload string
			created int64
		)
		if err := rows.Scan(&entry.ID, &entry.Event, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		entry.Payload = []byte(payload)
		entry.At = time.Unix(0, created).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return entries, nil
}

// Update runs fn inside a database transaction.
func (s *SQLStore) Update(ctx context.Context, fn func(tx ports.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&sqlTx{ctx: ctx, store: s, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// get reads one value. forUpdate locks the row on postgres so a concurrent
// transaction reading the same key waits for this one to finish.
func (s *SQLStore) get(ctx context.Context, db queryer, key string, forUpdate bool) ([]byte, error) {
	builder := s.sb.Select("entry_value").From(kvTable).Where(sq.Eq{"entry_key": key})
	if forUpdate && s.dialect == DialectPostgres {
		builder = builder.Suffix("FOR UPDATE")
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get: %w", err)
	}

	var value string
	if err := db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return []byte(value), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) set(ctx context.Context, db execer, key string, value []byte) error {
	query, args, err := s.sb.Insert(kvTable).
		Columns("entry_key", "entry_value", "updated_at").
		Values(key, string(value), s.now().UnixNano()).
		Suffix("ON CONFLICT (entry_key) DO UPDATE SET entry_value = excluded.entry_value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build set: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) delete(ctx context.Context, db execer, key string) error {
	query, args, err := s.sb.Delete(kvTable).Where(sq.Eq{"entry_key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) appendLog(ctx context.Context, db execer, event string, payload []byte) error {
	query, args, err := s.sb.Insert(logTable).
		Columns("id", "event", "payload", "created_at").
		Values(uuid.NewString(), event, string(payload), s.now().UnixNano()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build append log: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append log %s: %w", event, err)
	}
	return nil
}

type sqlTx struct {
	ctx   context.Context
	store *SQLStore
	tx    *sql.Tx
}

func (t *sqlTx) Get(key string) ([]byte, error) {
	return t.store.get(t.ctx, t.tx, key, true)
}

func (t *sqlTx) Set(key string, value []byte) error {
	return t.store.set(t.ctx, t.tx, key, value)
}

func (t *sqlTx) Delete(key string) error {
	return t.store.delete(t.ctx, t.tx, key)
}

func (t *sqlTx) AppendLog(event string, payload []byte) error {
	return t.store.appendLog(t.ctx, t.tx, event, payload)
}

func driverFor(dialect string) (string, error) {
	switch dialect {
	case DialectPostgres:
		return "postgres", nil
	case DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported store dialect %q", dialect)
	}
}

func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}
