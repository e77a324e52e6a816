package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql" // Import MySQL driver for database/sql
	_ "github.com/jackc/pgx/v5/stdlib" // Import PostgreSQL driver for database/sql
	_ "modernc.org/sqlite"             // Import SQLite driver for database/sql

	"github.com/neogan74/quickkv/internal/codec"
	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/logger"
)

// sqlDialect captures the statements that differ between SQL engines
type sqlDialect struct {
	backend    string
	driverName string
	quote      func(string) string
	bind       func(n int) string
	columns    string
	upsert     string
	pragmas    []string
}

var (
	sqliteDialect = sqlDialect{
		backend:    DriverSQLite,
		driverName: "sqlite",
		quote:      doubleQuote,
		bind:       func(int) string { return "?" },
		columns:    "id TEXT PRIMARY KEY, value TEXT NOT NULL, type TEXT NOT NULL, ttl INTEGER",
		upsert:     "ON CONFLICT(id) DO UPDATE SET value=excluded.value, type=excluded.type, ttl=excluded.ttl",
		// journal_mode is stored in the database file; per-connection
		// pragmas travel in the DSN, see sqliteDSN
		pragmas: []string{"PRAGMA journal_mode=WAL;"},
	}

	postgresDialect = sqlDialect{
		backend:    DriverPostgres,
		driverName: "pgx",
		quote:      doubleQuote,
		bind:       func(n int) string { return fmt.Sprintf("$%d", n) },
		columns:    "id TEXT PRIMARY KEY, value TEXT NOT NULL, type TEXT NOT NULL, ttl BIGINT",
		upsert:     "ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value, type = EXCLUDED.type, ttl = EXCLUDED.ttl",
	}

	mysqlDialect = sqlDialect{
		backend:    DriverMySQL,
		driverName: "mysql",
		quote:      func(s string) string { return "`" + s + "`" },
		bind:       func(int) string { return "?" },
		columns:    "id VARBINARY(1024) NOT NULL PRIMARY KEY, value LONGTEXT NOT NULL, type VARCHAR(16) NOT NULL, ttl BIGINT NULL",
		upsert:     "ON DUPLICATE KEY UPDATE value = VALUES(value), type = VALUES(type), ttl = VALUES(ttl)",
	}
)

func doubleQuote(s string) string { return `"` + s + `"` }

// SQLBackend stores a table in a relational database through database/sql
type SQLBackend struct {
	dialect sqlDialect
	dsn     string
	table   string
	log     logger.Logger
	db      *sql.DB

	stmtGet    string
	stmtSet    string
	stmtDelete string
	stmtClear  string
	stmtHas    string
	stmtAll    string
}

// NewSQLiteBackend creates a SQLite backend. dsn is a file path or SQLite URI.
func NewSQLiteBackend(dsn, table string, log logger.Logger) *SQLBackend {
	return newSQLBackend(sqliteDialect, sqliteDSN(dsn), table, log)
}

// NewPostgresBackend creates a PostgreSQL backend
func NewPostgresBackend(dsn, table string, log logger.Logger) *SQLBackend {
	return newSQLBackend(postgresDialect, dsn, table, log)
}

// NewMySQLBackend creates a MySQL backend
func NewMySQLBackend(dsn, table string, log logger.Logger) *SQLBackend {
	return newSQLBackend(mysqlDialect, dsn, table, log)
}

func newSQLBackend(d sqlDialect, dsn, table string, log logger.Logger) *SQLBackend {
	t := d.quote(table)
	return &SQLBackend{
		dialect: d,
		dsn:     dsn,
		table:   table,
		log:     logger.OrDefault(log).WithFields(logger.String("table", table)),

		stmtGet: fmt.Sprintf("SELECT value, type, ttl FROM %s WHERE id = %s", t, d.bind(1)),
		stmtSet: fmt.Sprintf("INSERT INTO %s (id, value, type, ttl) VALUES (%s, %s, %s, %s) %s",
			t, d.bind(1), d.bind(2), d.bind(3), d.bind(4), d.upsert),
		stmtDelete: fmt.Sprintf("DELETE FROM %s WHERE id = %s", t, d.bind(1)),
		stmtClear:  fmt.Sprintf("DELETE FROM %s", t),
		stmtHas:    fmt.Sprintf("SELECT 1 FROM %s WHERE id = %s", t, d.bind(1)),
		stmtAll:    fmt.Sprintf("SELECT id, value, type, ttl FROM %s", t),
	}
}

func (s *SQLBackend) Name() string { return s.dialect.backend }

func (s *SQLBackend) Connect(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	db, err := sql.Open(s.dialect.driverName, s.dsn)
	if err != nil {
		return s.wrap("connect", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return s.wrap("connect", err)
	}

	for _, p := range s.dialect.pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return s.wrap("connect", fmt.Errorf("set %s: %w", p, err))
		}
	}

	schema := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.dialect.quote(s.table), s.dialect.columns)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return s.wrap("connect", err)
	}

	s.db = db
	s.log.Info("SQL backend connected", logger.String("driver", s.dialect.backend))
	return nil
}

func (s *SQLBackend) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return s.wrap("close", err)
}

func (s *SQLBackend) Set(ctx context.Context, key string, e Entry) error {
	db, err := s.conn("set")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, s.stmtSet, key, e.Value, string(e.Type), nullTTL(e.TTL))
	return s.wrap("set", err)
}

func (s *SQLBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		e   Entry
		typ string
		ttl sql.NullInt64
	)
	db, err := s.conn("get")
	if err != nil {
		return Entry{}, false, err
	}
	err = db.QueryRowContext(ctx, s.stmtGet, key).Scan(&e.Value, &typ, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, s.wrap("get", err)
	}
	e.Type = codec.TypeTag(typ)
	e.TTL = ttlPtr(ttl)
	return e, true, nil
}

func (s *SQLBackend) Delete(ctx context.Context, key string) error {
	db, err := s.conn("delete")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, s.stmtDelete, key)
	return s.wrap("delete", err)
}

func (s *SQLBackend) Clear(ctx context.Context) error {
	db, err := s.conn("clear")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, s.stmtClear)
	return s.wrap("clear", err)
}

func (s *SQLBackend) Has(ctx context.Context, key string) (bool, error) {
	db, err := s.conn("has")
	if err != nil {
		return false, err
	}
	var one int
	err = db.QueryRowContext(ctx, s.stmtHas, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, s.wrap("has", err)
	}
	return true, nil
}

func (s *SQLBackend) All(ctx context.Context) ([]Item, error) {
	db, err := s.conn("all")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, s.stmtAll)
	if err != nil {
		return nil, s.wrap("all", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it  Item
			typ string
			ttl sql.NullInt64
		)
		if err := rows.Scan(&it.Key, &it.Value, &typ, &ttl); err != nil {
			return nil, s.wrap("all", err)
		}
		it.Type = codec.TypeTag(typ)
		it.TTL = ttlPtr(ttl)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("all", err)
	}

	// Collations differ between engines; callers expect byte order
	sortItems(items)
	return items, nil
}

func (s *SQLBackend) conn(op string) (*sql.DB, error) {
	if s.db == nil {
		return nil, kverrors.Backend(s.dialect.backend, op, kverrors.ErrClosed)
	}
	return s.db, nil
}

func (s *SQLBackend) wrap(op string, err error) error {
	return kverrors.Backend(s.dialect.backend, op, err)
}

func nullTTL(ttl *int64) sql.NullInt64 {
	if ttl == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ttl, Valid: true}
}

func ttlPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// sqliteConnPragmas run on every connection the pool opens
var sqliteConnPragmas = []string{"busy_timeout(5000)", "synchronous(FULL)"}

// sqliteDSN turns a path or URI into a file URI carrying the per-connection
// pragmas. Pragmas already present in dsn are left alone.
func sqliteDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	for _, p := range sqliteConnPragmas {
		name, _, _ := strings.Cut(p, "(")
		if strings.Contains(dsn, "_pragma="+name) {
			continue
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=" + p
	}
	return dsn
}
