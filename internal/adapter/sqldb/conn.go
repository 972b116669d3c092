// Package sqldb opens survey databases from SQLAlchemy-style URLs and runs
// ingestion queries into in-memory tables.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/field-survey-etl/internal/domain"
)

var (
	// ErrConnection is returned when the database cannot be opened or reached.
	ErrConnection = errors.New("database connection failed")

	// ErrQuery is returned when the ingestion query fails or its result cannot
	// be turned into a table.
	ErrQuery = errors.New("database query failed")

	errUnsupportedScheme = errors.New("unsupported database scheme")
)

// target is a resolved database/sql driver name and DSN.
type target struct {
	driver string
	dsn    string
	// file is set for SQLite databases backed by a file on disk.
	file string
}

// resolver turns a parsed database URL into a driver target.
type resolver func(raw string, u *url.URL) (target, error)

// resolvers is keyed by URL scheme with any "+driver" suffix removed, so
// "postgresql+psycopg2://" resolves like "postgresql://".
var resolvers = map[string]resolver{
	"sqlite":     resolveSQLite,
	"sqlite3":    resolveSQLite,
	"postgres":   resolvePostgres,
	"postgresql": resolvePostgres,
	"mysql":      resolveMySQL,
}

// Connector opens survey databases. It implements pipeline.Connector.
type Connector struct {
	logger *slog.Logger
}

// NewConnector creates a Connector.
func NewConnector(logger *slog.Logger) *Connector {
	return &Connector{logger: logger}
}

// Connect opens the database at path and verifies it is reachable.
func (c *Connector) Connect(ctx context.Context, path string) (*Conn, error) {
	tgt, err := resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if tgt.file != "" {
		if _, err := os.Stat(tgt.file); err != nil {
			return nil, fmt.Errorf("%w: sqlite database %q: %w", ErrConnection, tgt.file, err)
		}
	}

	db, err := sql.Open(tgt.driver, tgt.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to open %s database: %w", ErrConnection, tgt.driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: unable to reach %s database: %w", ErrConnection, tgt.driver, err)
	}

	c.logger.Debug("database connected", "driver", tgt.driver)
	return NewConn(db), nil
}

// resolve maps a database path to a driver and DSN. Paths without a scheme are
// SQLite files.
func resolve(path string) (target, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return target{}, errors.New("empty database path")
	}
	if !strings.Contains(path, "://") {
		return target{driver: "sqlite", dsn: path, file: path}, nil
	}

	u, err := url.Parse(path)
	if err != nil {
		return target{}, fmt.Errorf("parse database path: %w", err)
	}
	scheme, _, _ := strings.Cut(strings.ToLower(u.Scheme), "+")
	r, ok := resolvers[scheme]
	if !ok {
		return target{}, fmt.Errorf("%w: %q", errUnsupportedScheme, u.Scheme)
	}
	return r(path, u)
}

// resolveSQLite follows SQLAlchemy: "sqlite:///rel.db" is relative,
// "sqlite:////abs.db" is absolute, and "sqlite://" is in-memory.
func resolveSQLite(raw string, _ *url.URL) (target, error) {
	_, rest, _ := strings.Cut(raw, "://")
	rest = strings.TrimPrefix(rest, "/")
	file, query, _ := strings.Cut(rest, "?")
	if file == "" || file == ":memory:" {
		return target{driver: "sqlite", dsn: ":memory:"}, nil
	}
	dsn := file
	if query != "" {
		dsn = "file:" + file + "?" + query
	}
	return target{driver: "sqlite", dsn: dsn, file: file}, nil
}

func resolvePostgres(_ string, u *url.URL) (target, error) {
	pu := *u
	pu.Scheme = "postgres"
	return target{driver: "postgres", dsn: pu.String()}, nil
}

func resolveMySQL(_ string, u *url.URL) (target, error) {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	if u.Host == "" {
		return target{}, errors.New("mysql database path needs a host")
	}
	return target{driver: "mysql", dsn: cfg.FormatDSN()}, nil
}

// Conn is an open survey database handle. It implements pipeline.Querier.
type Conn struct {
	db *sql.DB
}

// NewConn wraps an already opened database.
func NewConn(db *sql.DB) *Conn {
	return &Conn{db: db}
}

// Close releases the underlying connection pool.
func (c *Conn) Close() error {
	return c.db.Close()
}

// Query runs query and loads the full result set into a table.
func (c *Conn) Query(ctx context.Context, query string) (*domain.Table, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	defer rows.Close()

	tbl, err := scanTable(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return tbl, nil
}
