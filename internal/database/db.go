// Package database is the MySQL gateway shared by every endpoint. Each
// request opens exactly one connection, selects its schema explicitly and
// closes it again; nothing is pooled across requests.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/lmeve2/internal/settings"
)

const connectTimeout = 5 * time.Second

// schemaName limits what may be interpolated into USE; identifiers cannot be bound as parameters.
var schemaName = regexp.MustCompile(`^[A-Za-z0-9_$-]{1,64}$`)

// Opener opens a request-scoped connection with its schema already selected.
type Opener interface {
	Open(ctx context.Context, cfg settings.DBConfig) (*Conn, error)
}

// MySQL is the production Opener.
type MySQL struct{}

// Open connects and then selects cfg.Database. Failures come back as *Error.
func (MySQL) Open(ctx context.Context, cfg settings.DBConfig) (*Conn, error) {
	c, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.SelectSchema(ctx, cfg.Database); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Conn is a single server connection owned by one request.
type Conn struct {
	db   *sql.DB
	conn *sql.Conn
}

// Config builds the driver configuration for cfg without a schema.
func Config(cfg settings.DBConfig) *mysql.Config {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Addr()
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Timeout = connectTimeout
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc
}

// Connect dials the server without selecting a schema.
func Connect(ctx context.Context, cfg settings.DBConfig) (*Conn, error) {
	connector, err := mysql.NewConnector(Config(cfg))
	if err != nil {
		return nil, AsError(StageConnect, err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	c, err := Wrap(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Wrap pins one connection of db. Closing the result closes db as well.
func Wrap(ctx context.Context, db *sql.DB) (*Conn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, AsError(StageConnect, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, AsError(StageConnect, err)
	}
	return &Conn{db: db, conn: conn}, nil
}

// SelectSchema switches the connection to name.
func (c *Conn) SelectSchema(ctx context.Context, name string) error {
	if !schemaName.MatchString(name) {
		return &Error{Stage: StageSelectDB, Message: fmt.Sprintf("invalid database name %q", name)}
	}
	if _, err := c.conn.ExecContext(ctx, "USE `"+name+"`"); err != nil {
		return AsError(StageSelectDB, err)
	}
	return nil
}

// ExecContext runs a statement on the pinned connection.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the pinned connection.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the pinned connection.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

// ServerVersion reports SELECT VERSION().
func (c *Conn) ServerVersion(ctx context.Context) (string, error) {
	var v string
	if err := c.conn.QueryRowContext(ctx, "SELECT VERSION()").Scan(&v); err != nil {
		return "", AsError(StageQuery, err)
	}
	return v, nil
}

// Close releases the connection and its handle.
func (c *Conn) Close() error {
	cerr := c.conn.Close()
	if err := c.db.Close(); err != nil {
		return err
	}
	return cerr
}
