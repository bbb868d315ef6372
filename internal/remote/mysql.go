// Package remote implements core.RemoteStore backends.
package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("remote store is closed")

// erBadFieldError is MySQL's "Unknown column" error number.
const erBadFieldError = 1054

var unknownColumnPattern = regexp.MustCompile(`Unknown column '(?:[^'.]*\.)?([^']+)'`)

// MySQLConfig holds connection settings for the MySQL remote store.
type MySQLConfig struct {
	Host              string        `yaml:"host" json:"host"`
	Port              int           `yaml:"port" json:"port"`
	Database          string        `yaml:"database" json:"database"`
	Username          string        `yaml:"username" json:"username"`
	Password          string        `yaml:"password" json:"password"`
	MaxOpenConns      int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns      int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
}

// DefaultMySQLConfig returns local development defaults.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Host:              "localhost",
		Port:              3306,
		MaxOpenConns:      25,
		MaxIdleConns:      5,
		ConnMaxLifetime:   5 * time.Minute,
		ConnMaxIdleTime:   10 * time.Minute,
		ConnectionTimeout: 10 * time.Second,
	}
}

// DSN renders the driver connection string.
func (c MySQLConfig) DSN() string {
	dc := mysql.NewConfig()
	dc.User = c.Username
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = c.Host + ":" + strconv.Itoa(c.Port)
	dc.DBName = c.Database
	dc.ParseTime = true
	dc.Timeout = c.ConnectionTimeout
	return dc.FormatDSN()
}

// Execer is the subset of *sql.DB used to apply statements.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// MySQLStore applies operations to MySQL tables keyed by an `id` column.
type MySQLStore struct {
	db     Execer
	pinger func(context.Context) error
	closer func() error
	logger zerolog.Logger
	closed atomic.Bool
}

// NewMySQLStore opens a pooled connection and pings it.
func NewMySQLStore(ctx context.Context, cfg MySQLConfig, logger zerolog.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewMySQLStoreFromExecer(db, logger)
	s.pinger = db.PingContext
	s.closer = db.Close
	return s, nil
}

// NewMySQLStoreFromExecer wraps an existing executor.
func NewMySQLStoreFromExecer(db Execer, logger zerolog.Logger) *MySQLStore {
	return &MySQLStore{db: db, logger: logger.With().Str("component", "mysql").Logger()}
}

func (m *MySQLStore) exec(ctx context.Context, table string, stmt statement) error {
	if m.closed.Load() {
		return ErrClosed
	}

	start := time.Now()
	res, err := m.db.ExecContext(ctx, stmt.query, stmt.args...)
	if err != nil {
		m.logger.Debug().Err(err).Str("table", table).Str("query", stmt.query).Msg("statement failed")
		return classify(table, err)
	}

	affected, _ := res.RowsAffected()
	m.logger.Debug().Str("table", table).Int64("rows", affected).Dur("took", time.Since(start)).Msg("statement applied")
	return nil
}

// classify turns MySQL "Unknown column" errors into core.SchemaMismatchError.
func classify(table string, err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == erBadFieldError {
		column := ""
		if m := unknownColumnPattern.FindStringSubmatch(me.Message); m != nil {
			column = m[1]
		}
		return &core.SchemaMismatchError{Table: table, Column: column, Err: err}
	}
	return fmt.Errorf("failed to execute statement on %s: %w", table, err)
}

func (m *MySQLStore) Insert(ctx context.Context, table string, record core.Record) error {
	stmt, err := buildInsert(table, record, false)
	if err != nil {
		return err
	}
	return m.exec(ctx, table, stmt)
}

func (m *MySQLStore) Upsert(ctx context.Context, table string, record core.Record) error {
	stmt, err := buildInsert(table, record, true)
	if err != nil {
		return err
	}
	return m.exec(ctx, table, stmt)
}

func (m *MySQLStore) Update(ctx context.Context, table string, record core.Record) error {
	stmt, err := buildUpdate(table, record)
	if err != nil {
		return err
	}
	return m.exec(ctx, table, stmt)
}

func (m *MySQLStore) Delete(ctx context.Context, table string, id string) error {
	stmt, err := buildDelete(table, id)
	if err != nil {
		return err
	}
	return m.exec(ctx, table, stmt)
}

// Ping checks the connection.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.pinger == nil {
		return nil
	}
	return m.pinger(ctx)
}

func (m *MySQLStore) Close() error {
	if !m.closed.CompareAndSwap(false, true) || m.closer == nil {
		return nil
	}
	return m.closer()
}
