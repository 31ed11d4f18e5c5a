package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
)

// Conn is an open database wrapped for the ent SQL builders.
type Conn struct {
	Driver  *entsql.Driver
	Dialect string
	pool    *pgxpool.Pool
}

// DB returns the underlying database handle.
func (c *Conn) DB() *sql.DB { return c.Driver.DB() }

// Open connects to cfg.Driver (postgres, mysql or sqlite) and wraps the
// connection for ent. Postgres goes through a pgx pool.
func Open(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to database", "driver", cfg.Driver)

	var (
		db   *sql.DB
		pool *pgxpool.Pool
		d    string
		err  error
	)
	switch cfg.Driver {
	case "postgres", "":
		d = dialect.Postgres
		pool, err = openPostgres(ctx, cfg)
		if err == nil {
			db = stdlib.OpenDBFromPool(pool)
		}
	case "mysql":
		d = dialect.MySQL
		db, err = openMySQL(cfg)
	case "sqlite":
		d = dialect.SQLite
		db, err = sql.Open("sqlite", cfg.DSN)
		if err == nil {
			// one connection: serializes writers and keeps :memory: databases whole
			db.SetMaxOpenConns(1)
		}
	default:
		err = fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "err", err)
		return nil, common.NewAppError(common.CodeConfig, "open database", err)
	}

	if err := HealthCheck(ctx, db, cfg.DialTimeout, logger); err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "err", err)
		_ = db.Close()
		if pool != nil {
			pool.Close()
		}
		return nil, common.NewAppError(common.CodeStoreWriteFailure, "ping database", err)
	}

	logger.Info("successfully connected to database", "driver", cfg.Driver)
	return &Conn{Driver: entsql.OpenDB(d, db), Dialect: d, pool: pool}, nil
}

func openPostgres(ctx context.Context, cfg common.DatabaseConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "subsidy-pipeline"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	return pgxpool.NewWithConfig(ctx, pc)
}

func openMySQL(cfg common.DatabaseConfig) (*sql.DB, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	mc.ParseTime = true
	if mc.Timeout == 0 {
		mc.Timeout = cfg.DialTimeout
	}
	if mc.Params == nil {
		mc.Params = map[string]string{}
	}
	if cfg.StatementTimeout > 0 {
		mc.Params["max_execution_time"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}
	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(conn)
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(int(cfg.MinConns))
	}
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	return db, nil
}

// Close closes the database connections gracefully
func (c *Conn) Close(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("closing database connections")
	if err := c.Driver.Close(); err != nil {
		logger.Error("failed to close database", "err", err)
	}
	if c.pool != nil {
		c.pool.Close()
	}
	logger.Info("database connections closed")
}

// HealthCheck pings using database/sql to catch DSN issues early.
func HealthCheck(ctx context.Context, db *sql.DB, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	logger.Debug("pinging database")
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	logger.Debug("database ping successful")
	return nil
}
