package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/docchat/pkg/component/storage"
)

// Client wraps gorm.DB with the storage.Client interface.
type Client struct {
	db   *gorm.DB
	opts *Options
}

var _ storage.Client = (*Client)(nil)

// New opens the database described by opts and verifies the connection.
// defaultPath is used for sqlite when opts.Path is empty.
func New(ctx context.Context, opts *Options, defaultPath string) (*Client, error) {
	if opts == nil {
		return nil, storage.ErrInvalidConfig.WithMessage("database options cannot be nil")
	}

	dialector, err := dialectorFor(opts, defaultPath)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(opts.Driver, gormLogLevel(opts.LogLevel), opts.SlowThreshold, true),
	})
	if err != nil {
		return nil, storage.ErrConnectionFailed.WithCause(fmt.Errorf("open %s: %w", opts.Driver, err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if opts.Driver == DriverSQLite {
		// sqlite 只允许单写连接
		sqlDB.SetMaxOpenConns(1)
	} else {
		if opts.MaxIdleConnections > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConnections)
		}
		if opts.MaxOpenConnections > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConnections)
		}
		if opts.MaxConnectionLifeTime > 0 {
			sqlDB.SetConnMaxLifetime(opts.MaxConnectionLifeTime)
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, storage.ErrConnectionFailed.WithCause(fmt.Errorf("ping %s: %w", opts.Driver, err))
	}

	return &Client{db: db, opts: opts}, nil
}

func dialectorFor(opts *Options, defaultPath string) (gorm.Dialector, error) {
	switch opts.Driver {
	case DriverSQLite:
		path := opts.Path
		if path == "" {
			path = defaultPath
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		return sqlite.Open(path), nil
	case DriverMySQL:
		return mysqldriver.Open(BuildMySQLDSN(opts)), nil
	case DriverPostgres:
		return postgres.Open(BuildPostgresDSN(opts)), nil
	default:
		return nil, storage.ErrInvalidConfig.WithMessage("unsupported db driver: " + opts.Driver)
	}
}

func gormLogLevel(level int) gormlogger.LogLevel {
	switch level {
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	case 4:
		return gormlogger.Info
	default:
		return gormlogger.Silent
	}
}

// Name returns the driver name.
func (c *Client) Name() string {
	return c.opts.Driver
}

// Ping checks if the database connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	return c.db
}
