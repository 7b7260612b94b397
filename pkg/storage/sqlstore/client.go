package sqlstore

import (
	"context"
	"fmt"

	"candlealert/config"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Client is a gorm-backed candle repository. It serves both postgres and sqlite.
type Client struct {
	DB *gorm.DB
}

func open(dialector gorm.Dialector) (*Client, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return &Client{DB: db}, nil
}

func NewPostgres(dsn string) (*Client, error) {
	c, err := open(postgres.Open(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return c, nil
}

// NewSQLite opens a sqlite database file. ":memory:" gives a private in-memory DB.
func NewSQLite(path string) (*Client, error) {
	c, err := open(sqlite.Open(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %q: %w", path, err)
	}

	// a second connection would see a different in-memory database and
	// sqlite serializes writers anyway
	sqlDB, err := c.DB.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return c, nil
}

// InitializePostgres connects to Postgres, optionally creates the DB, and runs AutoMigrate.
func InitializePostgres(cfg config.PostgresConfig, env string, createDB bool) (*Client, error) {
	if createDB {
		if err := CreateDatabase(cfg); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	client, err := NewPostgres(cfg.DSN(env))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	sqlDB, err := client.DB.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := client.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

// InitializeSQLite opens path and runs AutoMigrate.
func InitializeSQLite(path string) (*Client, error) {
	client, err := NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := client.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return client, nil
}

func (c *Client) AutoMigrate() error {
	if err := c.DB.AutoMigrate(&CandleRecord{}); err != nil {
		return fmt.Errorf("auto-migrate candles table: %w", err)
	}
	return nil
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	db, err := c.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (c *Client) Close() error {
	db, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
