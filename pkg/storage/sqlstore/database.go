package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"candlealert/config"

	"github.com/lib/pq"
)

const bootstrapTimeout = 10 * time.Second

// CreateDatabase makes sure cfg.DBName exists, connecting through the admin database.
func CreateDatabase(cfg config.PostgresConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	admin, err := sql.Open("postgres", cfg.AdminDSN())
	if err != nil {
		return fmt.Errorf("open admin connection: %w", err)
	}
	defer admin.Close()

	found, err := databaseExists(ctx, admin, cfg.DBName)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	if _, err := admin.ExecContext(ctx, createDatabaseSQL(cfg.DBName)); err != nil {
		return fmt.Errorf("create database %s: %w", cfg.DBName, err)
	}
	return nil
}

func databaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var found bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`, name,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("look up database %s: %w", name, err)
	}
	return found, nil
}

// identifiers can't be bound as parameters
func createDatabaseSQL(name string) string {
	return "CREATE DATABASE " + pq.QuoteIdentifier(name)
}
