//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

// engineTables are truncated by Reset.
var engineTables = []string{"offline_queue_items", "cache_entries", "cache_stores"}

// MySQLContainer wraps a testcontainers MySQL instance.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	db        *sql.DB
	dsn       string
}

// MySQLConfig holds configuration for MySQL container creation.
type MySQLConfig struct {
	Database string
	Username string
	Password string
	ImageTag string
}

// DefaultMySQLConfig returns the configuration used by the engine's tests.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Database: "offline_engine_test",
		Username: "engine",
		Password: "engine",
		ImageTag: "8.0",
	}
}

// NewMySQLContainer starts MySQL. A nil config uses DefaultMySQLConfig.
func NewMySQLContainer(ctx context.Context, config *MySQLConfig) (*MySQLContainer, error) {
	if config == nil {
		defaultCfg := DefaultMySQLConfig()
		config = &defaultCfg
	}

	mysqlContainer, err := mysql.Run(ctx, "mysql:"+config.ImageTag,
		mysql.WithDatabase(config.Database),
		mysql.WithUsername(config.Username),
		mysql.WithPassword(config.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start MySQL container: %w", err)
	}

	// gorm scans DATETIME columns into time.Time only with parseTime.
	dsn, err := mysqlContainer.ConnectionString(ctx, "parseTime=true", "charset=utf8mb4")
	if err != nil {
		_ = mysqlContainer.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = mysqlContainer.Terminate(context.Background())
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = RetryWithBackoff(ctx, 10, 200*time.Millisecond, 2*time.Second, func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		_ = mysqlContainer.Terminate(context.Background())
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MySQLContainer{container: mysqlContainer, db: db, dsn: dsn}, nil
}

// DSN returns a connection string suitable for the gorm mysql driver.
func (c *MySQLContainer) DSN() string {
	return c.dsn
}

// Reset truncates the engine's tables between tests.
func (c *MySQLContainer) Reset(ctx context.Context) error {
	for _, table := range engineTables {
		// Tables that were never migrated are fine to skip.
		if _, err := c.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE `%s`", table)); err != nil {
			var exists int
			row := c.db.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", table)
			if scanErr := row.Scan(&exists); scanErr == nil && exists == 0 {
				continue
			}
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}
	return nil
}

// Terminate closes the connection and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	if c.container != nil {
		if err := c.container.Terminate(ctx); err != nil {
			return fmt.Errorf("failed to terminate container: %w", err)
		}
	}
	return nil
}
