// Package datastore opens and migrates the engine's SQL database.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/studyquest/offline-engine/internal/datastore/entities"
	"github.com/studyquest/offline-engine/internal/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// sqliteFileName is the database file created inside Config.DataDir.
const sqliteFileName = "offline-engine.db"

// Config selects and locates the database.
type Config struct {
	Driver  string
	DataDir string // sqlite only
	DSN     string // mysql only
	Debug   bool
}

// Manager owns the database connection.
type Manager struct {
	db     *gorm.DB
	driver string
}

func gormConfig(debug bool) *gorm.Config {
	mode := gorm_logger.Silent
	if debug {
		mode = gorm_logger.Info
	}
	return &gorm.Config{Logger: gorm_logger.Default.LogMode(mode)}
}

// Open creates a manager for cfg.Driver.
func Open(cfg Config) (*Manager, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return NewSQLiteManager(cfg)
	case DriverMySQL:
		return NewMySQLManager(cfg)
	default:
		return nil, errors.Newf("unsupported database driver %q", cfg.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// NewSQLiteManager opens (creating if needed) the SQLite database in cfg.DataDir.
func NewSQLiteManager(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, errors.New(fmt.Errorf("failed to create data directory: %w", err)).
			Component("datastore").
			Category(errors.CategoryStorage).
			Context("data_dir", cfg.DataDir).
			Build()
	}
	path := filepath.Join(cfg.DataDir, sqliteFileName)
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg.Debug))
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open sqlite database: %w", err)).
			Component("datastore").
			Category(errors.CategoryStorage).
			Context("path", path).
			Build()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the queue and cache tables.
	sqlDB.SetMaxOpenConns(1)

	return &Manager{db: db, driver: DriverSQLite}, nil
}

// NewMySQLManager connects to the MySQL database at cfg.DSN.
func NewMySQLManager(cfg Config) (*Manager, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), gormConfig(cfg.Debug))
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open mysql database: %w", err)).
			Component("datastore").
			Category(errors.CategoryStorage).
			Build()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return &Manager{db: db, driver: DriverMySQL}, nil
}

// NewManagerFromDB wraps an existing connection, e.g. an in-memory test database.
func NewManagerFromDB(db *gorm.DB, driver string) *Manager {
	return &Manager{db: db, driver: driver}
}

// Initialize migrates every table the engine uses.
func (m *Manager) Initialize() error {
	if err := m.db.AutoMigrate(
		&entities.QueueItem{},
		&entities.CacheStore{},
		&entities.CacheEntry{},
	); err != nil {
		return errors.New(fmt.Errorf("failed to migrate schema: %w", err)).
			Component("datastore").
			Category(errors.CategoryStorage).
			Context("driver", m.driver).
			Build()
	}
	return nil
}

// DB returns the gorm handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Driver returns the driver name.
func (m *Manager) Driver() string {
	return m.driver
}

// Close closes the underlying connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
