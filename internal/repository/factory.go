package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// DBConfig holds database configuration.
type DBConfig struct {
	Type     string `mapstructure:"type"` // postgres, mysql or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"` // file path for sqlite
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
	// Tracing adds a span per query to the global tracer provider.
	Tracing bool `mapstructure:"-"`
}

// DBType represents the database type.
type DBType string

const (
	DBTypePostgres DBType = "postgres"
	DBTypeMySQL    DBType = "mysql"
	DBTypeSQLite   DBType = "sqlite"
)

// ParseDBType normalizes a configured database type.
func ParseDBType(s string) (DBType, error) {
	switch s {
	case "postgres", "postgresql":
		return DBTypePostgres, nil
	case "mysql":
		return DBTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DBTypeSQLite, nil
	}
	return "", fmt.Errorf("unsupported database type: %s", s)
}

func dialector(cfg *DBConfig) (gorm.Dialector, DBType, error) {
	dbType, err := ParseDBType(cfg.Type)
	if err != nil {
		return nil, "", err
	}
	switch dbType {
	case DBTypePostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database,
		)
		return postgres.Open(dsn), dbType, nil
	case DBTypeMySQL:
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		)
		return mysql.Open(dsn), dbType, nil
	default:
		return sqlite.Open(cfg.Database), dbType, nil
	}
}

// NewGormDB creates a new GORM database connection based on configuration.
func NewGormDB(cfg *DBConfig) (*gorm.DB, error) {
	dial, dbType, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Tracing {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("failed to enable telemetry: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	// sqlite serializes writers; one connection keeps :memory: databases
	// shared.
	if dbType == DBTypeSQLite {
		maxConns = 1
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(max(maxConns/2, 1))
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Repositories holds all repository instances.
type Repositories struct {
	Snapshots *GormSnapshotRepository
	Summary   SummaryRepository
	gormDB    *gorm.DB
	dbType    DBType
}

// NewRepositories creates all repositories over one connection.
func NewRepositories(gormDB *gorm.DB, dbType DBType) *Repositories {
	repos := &Repositories{gormDB: gormDB, dbType: dbType}
	repos.Snapshots = NewGormSnapshotRepository(gormDB)
	if sqlDB, err := gormDB.DB(); err == nil {
		repos.Summary = NewSQLSummaryRepository(sqlDB, dbType)
	}
	return repos
}

// Open connects to the configured database, migrates the schema and
// returns the repositories.
func Open(ctx context.Context, cfg *DBConfig) (*Repositories, error) {
	db, err := NewGormDB(cfg)
	if err != nil {
		return nil, err
	}
	dbType, _ := ParseDBType(cfg.Type)
	repos := NewRepositories(db, dbType)
	if err := repos.Snapshots.AutoMigrate(ctx); err != nil {
		repos.Close()
		return nil, err
	}
	return repos, nil
}

// Close closes the database connection.
func (r *Repositories) Close() error {
	if r.gormDB != nil {
		sqlDB, err := r.gormDB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// HealthCheck verifies the database connection is still alive.
func (r *Repositories) HealthCheck(ctx context.Context) error {
	sqlDB, err := r.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DB returns the underlying sql.DB connection.
func (r *Repositories) DB() *sql.DB {
	sqlDB, _ := r.gormDB.DB()
	return sqlDB
}

// Type returns the database type.
func (r *Repositories) Type() DBType {
	return r.dbType
}
