package helper

import (
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
)

// DatabaseConfiguration holds the connection parameters for the shared
// state store, populated from the environment.
type DatabaseConfiguration struct {
	Host     string `envconfig:"BINDERY_DB_HOST" default:"localhost"`
	Port     string `envconfig:"BINDERY_DB_PORT" default:"5432"`
	User     string `envconfig:"BINDERY_DB_USER" default:"postgres"`
	Password string `envconfig:"BINDERY_DB_PASSWORD" default:"postgres"`
	Name     string `envconfig:"BINDERY_DB_NAME" default:"bindery"`
	SSLMode  string `envconfig:"BINDERY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BINDERY_DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"BINDERY_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"BINDERY_DB_CONN_MAX_LIFETIME" default:"30m"`
}

// NewDatabaseConfiguration loads the database configuration from a .env
// file (if present) and the environment.
func NewDatabaseConfiguration() (*DatabaseConfiguration, error) {
	// Missing .env is fine, the environment may already be populated.
	_ = godotenv.Load()

	config := &DatabaseConfiguration{}
	if err := envconfig.Process("", config); err != nil {
		return nil, NewError("process database configuration", err)
	}

	return config, nil
}

// ConnectionString returns the postgres DSN for this configuration.
func (c *DatabaseConfiguration) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Database wraps the shared *sql.DB together with the logger every
// handler logs through.
type Database struct {
	Name     string
	Instance *sql.DB
	Logger   *slog.Logger
}

// NewDatabase opens a connection pool for the given configuration.
// It panics if the database is unreachable, the store is not optional.
func NewDatabase(name string, config *DatabaseConfiguration, logger *slog.Logger) *Database {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		log.Panicf("error opening database connection: %v", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		log.Panicf("error pinging database: %v", err)
	}

	logger.Info("Connected to database", slog.String("name", name), slog.String("host", config.Host))

	return &Database{
		Name:     name,
		Instance: db,
		Logger:   logger,
	}
}
