package helper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testDBName     = "bindery_test"
	testDBUser     = "postgres"
	testDBPassword = "postgres"
)

// MustStartPostgresContainer starts a pgvector-enabled postgres container
// for integration tests. It returns the teardown function and the mapped
// host port.
func MustStartPostgresContainer() (func(ctx context.Context, opts ...testcontainers.TerminateOption) error, string, error) {
	ctx := context.Background()

	container, err := postgres.Run(
		ctx,
		"pgvector/pgvector:pg17",
		postgres.WithDatabase(testDBName),
		postgres.WithUsername(testDBUser),
		postgres.WithPassword(testDBPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, "", err
	}

	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return container.Terminate, "", err
	}

	return container.Terminate, port.Port(), nil
}

// SetTestDatabaseConfigEnvs points the database configuration at the
// test container for the duration of one test.
func SetTestDatabaseConfigEnvs(t *testing.T, dbPort string) {
	t.Setenv("BINDERY_DB_HOST", "localhost")
	t.Setenv("BINDERY_DB_PORT", dbPort)
	t.Setenv("BINDERY_DB_USER", testDBUser)
	t.Setenv("BINDERY_DB_PASSWORD", testDBPassword)
	t.Setenv("BINDERY_DB_NAME", testDBName)
	t.Setenv("BINDERY_DB_SSLMODE", "disable")
}

// NewTestDatabase opens a database connection with a silent logger for
// use in tests.
func NewTestDatabase(config *DatabaseConfiguration) *Database {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDatabase("bindery_test", config, logger)
}
