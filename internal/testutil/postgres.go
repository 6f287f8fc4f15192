package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupPostgres starts a pgvector-enabled PostgreSQL container and returns
// its connection URL. The test is skipped unless RAG_INTEGRATION_TESTS is
// set, so the suite stays runnable without Docker.
func SetupPostgres(t *testing.T) string {
	t.Helper()

	if os.Getenv("RAG_INTEGRATION_TESTS") == "" {
		t.Skip("RAG_INTEGRATION_TESTS not set - skipping container-backed test")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("rag_test"),
		postgres.WithUsername("rag_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("starting PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}
	return connStr
}
