package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSQLSink_PostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("studio"),
		postgres.WithUsername("studio"),
		postgres.WithPassword("studio"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := NewSQLSinkFromDSN(connStr)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	now := time.Now().UTC()
	rec := Record{ID: "autogen-test-5.spec.ts", Target: "playwright-temp/autogen-test-5.spec.ts", PID: 5, StartedAt: now, FinishedAt: now.Add(time.Second), Outcome: "passed"}
	require.NoError(t, sink.Send(ctx, Event{Type: EventRunFinished, OccurredAt: now, Record: rec}))

	got, err := sink.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "passed", got[0].Record.Outcome)
	require.Equal(t, rec.Target, got[0].Record.Target)
}
