package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/pwstudio/internal/history"
)

func setupClickHouseContainer(ctx context.Context, t *testing.T) string {
	t.Helper()

	c, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	})

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	addr := setupClickHouseContainer(ctx, t)

	sink, err := New(Options{Addr: addr, Table: "studio_history"})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	started := time.Now().Add(-time.Minute).UTC()
	rec := history.Record{ID: "01HZZTEST", Target: "https://example.com", PID: 4242, StartedAt: started}
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventRecordingStarted, OccurredAt: started, Record: rec}))

	rec.FinishedAt = time.Now().UTC()
	rec.Bytes = 512
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventRecordingFinished, OccurredAt: rec.FinishedAt, Record: rec}))

	var count uint64
	row := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM studio_history WHERE ref = ?", rec.ID)
	require.NoError(t, row.Scan(&count))
	require.Equal(t, uint64(2), count)

	var finishedNulls uint64
	row = sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM studio_history WHERE ref = ? AND finished_at IS NULL", rec.ID)
	require.NoError(t, row.Scan(&finishedNulls))
	require.Equal(t, uint64(1), finishedNulls)
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	_, err := New(Options{Addr: "invalid-host:9000"})
	require.Error(t, err)
}

func TestClickHouseSink_InvalidTable(t *testing.T) {
	_, err := New(Options{Addr: "127.0.0.1:1", Table: "bad; DROP TABLE x"})
	require.ErrorContains(t, err, "invalid ClickHouse table name")
}
