package journal

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.Context(), "sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn    string
		driver string
		conn   string
	}{
		{"postgres://u:p@localhost/db", "postgres", "postgres://u:p@localhost/db"},
		{"postgresql://localhost/db", "postgres", "postgresql://localhost/db"},
		{"sqlite:/tmp/j.db", "sqlite", "/tmp/j.db"},
		{"file:j.db?cache=shared", "sqlite", "file:j.db?cache=shared"},
	}
	for _, tt := range tests {
		driver, conn, _, err := parseDSN(tt.dsn)
		require.NoError(t, err, tt.dsn)
		assert.Equal(t, tt.driver, driver)
		assert.Equal(t, tt.conn, conn)
	}

	_, _, _, err := parseDSN("mysql://x")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Journal{dialect: dialectPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &Journal{dialect: dialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestRecordRecent(t *testing.T) {
	j := openMem(t)

	require.NoError(t, j.Record(t.Context(), Entry{SessionID: "whatsapp_1", State: "delivered", Endpoint: "primary", Model: "m", LatencyMS: 120}))
	require.NoError(t, j.Record(t.Context(), Entry{SessionID: "whatsapp_2", State: "failed", ErrorKind: "timeout"}))

	got, err := j.Recent(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "whatsapp_2", got[0].SessionID)
	assert.Equal(t, "timeout", got[0].ErrorKind)
	assert.Equal(t, "delivered", got[1].State)
	assert.EqualValues(t, 120, got[1].LatencyMS)
	assert.False(t, got[1].CreatedAt.IsZero())
}

func TestPrune(t *testing.T) {
	j := openMem(t)
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, j.Record(t.Context(), Entry{SessionID: "a", State: "delivered", CreatedAt: old}))
	require.NoError(t, j.Record(t.Context(), Entry{SessionID: "b", State: "delivered"}))

	n, err := j.Prune(t.Context(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := j.Recent(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].SessionID)
}

func TestStartPruner(t *testing.T) {
	j := openMem(t)
	p, err := StartPruner(j, "@every 1h", time.Hour, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	p.Stop()

	_, err = StartPruner(j, "not a schedule", time.Hour, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
