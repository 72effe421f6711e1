//go:build postgres_integration

package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eldhos/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	require.NoError(t, err)
	require.NoError(t, p.Ping(t.Context()))
	require.NoError(t, p.Migrate(t.Context()))

	d, err := p.CreateDriver(t.Context(), model.Driver{Name: "Integration", HomeTerminalTimezone: "UTC", IsActive: true})
	require.NoError(t, err)
	date := time.Now().UTC().Format(model.DateLayout)
	first, created, err := p.GetOrCreateLog(t.Context(), model.DailyLog{DriverID: d.ID, LogDate: date, IsCompliant: true})
	require.NoError(t, err)
	require.True(t, created)
	again, created, err := p.GetOrCreateLog(t.Context(), model.DailyLog{DriverID: d.ID, LogDate: date})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)
}
