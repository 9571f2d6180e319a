package fixtures

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/auditconverge/config"
	"github.com/ridoystarlord/auditconverge/database"
	"github.com/ridoystarlord/auditconverge/runner"
	"github.com/ridoystarlord/auditconverge/schema"
)

func openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), config.Config{
		Driver:       "sqlite",
		DatabasePath: filepath.Join(t.TempDir(), "fixtures.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertDirectTestSession(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	require.True(t, runner.New(db, io.Discard).Run(ctx, schema.AuditTarget()).OK())

	day := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	created, err := UpsertSession(ctx, db, db.Dialect, DirectTestSession(day))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := LoadSession(ctx, db, db.Dialect, DirectTestSessionID)
	require.NoError(t, err)
	assert.Equal(t, DirectTestSession(day), *got)
	assert.Equal(t, "Direct Test Session 2025-03-14", got.SessionName)

	updated := DirectTestSession(day.AddDate(0, 0, 1))
	updated.RegionFilter = "UK"
	created, err = UpsertSession(ctx, db, db.Dialect, updated)
	require.NoError(t, err)
	assert.False(t, created)

	got, err = LoadSession(ctx, db, db.Dialect, DirectTestSessionID)
	require.NoError(t, err)
	assert.Equal(t, "UK", got.RegionFilter)
	assert.Equal(t, "Direct Test Session 2025-03-15", got.SessionName)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_sessions`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestLegacyIDKeyedSessions(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE audit_sessions (id TEXT PRIMARY KEY, session_name TEXT, framework_filter TEXT)`)
	require.NoError(t, err)

	created, err := UpsertSession(ctx, db, db.Dialect, DirectTestSession(time.Now()))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := LoadSession(ctx, db, db.Dialect, DirectTestSessionID)
	require.NoError(t, err)
	assert.Equal(t, "EU AI Act (2023)", got.FrameworkFilter)
	assert.Empty(t, got.RegionFilter, "column absent on legacy tables")
}

func TestLoadSessionErrors(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	_, err := LoadSession(ctx, db, db.Dialect, "x")
	assert.ErrorContains(t, err, "run converge first")

	require.True(t, runner.New(db, io.Discard).Run(ctx, schema.AuditTarget()).OK())
	_, err = LoadSession(ctx, db, db.Dialect, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
