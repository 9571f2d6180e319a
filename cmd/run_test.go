package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/auditconverge/config"
	"github.com/ridoystarlord/auditconverge/database"
	"github.com/ridoystarlord/auditconverge/introspect"
)

func useTempDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit_controls.db")
	saved := cfg
	cfg = config.Config{Driver: "sqlite", DatabasePath: path}
	t.Cleanup(func() { cfg = saved })
	return path
}

func TestConvergeReturnsNilAndClosesDatabase(t *testing.T) {
	path := useTempDatabase(t)
	ctx := context.Background()
	convergeCmd.SetContext(ctx)

	require.NoError(t, runConverge(convergeCmd, nil))

	db, err := database.Open(ctx, config.Config{Driver: "sqlite", DatabasePath: path})
	require.NoError(t, err)
	defer db.Close()
	exists, err := introspect.TableExists(ctx, db, db.Dialect, "controls")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCommandFailuresAreReturned(t *testing.T) {
	useTempDatabase(t)
	resetCmd.SetContext(context.Background())

	err := resetCmd.RunE(resetCmd, []string{"controls"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be reset")

	err = resetCmd.RunE(resetCmd, []string{"framework_mapping"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	saved := docsFormat
	docsFormat = "pdf"
	t.Cleanup(func() { docsFormat = saved })
	err = docsCmd.RunE(docsCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}
