package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "warehouse-server", cmd.Use)
	assert.NotNil(t, cmd.RunE, "root command serves by default")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"serve", "migrate"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"config", "addr", "store", "db", "dsn", "log-level"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, "flag %s", name)
		assert.Equal(t, "", f.DefValue)
	}
}

func TestMigrateCommand_SQLite(t *testing.T) {
	// GIVEN: a fresh database file
	dbPath := filepath.Join(t.TempDir(), "warehouse.db")

	// WHEN: migrate runs twice
	run := func() string {
		cmd := NewRootCommand()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetArgs([]string{"migrate", "--store", "sqlite", "--db", dbPath, "--log-level", "error"})
		require.NoError(t, cmd.Execute())
		return out.String()
	}

	// THEN: the first run applies both migrations, the second none
	assert.Contains(t, run(), "applied 2 migration(s)")
	assert.Contains(t, run(), "applied 0 migration(s)")
}

func TestMigrateCommand_UnknownDriver(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"migrate", "--store", "mongo"})

	assert.Error(t, cmd.Execute())
}
