package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, DriverSQLite, c.Store.Driver)
	assert.Equal(t, 10*time.Second, c.HTTP.ShutdownTimeout)
	assert.True(t, c.Metrics.Enabled)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	// GIVEN: a YAML file, an env override and an explicitly set flag
	dir := t.TempDir()
	path := filepath.Join(dir, "warehouse.yaml")
	yaml := "http:\n  addr: \":9000\"\nstore:\n  driver: memory\nlog:\n  level: warn\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("WAREHOUSE_LOG_LEVEL", "debug")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", "", "")
	flags.String("store", "", "")
	require.NoError(t, flags.Parse([]string{"--addr", ":7000"}))

	// WHEN
	c, err := Load(path, flags)
	require.NoError(t, err)

	// THEN: flag beats file, env beats file, file beats default
	assert.Equal(t, ":7000", c.HTTP.Addr)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, DriverMemory, c.Store.Driver)
}

func TestValidate(t *testing.T) {
	var c Config
	c.Store.Driver = DriverPostgres
	assert.Error(t, c.Validate())

	c.Store.PostgresDSN = "postgres://localhost/warehouse"
	assert.NoError(t, c.Validate())

	c.Store.Driver = "mongo"
	assert.Error(t, c.Validate())
}
