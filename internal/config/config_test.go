package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearAsitEnv(t *testing.T) {
	for _, k := range []string{
		"ASIT_SERVER_PORT", "PORT", "ASIT_CATALOG_PATH", "ASIT_MEDICATIONS",
		"ASIT_CALENDAR_TIMEZONE", "TZ", "ASIT_LOG_LEVEL", "LOG_LEVEL", "ASIT_STORAGE_DATA_DIR",
		"ASIT_SERVER_JWT_SECRET", "ASIT_JWT_SECRET",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearAsitEnv(t)
	dir := t.TempDir()

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join(dir, "asit.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, filepath.Join(dir, "notifications"), cfg.Storage.BadgerPath)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.True(t, cfg.Notifications.Authorized)
	assert.Equal(t, time.Hour, cfg.Notifications.SnoozeDelay)
	assert.Empty(t, cfg.Server.JWTSecret)
	assert.Equal(t, 7*24*time.Hour, cfg.Server.TokenTTL)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoad_FileAndEnv(t *testing.T) {
	clearAsitEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "asit.yaml")

	content := `
server:
  port: 9001
notifications:
  snooze_delay: 30m
calendar:
  timezone: Europe/Moscow
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("ASIT_CATALOG_PATH", "/tmp/meds.json")

	cfg, err := Load(path, dir)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Notifications.SnoozeDelay)
	assert.Equal(t, "/tmp/meds.json", cfg.Catalog.Path)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", loc.String())
}

func TestLoad_InvalidTimezone(t *testing.T) {
	clearAsitEnv(t)
	t.Setenv("ASIT_CALENDAR_TIMEZONE", "Mars/Olympus")

	_, err := Load("", t.TempDir())
	assert.Error(t, err)
}

func TestLoad_JWTSecret(t *testing.T) {
	clearAsitEnv(t)

	t.Setenv("ASIT_JWT_SECRET", "too-short")
	_, err := Load("", t.TempDir())
	assert.Error(t, err)

	t.Setenv("ASIT_JWT_SECRET", "a-long-enough-local-secret")
	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "a-long-enough-local-secret", cfg.Server.JWTSecret)
}

func TestLoad_EnvFileReachesConfig(t *testing.T) {
	clearAsitEnv(t)
	dir := t.TempDir()
	env := "ASIT_SERVER_PORT=9123\nASIT_JWT_SECRET=\"a-long-enough-local-secret\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0644))

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, 9123, cfg.Server.Port)
	assert.Equal(t, "a-long-enough-local-secret", cfg.Server.JWTSecret)
}

func TestLoad_EnvironmentBeatsEnvFile(t *testing.T) {
	clearAsitEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ASIT_SERVER_PORT=9123\n"), 0644))
	t.Setenv("ASIT_SERVER_PORT", "9200")

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestWriteDefault(t *testing.T) {
	clearAsitEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "asit.yaml")

	require.NoError(t, WriteDefault(path, dir))
	assert.Error(t, WriteDefault(path, dir), "existing file must not be overwritten")

	cfg, err := Load(path, dir)
	require.NoError(t, err)
	assert.Equal(t, Default(dir).Server.Port, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Notifications.SnoozeDelay)
}
