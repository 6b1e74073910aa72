package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
	assert.False(t, s.Configured())
	assert.Equal(t, 30*time.Minute, s.SyncInterval())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	want := &Settings{
		ServerURL:           "https://dav.example.com/tasks",
		Username:            "alice",
		Password:            "secret",
		AutoSync:            true,
		SyncIntervalMinutes: 15,
		DashboardPort:       8642,
	}
	require.NoError(t, Save(path, want))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, Save(path, &Settings{ServerURL: "/from/file", SyncIntervalMinutes: 10}))

	t.Setenv("TASKSYNC_SERVER_URL", "/from/env")
	t.Setenv("TASKSYNC_AUTO_SYNC", "true")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", s.ServerURL)
	assert.True(t, s.AutoSync)
	assert.Equal(t, 10, s.SyncIntervalMinutes)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("server_url = \"/mnt/share\"\n"), 0600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/share", s.ServerURL)
	assert.Equal(t, DefaultSyncIntervalMinutes, s.SyncIntervalMinutes)
}

func TestSettings_Set(t *testing.T) {
	s := Default()

	require.NoError(t, s.Set("auto_sync", "true"))
	require.NoError(t, s.Set("sync_interval_minutes", "5"))
	require.NoError(t, s.Set("server_url", "  /mnt/share  "))
	assert.True(t, s.AutoSync)
	assert.Equal(t, 5, s.SyncIntervalMinutes)
	assert.Equal(t, "/mnt/share", s.ServerURL)

	assert.Error(t, s.Set("sync_interval_minutes", "0"))
	assert.Equal(t, 5, s.SyncIntervalMinutes, "failed set leaves settings unchanged")
	assert.Error(t, s.Set("auto_sync", "maybe"))
	assert.Error(t, s.Set("dashboard_port", "70000"))
	assert.Error(t, s.Set("colour", "blue"))
}

func TestSettings_Redacted(t *testing.T) {
	s := &Settings{Password: "secret"}
	assert.Equal(t, "********", s.Redacted().Password)
	assert.Equal(t, "secret", s.Password)
}
