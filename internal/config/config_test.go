package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagejanitor "github.com/bit2swaz/storage-janitor"
	"github.com/bit2swaz/storage-janitor/internal/engine"
)

func TestLoad(t *testing.T) {
	t.Setenv("JANITOR_TEST_API_URL", "https://platform.example.com")

	cfg, err := Load("testdata/janitor.yml")
	require.NoError(t, err, "Load should not return an error")
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 14, cfg.RetentionDays)
	assert.Equal(t, 5000, cfg.BatchSize)
	assert.Equal(t, DefaultSweepPeriod, cfg.SweepIntervalDays, "default kept")
	assert.False(t, cfg.AllTenants)
	assert.Equal(t, int64(12), cfg.TenantID)
	assert.Equal(t, 500*time.Millisecond, cfg.TenantDelay)
	assert.Equal(t, "https://platform.example.com", cfg.Storage.API.URL)
	assert.Equal(t, engine.DefaultSessionsPath, cfg.SessionsPath)
	assert.Equal(t, DefaultListenAddr, cfg.Server.Listen)
	assert.Equal(t, time.Second, cfg.DeleteRate.Window)
	assert.Equal(t, "json", cfg.Logging.Format)

	settings, err := cfg.EngineSettings()
	require.NoError(t, err)
	assert.Equal(t, []engine.DirectoryTarget{
		{Path: "/tmp/supervisely/export", Mode: engine.DateOnly},
		{Path: "/import", Mode: engine.DateOnly},
		{Path: "/scratch", Mode: engine.DateOrExtension},
	}, settings.FixedDirectories)
	assert.Equal(t, []string{"Render previews GUI"}, settings.CleanupAppNames)
	assert.Equal(t, engine.DefaultExtensions, settings.Extensions)
	assert.Equal(t, int64(12), settings.TenantID)
	assert.Equal(t, 48*time.Hour, cfg.SweepInterval())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.AllTenants = false
	cfg.BatchSize = 0
	cfg.FixedDirectories = []DirectoryConfig{{Path: "", Mode: "weekly"}}
	cfg.Storage.Driver = "ftp"
	cfg.Metadata.Driver = DriverPostgres

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"batch_size",
		"tenant_id is required",
		"fixed_directories[0]: path is empty",
		"unknown scan mode",
		"unknown storage.driver",
		"metadata.database_url",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateLocalWithoutMetadata(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = DriverLocal
	cfg.Storage.Local.Root = t.TempDir()
	cfg.Metadata.Driver = DriverNone
	assert.NoError(t, cfg.Validate())

	cfg.Storage.Driver = DriverS3
	cfg.Storage.S3.Bucket = "b"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsParentSegments(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = DriverLocal
	cfg.Storage.Local.Root = t.TempDir()
	cfg.Metadata.Driver = DriverNone
	cfg.FixedDirectories = []DirectoryConfig{
		{Path: "/data/../data/", Mode: "date_only"},
		{Path: "/../2/", Mode: "date_only"},
	}
	cfg.SessionsPath = "/x/../../y/"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `fixed_directories[0]: path "/data/../data/" must not contain ".."`)
	assert.Contains(t, err.Error(), `fixed_directories[1]: path "/../2/" must not contain ".."`)
	assert.Contains(t, err.Error(), `sessions_path "/x/../../y/" must not contain ".."`)

	cfg.FixedDirectories = []DirectoryConfig{{Path: "/data/..backup/", Mode: "date_only"}}
	cfg.SessionsPath = engine.DefaultSessionsPath
	assert.NoError(t, cfg.Validate())
}

func TestOverrideFromEnvironment(t *testing.T) {
	t.Setenv("JANITOR_BATCH_SIZE", "750")
	t.Setenv("JANITOR_ALL_TENANTS", "false")
	t.Setenv("JANITOR_TENANT_ID", "33")
	t.Setenv("JANITOR_STORAGE_API_URL", "https://env.example.com")

	cfg := Default()
	require.NoError(t, cfg.Override(NewViper()))

	assert.Equal(t, 750, cfg.BatchSize)
	assert.False(t, cfg.AllTenants)
	assert.Equal(t, int64(33), cfg.TenantID)
	assert.Equal(t, "https://env.example.com", cfg.Storage.API.URL)
	assert.Equal(t, engine.DefaultRetentionDays, cfg.RetentionDays)
}

func TestOverrideRejectsUnparseableNumbers(t *testing.T) {
	v := NewViper()
	v.Set("retention_days", "thirty")
	v.Set("tenant_id", "x")

	cfg := Default()
	err := cfg.Override(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention_days")
	assert.Contains(t, err.Error(), "tenant_id")
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "local.env")
	require.NoError(t, os.WriteFile(envFile, []byte("JANITOR_FROM_FILE=yes\n"), 0o644))
	t.Setenv("JANITOR_FROM_FILE", "")
	require.NoError(t, os.Unsetenv("JANITOR_FROM_FILE"))

	require.NoError(t, LoadEnvFiles(filepath.Join(dir, ".env"), envFile))
	assert.Equal(t, "yes", os.Getenv("JANITOR_FROM_FILE"))
}

func TestTemplateIsValid(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", "https://platform.example.com")
	t.Setenv("API_TOKEN", "token")

	cfg, err := Parse(storagejanitor.JanitorConfigTemplate())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	settings, err := cfg.EngineSettings()
	require.NoError(t, err)
	assert.Len(t, settings.FixedDirectories, 15)
	assert.Equal(t, engine.DateOnly, settings.FixedDirectories[0].Mode)
	assert.Equal(t, "/tmp/supervisely/export", settings.FixedDirectories[0].Path)
	assert.Equal(t, []string{"On-the-Fly Quality Assurance", "Render previews GUI"}, settings.CleanupAppNames)
	assert.Equal(t, 48*time.Hour, cfg.SweepInterval())
}
