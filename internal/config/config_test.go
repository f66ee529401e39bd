package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearFolioEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FOLIO_CONFIG", "FOLIO_HOST", "FOLIO_PORT", "FOLIO_DATA_DIR", "FOLIO_DB_PATH",
		"FOLIO_DATABASE_URL", "EXCHANGE_RATE_API_KEY", "FOLIO_DEFAULT_CURRENCY",
		"FOLIO_LOG_LEVEL", "FOLIO_LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
	SetRuntimeDataDir("")
	runtimePort = 0
	t.Cleanup(func() {
		SetRuntimeDataDir("")
		runtimePort = 0
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	clearFolioEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "SGD", cfg.Report.DefaultCurrency)
	assert.Equal(t, "even_split", cfg.Report.Weighting)
	assert.Equal(t, 90, cfg.Report.SnapshotDays)
	assert.Equal(t, time.Hour, cfg.Rates.GetCacheTTL())
	assert.Equal(t, 10*time.Second, cfg.Rates.GetTimeout())
}

func TestLoad_FilesMergeInOrder(t *testing.T) {
	clearFolioEnv(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	local := filepath.Join(dir, "local.toml")
	writeFile(t, base, `
[server]
port = 9000

[report]
default_currency = "usd"
weighting = "full_weight"
snapshot_days = 30

[rates]
cache_ttl = "15m"
`)
	writeFile(t, local, `
[server]
port = 9100
`)

	cfg, err := Load(base, local)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "USD", cfg.Report.DefaultCurrency)
	assert.Equal(t, "full_weight", cfg.Report.Weighting)
	assert.Equal(t, 30, cfg.Report.SnapshotDays)
	assert.Equal(t, 15*time.Minute, cfg.Rates.GetCacheTTL())
	assert.Equal(t, 14, cfg.Report.DividendWindowDays, "untouched defaults survive")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearFolioEnv(t)
	dataDir := filepath.Join(t.TempDir(), "data")
	t.Setenv("FOLIO_PORT", "9300")
	t.Setenv("FOLIO_DATA_DIR", dataDir)
	t.Setenv("FOLIO_DATABASE_URL", "postgres://folio@localhost/folio?sslmode=disable")
	t.Setenv("EXCHANGE_RATE_API_KEY", "abc123")
	t.Setenv("FOLIO_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Server.Port)
	assert.Equal(t, dataDir, cfg.Storage.DataDir)
	assert.Equal(t, "abc123", cfg.Rates.APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)

	opts, err := cfg.CoreOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://folio@localhost/folio?sslmode=disable", opts.DatabaseURL)
	assert.Empty(t, opts.DBPath, "postgres wins over sqlite")
	assert.Equal(t, "abc123", opts.RatesAPIKey)
}

func TestLoad_RuntimeOverridesWin(t *testing.T) {
	clearFolioEnv(t)
	t.Setenv("FOLIO_PORT", "9300")
	flagDir := t.TempDir()
	SetRuntimeDataDir(flagDir)
	SetRuntimePort(9400)

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, 9400, cfg.Server.Port)
	assert.Equal(t, flagDir, cfg.Storage.DataDir)
	assert.Equal(t, "127.0.0.1:9400", cfg.Addr())
}

func TestLoad_Invalid(t *testing.T) {
	clearFolioEnv(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "[server\nport = ")
	_, err := Load(bad)
	assert.ErrorContains(t, err, "parse config file")

	currency := filepath.Join(dir, "currency.toml")
	writeFile(t, currency, "[report]\ndefault_currency = \"XX\"\n")
	_, err = Load(currency)
	assert.ErrorContains(t, err, "default_currency")

	weighting := filepath.Join(dir, "weighting.toml")
	writeFile(t, weighting, "[report]\nweighting = \"random\"\n")
	_, err = Load(weighting)
	assert.ErrorContains(t, err, "weighting")
}

func TestDBPath(t *testing.T) {
	clearFolioEnv(t)
	dir := t.TempDir()

	cfg := NewDefaultConfig()
	cfg.Storage.DataDir = filepath.Join(dir, "nested")
	path, err := cfg.DBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "folio.db"), path)
	assert.DirExists(t, filepath.Join(dir, "nested"))

	cfg.Storage.DBPath = filepath.Join(dir, "explicit.sqlite")
	path, err = cfg.DBPath()
	require.NoError(t, err)
	assert.Equal(t, cfg.Storage.DBPath, path)

	opts, err := cfg.CoreOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.Storage.DBPath, opts.DBPath)
	assert.Equal(t, "even_split", opts.Weighting.Name())
	assert.Equal(t, 24*time.Hour, opts.PriceRefreshInterval)
}

func TestLoad_DotEnv(t *testing.T) {
	clearFolioEnv(t)
	// godotenv never overrides variables that are already set, so unset it.
	require.NoError(t, os.Unsetenv("EXCHANGE_RATE_API_KEY"))
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "EXCHANGE_RATE_API_KEY=from-dotenv\n")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		_ = os.Unsetenv("EXCHANGE_RATE_API_KEY")
	})

	cfg, err := Load(filepath.Join(dir, "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Rates.APIKey)
}

func TestIsMacOSWindows(t *testing.T) {
	if IsMacOS() != (runtime.GOOS == "darwin") {
		t.Fatalf("IsMacOS mismatch")
	}
	if IsWindows() != (runtime.GOOS == "windows") {
		t.Fatalf("IsWindows mismatch")
	}
}
