package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"folio/pkg/folio"
)

const (
	defaultDBName     = "folio.db"
	defaultConfigName = "folio.toml"
)

// Config is the application configuration loaded from folio.toml with
// environment overrides.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Rates   RatesConfig   `toml:"rates"`
	Report  ReportConfig  `toml:"report"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// StorageConfig selects the database. DatabaseURL (postgres) wins over the
// SQLite file at DBPath, which defaults to DataDir/DBName.
type StorageConfig struct {
	DataDir     string `toml:"data_dir"`
	DBName      string `toml:"db_name"`
	DBPath      string `toml:"db_path"`
	DatabaseURL string `toml:"database_url"`
}

type RatesConfig struct {
	APIKey            string  `toml:"api_key"`
	CacheTTL          string  `toml:"cache_ttl"`
	Timeout           string  `toml:"timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// GetCacheTTL parses CacheTTL, defaulting to one hour.
func (c *RatesConfig) GetCacheTTL() time.Duration {
	return parseDuration(c.CacheTTL, time.Hour)
}

// GetTimeout parses Timeout, defaulting to ten seconds.
func (c *RatesConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

type ReportConfig struct {
	DefaultCurrency      string `toml:"default_currency"`
	Weighting            string `toml:"weighting"`
	DividendMonths       int    `toml:"dividend_months"`
	DividendWindowDays   int    `toml:"dividend_window_days"`
	SnapshotDays         int    `toml:"snapshot_days"`
	PriceRefreshInterval string `toml:"price_refresh_interval"`
	TimeZone             string `toml:"time_zone"`
}

type LoggingConfig struct {
	Level         string `toml:"level"`
	Format        string `toml:"format"`
	RetentionDays int    `toml:"retention_days"`
}

var runtimeDataDir string
var runtimePort int

func IsMacOS() bool {
	return runtime.GOOS == "darwin"
}

func IsWindows() bool {
	return runtime.GOOS == "windows"
}

// SetRuntimeDataDir overrides the data directory for this process (flag value).
func SetRuntimeDataDir(dir string) {
	runtimeDataDir = dir
}

// SetRuntimePort overrides the listen port for this process (flag value).
func SetRuntimePort(port int) {
	if port > 0 {
		runtimePort = port
	}
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		Storage: StorageConfig{
			DBName: defaultDBName,
		},
		Rates: RatesConfig{
			CacheTTL:          "1h",
			Timeout:           "10s",
			RequestsPerSecond: 2,
		},
		Report: ReportConfig{
			DefaultCurrency:      folio.DefaultCurrency,
			Weighting:            "even_split",
			DividendMonths:       12,
			DividendWindowDays:   14,
			SnapshotDays:         90,
			PriceRefreshInterval: "24h",
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			RetentionDays: 7,
		},
	}
}

// Load reads .env files, then merges the given TOML files in order (later
// files override earlier; missing files are skipped), then applies
// environment overrides. With no paths the default locations are used.
func Load(paths ...string) (*Config, error) {
	loadDotEnv()

	if len(paths) == 0 {
		paths = DefaultConfigPaths()
	}
	cfg := NewDefaultConfig()
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfigPaths lists folio.toml in the app config dir and the working
// directory, then FOLIO_CONFIG when set.
func DefaultConfigPaths() []string {
	var paths []string
	if dir, err := appConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, defaultConfigName))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, defaultConfigName))
	}
	if env := os.Getenv("FOLIO_CONFIG"); env != "" {
		paths = append(paths, env)
	}
	return paths
}

func loadDotEnv() {
	candidates := []string{".env"}
	if exePath, err := os.Executable(); err == nil {
		candidates = append([]string{filepath.Join(filepath.Dir(exePath), ".env")}, candidates...)
	}
	for _, path := range candidates {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FOLIO_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("FOLIO_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("FOLIO_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("FOLIO_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("FOLIO_DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("EXCHANGE_RATE_API_KEY"); v != "" {
		cfg.Rates.APIKey = v
	}
	if v := os.Getenv("FOLIO_DEFAULT_CURRENCY"); v != "" {
		cfg.Report.DefaultCurrency = v
	}
	if v := os.Getenv("FOLIO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FOLIO_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if runtimeDataDir != "" {
		cfg.Storage.DataDir = runtimeDataDir
	}
	if runtimePort > 0 {
		cfg.Server.Port = runtimePort
	}
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	c.Report.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.Report.DefaultCurrency))
	if !folio.IsValidCurrency(c.Report.DefaultCurrency) {
		return fmt.Errorf("invalid report.default_currency: %q", c.Report.DefaultCurrency)
	}
	if _, err := folio.WeightingByName(c.Report.Weighting); err != nil {
		return fmt.Errorf("invalid report.weighting: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	return nil
}

// Addr is the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func appConfigDir() (string, error) {
	if IsMacOS() {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "Folio"), nil
	}
	if IsWindows() {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = home
		}
		return filepath.Join(appData, "Folio"), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "folio"), nil
	}
	return filepath.Join(configDir, "folio"), nil
}

// DataDir returns the directory for the database and logs, creating it.
func (c *Config) DataDir() (string, error) {
	dir := c.Storage.DataDir
	if dir == "" {
		var err error
		if dir, err = appConfigDir(); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// DBPath returns the SQLite file path.
func (c *Config) DBPath() (string, error) {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath, nil
	}
	dataDir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(c.Storage.DBName)
	if name == "" {
		name = defaultDBName
	}
	return filepath.Join(dataDir, name), nil
}

// CoreOptions maps the configuration onto folio.Options.
func (c *Config) CoreOptions(logger *slog.Logger) (folio.Options, error) {
	weighting, err := folio.WeightingByName(c.Report.Weighting)
	if err != nil {
		return folio.Options{}, err
	}
	opts := folio.Options{
		DatabaseURL:           c.Storage.DatabaseURL,
		Logger:                logger,
		HTTPTimeout:           c.Rates.GetTimeout(),
		RatesAPIKey:           c.Rates.APIKey,
		RateCacheTTL:          c.Rates.GetCacheTTL(),
		RateRequestsPerSecond: c.Rates.RequestsPerSecond,
		DefaultCurrency:       c.Report.DefaultCurrency,
		Weighting:             weighting,
		DividendMonths:        c.Report.DividendMonths,
		DividendWindowDays:    c.Report.DividendWindowDays,
		SnapshotDays:          c.Report.SnapshotDays,
		PriceRefreshInterval:  parseDuration(c.Report.PriceRefreshInterval, 24*time.Hour),
		TimeZone:              c.Report.TimeZone,
	}
	if opts.DatabaseURL == "" {
		if opts.DBPath, err = c.DBPath(); err != nil {
			return folio.Options{}, err
		}
	}
	return opts, nil
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
