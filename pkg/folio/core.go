package folio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Options controls Core initialization.
type Options struct {
	// DBPath selects an embedded SQLite database file.
	DBPath string
	// DatabaseURL selects a PostgreSQL database and takes precedence over DBPath.
	DatabaseURL string
	Logger      *slog.Logger

	HTTPClient            HTTPDoer
	HTTPTimeout           time.Duration
	RatesAPIKey           string
	RateProviders         []RateProvider
	RateCacheTTL          time.Duration
	RateRequestsPerSecond float64
	// Converter replaces the built-in rate cache entirely when set.
	Converter Converter

	DefaultCurrency      string
	Weighting            AllocationWeighting
	DividendMonths       int
	DividendWindowDays   int
	SnapshotDays         int
	PriceRefreshInterval time.Duration
	TimeZone             string
	Now                  func() time.Time
}

// Core provides access to Folio business logic and storage.
type Core struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	dbPath  string

	rates     *RateCache
	remote    RateProvider
	converter Converter
	locks     *keyLocker

	defaultCurrency      string
	weighting            AllocationWeighting
	dividendMonths       int
	dividendWindowDays   int
	snapshotDays         int
	priceRefreshInterval time.Duration
	location             *time.Location
	now                  func() time.Time
}

// Open initializes a Core using the provided SQLite database path.
func Open(dbPath string) (*Core, error) {
	return OpenWithOptions(Options{DBPath: dbPath})
}

// OpenWithOptions initializes a Core using the provided options.
func OpenWithOptions(opts Options) (*Core, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, d, cleanPath, err := openDatabase(opts, logger)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := initDatabase(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}

	defaultCurrency := normalizeCurrency(opts.DefaultCurrency)
	if defaultCurrency == "" {
		defaultCurrency = DefaultCurrency
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	weighting := opts.Weighting
	if weighting == nil {
		weighting = EvenSplit{}
	}

	c := &Core{
		db:                   db,
		dialect:              d,
		logger:               logger,
		dbPath:               cleanPath,
		locks:                newKeyLocker(),
		defaultCurrency:      defaultCurrency,
		weighting:            weighting,
		dividendMonths:       defaultInt(opts.DividendMonths, 12),
		dividendWindowDays:   defaultInt(opts.DividendWindowDays, 14),
		snapshotDays:         defaultInt(opts.SnapshotDays, 90),
		priceRefreshInterval: defaultDuration(opts.PriceRefreshInterval, 24*time.Hour),
		location:             loadLocation(opts.TimeZone),
		now:                  now,
	}

	c.remote = remoteProvider(opts, logger)
	if opts.Converter != nil {
		c.converter = opts.Converter
	} else {
		providers := []RateProvider{storedRateProvider{core: c}}
		if c.remote != nil {
			providers = append(providers, c.remote)
		}
		c.rates = NewRateCache(ChainProvider{Providers: providers, Logger: logger}, RateCacheOptions{
			TTL:               opts.RateCacheTTL,
			Logger:            logger,
			RequestsPerSecond: opts.RateRequestsPerSecond,
			Now:               now,
		})
		c.converter = c.rates
	}

	logger.Debug("core opened", "dialect", d.String(), "default_currency", defaultCurrency)
	return c, nil
}

func openDatabase(opts Options, logger *slog.Logger) (*sql.DB, dialect, string, error) {
	if opts.DatabaseURL != "" {
		db, err := sql.Open("postgres", opts.DatabaseURL)
		if err != nil {
			return nil, dialectPostgres, "", fmt.Errorf("open db: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, dialectPostgres, "", fmt.Errorf("ping db: %w", err)
		}
		return db, dialectPostgres, "", nil
	}

	if opts.DBPath == "" {
		return nil, dialectSQLite, "", errors.New("db path is required")
	}
	cleanPath := filepath.Clean(opts.DBPath)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, dialectSQLite, "", fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", cleanPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, dialectSQLite, "", fmt.Errorf("open db: %w", err)
	}
	// SQLite performs best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Warn("pragma journal_mode failed", "err", err)
	}
	return db, dialectSQLite, cleanPath, nil
}

func remoteProvider(opts Options, logger *slog.Logger) RateProvider {
	if len(opts.RateProviders) > 0 {
		return ChainProvider{Providers: opts.RateProviders, Logger: logger}
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultDuration(opts.HTTPTimeout, 10*time.Second)}
	}
	providers := make([]RateProvider, 0, 3)
	if opts.RatesAPIKey != "" {
		providers = append(providers, ExchangeRateAPIProvider{APIKey: opts.RatesAPIKey, Client: client})
	}
	providers = append(providers, FrankfurterProvider{Client: client}, OpenERAPIProvider{Client: client})
	return ChainProvider{Providers: providers, Logger: logger}
}

// Close releases database resources.
func (c *Core) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DBPath returns the underlying SQLite path; empty for PostgreSQL.
func (c *Core) DBPath() string {
	return c.dbPath
}

// Logger returns the logger the core was opened with.
func (c *Core) Logger() *slog.Logger {
	if c == nil {
		return slog.Default()
	}
	return c.logger
}

// Ping checks database connectivity.
func (c *Core) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func defaultDuration(v time.Duration, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultInt(v int, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
