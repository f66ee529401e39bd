package folio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	exchangeRateSourceManual    = "manual"
	exchangeRateSourceAutoFetch = "auto_fetch"

	defaultRateCacheTTL     = time.Hour
	maxExchangeRateBodySize = 1 << 20
)

// ErrNoRates is returned when no provider knows the base currency.
var ErrNoRates = errors.New("no exchange rates available")

// RateProvider returns conversion rates from base to every currency it knows.
type RateProvider interface {
	Name() string
	Rates(ctx context.Context, base string) (map[string]decimal.Decimal, error)
}

// Converter converts money between currencies on a best-effort basis.
// When no rate is available the input is returned unchanged with ok=false.
type Converter interface {
	Convert(ctx context.Context, m Money, to string) (converted Money, ok bool)
}

// HTTPDoer is the subset of *http.Client used by remote providers.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RateCacheOptions configures a RateCache.
type RateCacheOptions struct {
	TTL    time.Duration
	Logger *slog.Logger
	// RequestsPerSecond throttles provider calls; zero disables throttling.
	RequestsPerSecond float64
	Now               func() time.Time
}

// RateCache memoizes provider rates per base currency for a TTL.
// It is safe for concurrent use; concurrent misses for one base share a fetch.
type RateCache struct {
	provider RateProvider
	ttl      time.Duration
	logger   *slog.Logger
	limiter  *rate.Limiter
	nowFunc  func() time.Time

	mu      sync.RWMutex
	entries map[string]rateEntry
	group   singleflight.Group
}

type rateEntry struct {
	rates   map[string]decimal.Decimal
	fetched time.Time
}

// NewRateCache wraps provider with a TTL cache.
func NewRateCache(provider RateProvider, opts RateCacheOptions) *RateCache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &RateCache{
		provider: provider,
		ttl:      defaultDuration(opts.TTL, defaultRateCacheTTL),
		logger:   logger,
		limiter:  limiter,
		nowFunc:  now,
		entries:  make(map[string]rateEntry),
	}
}

// Rates returns the cached rates for base, fetching them when missing or stale.
// Failed fetches are not cached.
func (rc *RateCache) Rates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	base = normalizeCurrency(base)
	if rates, ok := rc.cached(base); ok {
		return rates, nil
	}

	v, err, _ := rc.group.Do(base, func() (any, error) {
		if rates, ok := rc.cached(base); ok {
			return rates, nil
		}
		if rc.limiter != nil {
			if err := rc.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		rates, err := rc.provider.Rates(ctx, base)
		if err != nil {
			return nil, err
		}
		if len(rates) == 0 {
			return nil, ErrNoRates
		}
		rc.mu.Lock()
		rc.entries[base] = rateEntry{rates: rates, fetched: rc.nowFunc()}
		rc.mu.Unlock()
		return rates, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]decimal.Decimal), nil
}

func (rc *RateCache) cached(base string) (map[string]decimal.Decimal, bool) {
	rc.mu.RLock()
	entry, ok := rc.entries[base]
	rc.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if rc.nowFunc().Sub(entry.fetched) < rc.ttl {
		return entry.rates, true
	}
	rc.mu.Lock()
	if cur, ok := rc.entries[base]; ok && cur.fetched.Equal(entry.fetched) {
		delete(rc.entries, base)
	}
	rc.mu.Unlock()
	return nil, false
}

// Invalidate drops cached rates for the given bases, or all when none are given.
func (rc *RateCache) Invalidate(bases ...string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(bases) == 0 {
		rc.entries = make(map[string]rateEntry)
		return
	}
	for _, base := range bases {
		delete(rc.entries, normalizeCurrency(base))
	}
}

// Rate returns the multiplier converting from into to.
func (rc *RateCache) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = normalizeCurrency(from), normalizeCurrency(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	rates, err := rc.Rates(ctx, from)
	if err != nil {
		return decimal.Zero, err
	}
	r, ok := rates[to]
	if !ok || !r.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrNoRates, from, to)
	}
	return r, nil
}

// Convert implements Converter.
func (rc *RateCache) Convert(ctx context.Context, m Money, to string) (Money, bool) {
	to = normalizeCurrency(to)
	if m.Currency == to || to == "" {
		return m, true
	}
	r, err := rc.Rate(ctx, m.Currency, to)
	if err != nil {
		rc.logger.Warn("currency conversion unavailable", "from", m.Currency, "to", to, "err", err)
		return m, false
	}
	return NewMoney(m.Amount.Mul(r), to), true
}

// ChainProvider merges the rates of several providers.
// Earlier providers win when two know the same currency.
type ChainProvider struct {
	Providers []RateProvider
	Logger    *slog.Logger
}

func (p ChainProvider) Name() string {
	names := make([]string, 0, len(p.Providers))
	for _, provider := range p.Providers {
		names = append(names, provider.Name())
	}
	return strings.Join(names, "+")
}

func (p ChainProvider) Rates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	merged := make(map[string]decimal.Decimal)
	errs := make([]string, 0, len(p.Providers))
	for _, provider := range p.Providers {
		rates, err := provider.Rates(ctx, base)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", provider.Name(), err))
			continue
		}
		for cur, r := range rates {
			if _, exists := merged[cur]; !exists && r.IsPositive() {
				merged[cur] = r
			}
		}
	}
	if len(merged) == 0 {
		if len(errs) == 0 {
			return nil, ErrNoRates
		}
		return nil, fmt.Errorf("all providers failed (%s)", strings.Join(errs, "; "))
	}
	if len(errs) > 0 && p.Logger != nil {
		p.Logger.Debug("some rate providers failed", "base", base, "errors", strings.Join(errs, "; "))
	}
	return merged, nil
}

// ExchangeRateAPIProvider queries exchangerate-api.com (v6, API key required).
type ExchangeRateAPIProvider struct {
	APIKey  string
	BaseURL string
	Client  HTTPDoer
}

type exchangeRateAPIResponse struct {
	Result          string                     `json:"result"`
	ConversionRates map[string]decimal.Decimal `json:"conversion_rates"`
}

func (p ExchangeRateAPIProvider) Name() string { return "exchangerate_api" }

func (p ExchangeRateAPIProvider) Rates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	if p.APIKey == "" {
		return nil, errors.New("api key not configured")
	}
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = "https://v6.exchangerate-api.com"
	}
	url := fmt.Sprintf("%s/v6/%s/latest/%s", strings.TrimRight(baseURL, "/"), p.APIKey, normalizeCurrency(base))
	var payload exchangeRateAPIResponse
	if err := fetchJSONWithClient(ctx, p.Client, url, &payload); err != nil {
		return nil, err
	}
	if payload.Result != "" && strings.ToLower(payload.Result) != "success" {
		return nil, fmt.Errorf("provider status: %s", payload.Result)
	}
	return payload.ConversionRates, nil
}

// FrankfurterProvider queries the keyless ECB-backed frankfurter.app service.
type FrankfurterProvider struct {
	BaseURL string
	Client  HTTPDoer
}

type frankfurterRateResponse struct {
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (p FrankfurterProvider) Name() string { return "frankfurter" }

func (p FrankfurterProvider) Rates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = "https://api.frankfurter.app"
	}
	base = normalizeCurrency(base)
	url := fmt.Sprintf("%s/latest?from=%s", strings.TrimRight(baseURL, "/"), base)
	var payload frankfurterRateResponse
	if err := fetchJSONWithClient(ctx, p.Client, url, &payload); err != nil {
		return nil, err
	}
	if len(payload.Rates) == 0 {
		return nil, fmt.Errorf("rates missing in response")
	}
	payload.Rates[base] = decimal.NewFromInt(1)
	return payload.Rates, nil
}

// OpenERAPIProvider queries the keyless open.er-api.com service.
type OpenERAPIProvider struct {
	BaseURL string
	Client  HTTPDoer
}

type openERAPIRateResponse struct {
	Result string                     `json:"result"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

func (p OpenERAPIProvider) Name() string { return "open_er_api" }

func (p OpenERAPIProvider) Rates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = "https://open.er-api.com"
	}
	url := fmt.Sprintf("%s/v6/latest/%s", strings.TrimRight(baseURL, "/"), normalizeCurrency(base))
	var payload openERAPIRateResponse
	if err := fetchJSONWithClient(ctx, p.Client, url, &payload); err != nil {
		return nil, err
	}
	if payload.Result != "" && strings.ToLower(payload.Result) != "success" {
		return nil, fmt.Errorf("provider status: %s", payload.Result)
	}
	return payload.Rates, nil
}

// StaticProvider serves a fixed table, keyed by base then quote currency.
type StaticProvider map[string]map[string]decimal.Decimal

func (p StaticProvider) Name() string { return "static" }

func (p StaticProvider) Rates(_ context.Context, base string) (map[string]decimal.Decimal, error) {
	rates, ok := p[normalizeCurrency(base)]
	if !ok {
		return nil, ErrNoRates
	}
	return rates, nil
}

// storedRateProvider serves manually maintained rates, including inverses.
type storedRateProvider struct {
	core *Core
}

func (p storedRateProvider) Name() string { return "stored" }

func (p storedRateProvider) Rates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	base = normalizeCurrency(base)
	rows, err := p.core.run().query(ctx, `
		SELECT from_currency, to_currency, rate FROM exchange_rates
		WHERE from_currency = ? OR to_currency = ?
	`, base, base)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	direct := make(map[string]decimal.Decimal)
	inverse := make(map[string]decimal.Decimal)
	for rows.Next() {
		var from, to string
		var r Amount
		if err := rows.Scan(&from, &to, &r); err != nil {
			return nil, err
		}
		if !r.IsPositive() {
			continue
		}
		if from == base {
			direct[to] = r.Decimal
		} else {
			inverse[from] = decimal.NewFromInt(1).DivRound(r.Decimal, 12)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for cur, r := range inverse {
		if _, ok := direct[cur]; !ok {
			direct[cur] = r
		}
	}
	if len(direct) == 0 {
		return nil, ErrNoRates
	}
	return direct, nil
}

// GetExchangeRates returns all maintained exchange rates.
func (c *Core) GetExchangeRates(ctx context.Context) ([]ExchangeRate, error) {
	rows, err := c.run().query(ctx, `
		SELECT from_currency, to_currency, rate, source, updated_at
		FROM exchange_rates
		ORDER BY from_currency, to_currency
	`)
	if err != nil {
		return nil, dbError("list exchange rates", err)
	}
	defer rows.Close()

	result := make([]ExchangeRate, 0)
	for rows.Next() {
		var item ExchangeRate
		if err := rows.Scan(&item.FromCurrency, &item.ToCurrency, &item.Rate, &item.Source, &item.UpdatedAt); err != nil {
			return nil, dbError("scan exchange rate", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list exchange rates", err)
	}
	return result, nil
}

// SetExchangeRate inserts or updates a maintained exchange rate.
func (c *Core) SetExchangeRate(ctx context.Context, fromCurrency, toCurrency string, r Amount, source string) error {
	fromCurrency = normalizeCurrency(fromCurrency)
	toCurrency = normalizeCurrency(toCurrency)
	if !IsValidCurrency(fromCurrency) {
		return validationError("invalid from_currency: %s", fromCurrency)
	}
	if !IsValidCurrency(toCurrency) {
		return validationError("invalid to_currency: %s", toCurrency)
	}
	if fromCurrency == toCurrency {
		return validationError("from_currency and to_currency must differ")
	}
	if !r.IsPositive() {
		return validationError("rate must be greater than 0")
	}

	_, err := c.run().exec(ctx, `
		INSERT INTO exchange_rates (from_currency, to_currency, rate, source, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (from_currency, to_currency) DO UPDATE SET
			rate = excluded.rate,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, fromCurrency, toCurrency, r, normalizeExchangeRateSource(source), c.timestamp())
	if err != nil {
		return dbError("set exchange rate", err)
	}
	if c.rates != nil {
		c.rates.Invalidate(fromCurrency, toCurrency)
	}
	return nil
}

// RefreshExchangeRates fetches base→target rates from the remote providers
// and stores them. Per-pair failures are reported, not fatal.
func (c *Core) RefreshExchangeRates(ctx context.Context, base string, targets []string) (int, []string, error) {
	base = normalizeCurrency(base)
	if c.remote == nil {
		return 0, nil, NewError(ErrCodeInvalidInput, "no remote rate provider configured")
	}
	rates, err := c.remote.Rates(ctx, base)
	if err != nil {
		return 0, []string{fmt.Sprintf("%s: %v", base, err)}, nil
	}

	updated := 0
	failures := []string{}
	for _, target := range targets {
		target = normalizeCurrency(target)
		if target == base {
			continue
		}
		r, ok := rates[target]
		if !ok || !r.IsPositive() {
			failures = append(failures, fmt.Sprintf("%s/%s: rate missing", base, target))
			continue
		}
		if err := c.SetExchangeRate(ctx, base, target, amt(r), exchangeRateSourceAutoFetch); err != nil {
			return updated, failures, err
		}
		updated++
	}
	return updated, failures, nil
}

// Convert converts m into the target currency using the configured converter.
func (c *Core) Convert(ctx context.Context, m Money, to string) (Money, bool) {
	return c.converter.Convert(ctx, m, to)
}

func normalizeExchangeRateSource(source string) string {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return exchangeRateSourceManual
	}
	return strings.ToLower(trimmed)
}

func fetchJSONWithClient(ctx context.Context, client HTTPDoer, url string, target any) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Folio/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExchangeRateBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
