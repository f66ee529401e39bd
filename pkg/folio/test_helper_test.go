package folio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// testNow is the fixed clock used by tests: 2025-06-15 12:00 UTC.
var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// testRates is a small fixed rate table so tests never reach the network.
var testRates = StaticProvider{
	"USD": {"SGD": decimal.RequireFromString("1.35"), "EUR": decimal.RequireFromString("0.90")},
	"SGD": {"USD": decimal.RequireFromString("0.74")},
	"EUR": {"SGD": decimal.RequireFromString("1.45")},
}

// setupTestDB creates a temporary database for testing and returns a Core instance.
// The caller should defer cleanup() to remove the temp file.
func setupTestDB(t *testing.T) (*Core, func()) {
	t.Helper()
	return setupTestDBWithOptions(t, Options{})
}

func setupTestDBWithOptions(t *testing.T, opts Options) (*Core, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "folio-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	opts.DBPath = filepath.Join(tmpDir, "test.db")
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	if opts.RateProviders == nil && opts.Converter == nil {
		opts.RateProviders = []RateProvider{testRates}
	}
	core, err := OpenWithOptions(opts)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open test db: %v", err)
	}

	cleanup := func() {
		core.Close()
		os.RemoveAll(tmpDir)
	}

	return core, cleanup
}

// testTrade adds a transaction and fails the test on error.
func testTrade(t *testing.T, core *Core, userID, asset string, action Action, qty, price, commission, currency, date string) int64 {
	t.Helper()
	id, err := core.AddTransaction(context.Background(), TransactionRequest{
		UserID:          userID,
		AssetName:       asset,
		Action:          action,
		Quantity:        MustAmount(qty),
		Price:           MustAmount(price),
		Commission:      MustAmount(commission),
		Currency:        currency,
		TransactionDate: date,
	})
	if err != nil {
		t.Fatalf("failed to add %s %s: %v", action, asset, err)
	}
	return id
}

func testAssetID(t *testing.T, core *Core, name string) int64 {
	t.Helper()
	asset, err := core.GetAssetByName(context.Background(), name)
	if err != nil || asset == nil {
		t.Fatalf("asset %s not found: %v", name, err)
	}
	return asset.ID
}

// assertAmount fails the test if got does not equal the decimal want.
func assertAmount(t *testing.T, got Amount, want string, msg string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s: got %s, want %s", msg, got.String(), want)
	}
}

// assertNoError fails the test if err is not nil.
func assertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

// assertErrorCode fails the test unless err carries code.
func assertErrorCode(t *testing.T, err error, code ErrorCode, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected %s error but got nil", msg, code)
	}
	if !IsErrorCode(err, code) {
		t.Fatalf("%s: expected %s, got %v", msg, code, err)
	}
}
