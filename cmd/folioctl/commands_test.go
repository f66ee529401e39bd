package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/pkg/folio"
)

const tradesCSV = "Stock,Action,Quantity,Price,Commission,Date,Currency,Notes\n" +
	"DBS,buy,10,30,0,2025-01-02,SGD,\n" +
	"DBS,buy,10,40,0,2025-02-03,SGD,\n" +
	"DBS,sell,5,45,0,2025-03-01,SGD,\n"

type testCLI struct {
	t      *testing.T
	dir    string
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	for _, key := range []string{"FOLIO_USER", "FOLIO_DATA_DIR", "FOLIO_DB_PATH", "FOLIO_DATABASE_URL", "FOLIO_CONFIG"} {
		t.Setenv(key, "")
	}
	return &testCLI{t: t, dir: t.TempDir()}
}

// run executes one folioctl invocation against the temp data dir.
func (c *testCLI) run(args ...string) subcommands.ExitStatus {
	c.t.Helper()
	c.stdout.Reset()
	c.stderr.Reset()

	a := &app{
		stdout: &c.stdout,
		stderr: &c.stderr,
		tune: func(o *folio.Options) {
			o.Now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
			o.RateProviders = []folio.RateProvider{folio.StaticProvider{
				"USD": {"SGD": decimal.RequireFromString("1.35"), "EUR": decimal.RequireFromString("0.9")},
			}}
		},
	}
	fs := flag.NewFlagSet("folioctl", flag.ContinueOnError)
	commander := newCommander(fs, "folioctl", a)
	base := []string{"-config", filepath.Join(c.dir, "folio.toml"), "-data-dir", c.dir, "-user", "alice"}
	require.NoError(c.t, fs.Parse(append(base, args...)))
	return commander.Execute(context.Background())
}

func (c *testCLI) importTrades() {
	c.t.Helper()
	path := filepath.Join(c.dir, "trades.csv")
	require.NoError(c.t, os.WriteFile(path, []byte(tradesCSV), 0o644))
	require.Equal(c.t, subcommands.ExitSuccess, c.run("import", path), c.stderr.String())
}

func TestImportAndPositions(t *testing.T) {
	cli := newTestCLI(t)
	cli.importTrades()
	assert.Contains(t, cli.stdout.String(), "imported 3 transactions")

	require.Equal(t, subcommands.ExitSuccess, cli.run("positions", "-json"), cli.stderr.String())
	var positions []folio.Position
	require.NoError(t, json.Unmarshal(cli.stdout.Bytes(), &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, "DBS", positions[0].Asset.Name)
	assert.True(t, positions[0].QuantityOnHand.Equal(decimal.NewFromInt(15)), positions[0].QuantityOnHand.String())
	assert.True(t, positions[0].AveragePrice.Amount.Equal(decimal.NewFromInt(35)), positions[0].AveragePrice.Amount.String())

	require.Equal(t, subcommands.ExitSuccess, cli.run("positions"))
	assert.Contains(t, cli.stdout.String(), "ASSET")
	assert.Contains(t, cli.stdout.String(), "DBS")
	assert.Contains(t, cli.stdout.String(), "2025-03-01")
}

func TestImportUsage(t *testing.T) {
	cli := newTestCLI(t)
	assert.Equal(t, subcommands.ExitUsageError, cli.run("import"))
	assert.Equal(t, subcommands.ExitFailure, cli.run("import", filepath.Join(cli.dir, "missing.csv")))
}

func TestRecalc(t *testing.T) {
	cli := newTestCLI(t)
	cli.importTrades()

	require.Equal(t, subcommands.ExitSuccess, cli.run("recalc"), cli.stderr.String())
	assert.Contains(t, cli.stdout.String(), "recalculated 1 assets for alice")

	require.Equal(t, subcommands.ExitSuccess, cli.run("recalc", "-asset", "DBS"), cli.stderr.String())
	assert.Contains(t, cli.stdout.String(), "recalculated DBS for alice")

	assert.Equal(t, subcommands.ExitFailure, cli.run("recalc", "-asset", "NOPE"))
	assert.Contains(t, cli.stderr.String(), `unknown asset "NOPE"`)
}

func TestReport(t *testing.T) {
	cli := newTestCLI(t)
	cli.importTrades()

	require.Equal(t, subcommands.ExitSuccess, cli.run("report", "-currency", "SGD", "-json"), cli.stderr.String())
	var report folio.ValuationReport
	require.NoError(t, json.Unmarshal(cli.stdout.Bytes(), &report))
	assert.Equal(t, "SGD", report.Currency)
	require.Len(t, report.Positions, 1)
	assert.False(t, report.Positions[0].HasPrice)
	assert.True(t, report.TotalValue.Equal(decimal.NewFromInt(525)), report.TotalValue.String())

	require.Equal(t, subcommands.ExitSuccess, cli.run("report", "-currency", "SGD"), cli.stderr.String())
	out := cli.stdout.String()
	assert.Contains(t, out, "Valuation for alice in SGD")
	assert.Contains(t, out, "Total value")
	assert.Contains(t, out, "DBS *")

	assert.Equal(t, subcommands.ExitFailure, cli.run("report", "-currency", "NOPE"))
}

func TestSnapshot(t *testing.T) {
	cli := newTestCLI(t)
	cli.importTrades()

	require.Equal(t, subcommands.ExitSuccess, cli.run("snapshot", "-currency", "SGD", "-date", "2025-06-01"), cli.stderr.String())
	assert.Contains(t, cli.stdout.String(), "2025-06-01 ")
	assert.Contains(t, cli.stdout.String(), "525")

	assert.Equal(t, subcommands.ExitFailure, cli.run("snapshot", "-date", "June"))
}

func TestRates(t *testing.T) {
	cli := newTestCLI(t)

	require.Equal(t, subcommands.ExitSuccess, cli.run("rates", "set", "usd", "sgd", "1.3"), cli.stderr.String())
	assert.Contains(t, cli.stdout.String(), "USD/SGD = 1.3")

	require.Equal(t, subcommands.ExitSuccess, cli.run("rates"), cli.stderr.String())
	assert.Contains(t, cli.stdout.String(), "USD/SGD")
	assert.Contains(t, cli.stdout.String(), "manual")

	require.Equal(t, subcommands.ExitSuccess, cli.run("rates", "refresh", "USD", "SGD", "EUR"), cli.stderr.String())
	assert.Contains(t, cli.stdout.String(), "updated 2 rates")

	assert.Equal(t, subcommands.ExitFailure, cli.run("rates", "refresh", "USD", "CHF"))
	assert.Contains(t, cli.stdout.String(), "USD/CHF: rate missing")

	assert.Equal(t, subcommands.ExitFailure, cli.run("rates", "set", "USD", "SGD", "abc"))
	assert.Equal(t, subcommands.ExitUsageError, cli.run("rates", "set", "USD"))
	assert.Equal(t, subcommands.ExitUsageError, cli.run("rates", "bogus"))
}
