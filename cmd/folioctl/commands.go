package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"folio/pkg/folio"
)

type recalcCmd struct {
	*app
	asset string
}

func (*recalcCmd) Name() string     { return "recalc" }
func (*recalcCmd) Synopsis() string { return "rebuild position snapshots from the transaction history" }
func (*recalcCmd) Usage() string {
	return `folioctl [-user <id>] recalc [-asset <name>]

  Replays the user's transactions in date order and rewrites every position
  snapshot and sell profit. Without -asset all of the user's assets are replayed.
`
}

func (c *recalcCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.asset, "asset", "", "Only replay this asset")
}

func (c *recalcCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	core, _, err := c.openCore()
	if err != nil {
		return c.fail(err)
	}
	defer closeCore(core, c.stderr)

	if c.asset == "" {
		n, err := core.RecalculateUser(ctx, c.user)
		if err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stdout, "recalculated %d assets for %s\n", n, c.user)
		return subcommands.ExitSuccess
	}

	asset, err := core.GetAssetByName(ctx, c.asset)
	if err != nil {
		return c.fail(err)
	}
	if asset == nil {
		return c.fail(fmt.Errorf("unknown asset %q", c.asset))
	}
	if err := core.Recalculate(ctx, c.user, asset.ID); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "recalculated %s for %s\n", asset.Name, c.user)
	return subcommands.ExitSuccess
}

type positionsCmd struct {
	*app
	json bool
}

func (*positionsCmd) Name() string     { return "positions" }
func (*positionsCmd) Synopsis() string { return "list the latest holding of every asset" }
func (*positionsCmd) Usage() string {
	return `folioctl [-user <id>] positions [-json]
`
}

func (c *positionsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.json, "json", false, "Print JSON instead of a table")
}

func (c *positionsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	core, _, err := c.openCore()
	if err != nil {
		return c.fail(err)
	}
	defer closeCore(core, c.stderr)

	positions, err := core.LatestPositions(ctx, c.user)
	if err != nil {
		return c.fail(err)
	}
	if c.json {
		return c.printJSON(positions)
	}

	w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ASSET\tQUANTITY\tAVG PRICE\tAMOUNT\tDATE\tTAGS")
	for _, p := range positions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Asset.Name, p.QuantityOnHand.String(), p.AveragePrice.String(),
			p.AmountOnHand.String(), p.TransactionDate, strings.Join(p.Tags, ","))
	}
	if err := w.Flush(); err != nil {
		return c.fail(err)
	}
	return subcommands.ExitSuccess
}

type importCmd struct {
	*app
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import transactions from a CSV file" }
func (*importCmd) Usage() string {
	return `folioctl [-user <id>] import <file.csv | ->

  Expected header: Stock,Action,Quantity,Price,Commission,Date,Currency,Notes
  Rejected rows are reported and do not stop the import.
`
}

func (*importCmd) SetFlags(*flag.FlagSet) {}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(c.stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	in, err := readInput(f.Arg(0))
	if err != nil {
		return c.fail(err)
	}
	defer in.Close()

	core, _, err := c.openCore()
	if err != nil {
		return c.fail(err)
	}
	defer closeCore(core, c.stderr)

	result, err := core.ImportTransactionsCSV(ctx, c.user, in)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "imported %d transactions (batch %s)\n", result.Imported, result.Batch)
	for _, msg := range result.Errors {
		fmt.Fprintln(c.stdout, "  "+msg)
	}
	return subcommands.ExitSuccess
}

type reportCmd struct {
	*app
	currency string
	json     bool
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "value holdings and print allocation breakdowns" }
func (*reportCmd) Usage() string {
	return `folioctl [-user <id>] report [-currency <code>] [-json]

  Converts every position into one currency and prints totals, the
  per-position valuation, and the tag allocation. The currency defaults to
  the user's preferred currency.
`
}

func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.currency, "currency", "", "Report currency")
	f.BoolVar(&c.json, "json", false, "Print the full report as JSON")
}

func (c *reportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	core, _, err := c.openCore()
	if err != nil {
		return c.fail(err)
	}
	defer closeCore(core, c.stderr)

	report, err := core.BuildValuationReport(ctx, c.user, c.currency)
	if err != nil {
		return c.fail(err)
	}
	if c.json {
		return c.printJSON(report)
	}
	if err := writeReport(c.stdout, report); err != nil {
		return c.fail(err)
	}
	return subcommands.ExitSuccess
}

func writeReport(out io.Writer, r *folio.ValuationReport) error {
	money := func(a folio.Amount) string {
		return folio.NewMoney(a.Decimal, r.Currency).String()
	}
	fmt.Fprintf(out, "Valuation for %s in %s (%s)\n\n", r.UserID, r.Currency, r.Weighting)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total value\t%s\n", money(r.TotalValue))
	fmt.Fprintf(w, "Total cost\t%s\n", money(r.TotalCost))
	fmt.Fprintf(w, "Unrealized\t%s\n", money(r.TotalUnrealizedProfit))
	fmt.Fprintf(w, "Realized\t%s\n", money(r.TotalRealizedProfit))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "ASSET\tQUANTITY\tCOST\tVALUE\tUNREALIZED")
	for _, p := range r.Positions {
		name := p.Asset.Name
		if !p.HasPrice {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, p.QuantityOnHand.String(),
			money(p.ConvertedAmountOnHand), money(p.CurrentValue), money(p.UnrealizedProfit))
	}
	fmt.Fprintln(w)

	if len(r.TagAllocation) > 0 {
		fmt.Fprintln(w, "TAG\tVALUE\tSHARE")
		for _, s := range r.TagAllocation {
			fmt.Fprintf(w, "%s\t%s\t%s%%\n", s.Label, money(s.Value), s.Percentage.StringFixed(2))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(r.UnconvertedCurrencies) > 0 {
		fmt.Fprintf(out, "\nno rate for %s; amounts left unconverted\n", strings.Join(r.UnconvertedCurrencies, ", "))
	}
	return nil
}

type snapshotCmd struct {
	*app
	currency string
	date     string
}

func (*snapshotCmd) Name() string     { return "snapshot" }
func (*snapshotCmd) Synopsis() string { return "record the portfolio's total value for a day" }
func (*snapshotCmd) Usage() string {
	return `folioctl [-user <id>] snapshot [-currency <code>] [-date YYYY-MM-DD]

  Stores the total amount on hand, converted into the currency. Recording
  the same date again replaces the earlier value.
`
}

func (c *snapshotCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.currency, "currency", "", "Snapshot currency (defaults to the user's)")
	f.StringVar(&c.date, "date", "", "Snapshot date (defaults to today)")
}

func (c *snapshotCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	core, _, err := c.openCore()
	if err != nil {
		return c.fail(err)
	}
	defer closeCore(core, c.stderr)

	snap, err := core.RecordPortfolioSnapshot(ctx, c.user, c.currency, c.date)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "%s %s\n", snap.SnapshotDate, snap.TotalValue.String())
	return subcommands.ExitSuccess
}

type ratesCmd struct {
	*app
}

func (*ratesCmd) Name() string     { return "rates" }
func (*ratesCmd) Synopsis() string { return "list, set or refresh exchange rates" }
func (*ratesCmd) Usage() string {
	return `folioctl rates list
folioctl rates set <FROM> <TO> <RATE>
folioctl rates refresh [BASE [TARGET...]]

  refresh fetches BASE rates (default USD) from the remote providers for
  the given targets, or every supported user currency.
`
}

func (*ratesCmd) SetFlags(*flag.FlagSet) {}

func (c *ratesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) == 0 {
		args = []string{"list"}
	}

	core, _, err := c.openCore()
	if err != nil {
		return c.fail(err)
	}
	defer closeCore(core, c.stderr)

	switch args[0] {
	case "list":
		rates, err := core.GetExchangeRates(ctx)
		if err != nil {
			return c.fail(err)
		}
		w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PAIR\tRATE\tSOURCE\tUPDATED")
		for _, r := range rates {
			fmt.Fprintf(w, "%s/%s\t%s\t%s\t%s\n", r.FromCurrency, r.ToCurrency, r.Rate.String(), r.Source, r.UpdatedAt)
		}
		if err := w.Flush(); err != nil {
			return c.fail(err)
		}
	case "set":
		if len(args) != 4 {
			fmt.Fprint(c.stderr, c.Usage())
			return subcommands.ExitUsageError
		}
		rate, err := decimal.NewFromString(args[3])
		if err != nil {
			return c.fail(fmt.Errorf("invalid rate %q", args[3]))
		}
		if err := core.SetExchangeRate(ctx, args[1], args[2], folio.Amount{Decimal: rate}, "manual"); err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stdout, "%s/%s = %s\n", strings.ToUpper(args[1]), strings.ToUpper(args[2]), rate.String())
	case "refresh":
		base := "USD"
		targets := folio.SupportedUserCurrencies
		if len(args) > 1 {
			base = args[1]
		}
		if len(args) > 2 {
			targets = args[2:]
		}
		updated, failures, err := core.RefreshExchangeRates(ctx, base, targets)
		if err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stdout, "updated %d rates\n", updated)
		for _, msg := range failures {
			fmt.Fprintln(c.stdout, "  "+msg)
		}
		if updated == 0 && len(failures) > 0 {
			return c.fail(errors.New("refresh failed"))
		}
	default:
		fmt.Fprint(c.stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return subcommands.ExitSuccess
}
