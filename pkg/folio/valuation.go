package folio

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const valuationConcurrency = 8

// ValuedPosition is a latest position expressed in the report currency.
type ValuedPosition struct {
	Position
	ConvertedAveragePrice Amount `json:"converted_average_price"`
	ConvertedAmountOnHand Amount `json:"converted_amount_on_hand"`
	ConvertedCurrentPrice Amount `json:"converted_current_price"`
	CurrentValue          Amount `json:"current_value"`
	UnrealizedProfit      Amount `json:"unrealized_profit"`
	// HasPrice is false when the asset has no known price and the
	// average price stands in for it.
	HasPrice bool `json:"has_price"`
}

// ValuationReport is the read-only dashboard view of a user's holdings.
type ValuationReport struct {
	UserID      string `json:"user_id"`
	Currency    string `json:"currency"`
	GeneratedAt string `json:"generated_at"`
	Weighting   string `json:"weighting"`

	Positions             []ValuedPosition `json:"positions"`
	TotalValue            Amount           `json:"total_value"`
	TotalCost             Amount           `json:"total_cost"`
	TotalUnrealizedProfit Amount           `json:"total_unrealized_profit"`
	TotalRealizedProfit   Amount           `json:"total_realized_profit"`

	TagAllocation        []AllocationSlice `json:"tag_allocation"`
	GroupAllocations     []GroupAllocation `json:"group_allocations"`
	InvestmentAllocation []AllocationSlice `json:"investment_allocation"`

	Dividends         *DividendChart      `json:"dividends"`
	UpcomingDividends []DividendEvent     `json:"upcoming_dividends"`
	RecentDividends   []DividendEvent     `json:"recent_dividends"`
	Snapshots         []PortfolioSnapshot `json:"snapshots"`

	// UnconvertedCurrencies lists currencies for which no rate was found;
	// amounts in them are included unconverted.
	UnconvertedCurrencies []string `json:"unconverted_currencies"`
}

// currencyTracker collects currencies that failed to convert.
type currencyTracker struct {
	mu   sync.Mutex
	seen []string
}

func (t *currencyTracker) add(currencies ...string) {
	t.mu.Lock()
	t.seen = append(t.seen, currencies...)
	t.mu.Unlock()
}

func (t *currencyTracker) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedUnique(t.seen)
}

// ValuePosition converts one position into currency. The second result lists
// currencies that had no rate; those amounts are carried at face value.
func (c *Core) ValuePosition(ctx context.Context, p Position, currency string) (ValuedPosition, []string, error) {
	currency = normalizeCurrency(currency)
	var missing []string
	convert := func(m Money) (Money, error) {
		out, ok, err := c.convertInto(ctx, m, currency)
		if !ok && err == nil {
			missing = append(missing, m.Currency)
		}
		return out, err
	}

	vp := ValuedPosition{Position: p}
	avg, err := convert(p.AveragePrice)
	if err != nil {
		return vp, nil, err
	}
	onHand, err := convert(p.AmountOnHand)
	if err != nil {
		return vp, nil, err
	}
	cur := avg
	if price, ok := p.Asset.CurrentPrice(); ok {
		if cur, err = convert(price); err != nil {
			return vp, nil, err
		}
		vp.HasPrice = true
	}
	diff, err := cur.Sub(avg)
	if err != nil {
		return vp, nil, err
	}

	qty := p.QuantityOnHand.Decimal
	vp.ConvertedAveragePrice = avg.Amount
	vp.ConvertedAmountOnHand = onHand.Amount
	vp.ConvertedCurrentPrice = cur.Amount
	vp.CurrentValue = cur.Mul(qty).Amount
	vp.UnrealizedProfit = diff.Mul(qty).Amount
	return vp, missing, nil
}

// convertInto converts m for aggregation in currency. When the converter has
// no rate, the amount is relabelled in currency at face value and ok is false.
// A converter reporting success in any other currency is a mismatch error.
func (c *Core) convertInto(ctx context.Context, m Money, currency string) (Money, bool, error) {
	out, ok := c.converter.Convert(ctx, m, currency)
	if !ok {
		return NewMoney(m.Amount.Decimal, currency), false, nil
	}
	if out.Currency != currency {
		return Money{}, false, WrapError(ErrCodeCurrencyMismatch, "converter returned wrong currency",
			fmt.Errorf("%s -> %s gave %s", m.Currency, currency, out.Currency))
	}
	return out, true, nil
}

// BuildValuationReport values the user's latest positions in currency (the
// user's preferred currency when empty) and derives allocations, dividend
// rollups and snapshot history. Conversion failures never fail the report.
func (c *Core) BuildValuationReport(ctx context.Context, userID, currency string) (*ValuationReport, error) {
	if userID == "" {
		return nil, validationError("user_id required")
	}
	currency, err := c.resolveCurrency(ctx, userID, currency)
	if err != nil {
		return nil, err
	}

	positions, err := c.LatestPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups, err := c.ListPortfolios(ctx, userID)
	if err != nil {
		return nil, err
	}
	profits, err := c.RealizedProfits(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	var missing currencyTracker
	valued := make([]ValuedPosition, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(valuationConcurrency)
	for i := range positions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vp, m, err := c.ValuePosition(gctx, positions[i], currency)
			if err != nil {
				return err
			}
			valued[i] = vp
			missing.add(m...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(valued, func(i, j int) bool {
		return valued[i].CurrentValue.GreaterThan(valued[j].CurrentValue.Decimal)
	})

	totalValue, totalCost, totalUnrealized := ZeroMoney(currency), ZeroMoney(currency), ZeroMoney(currency)
	for _, vp := range valued {
		if totalValue, err = totalValue.Add(NewMoney(vp.CurrentValue.Decimal, currency)); err != nil {
			return nil, err
		}
		if totalCost, err = totalCost.Add(NewMoney(vp.ConvertedAmountOnHand.Decimal, currency)); err != nil {
			return nil, err
		}
		if totalUnrealized, err = totalUnrealized.Add(NewMoney(vp.UnrealizedProfit.Decimal, currency)); err != nil {
			return nil, err
		}
	}

	totalRealized := ZeroMoney(currency)
	for _, p := range profits {
		if p.Kind != ProfitTrade {
			continue
		}
		converted, ok, err := c.convertInto(ctx, p.Amount, currency)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing.add(p.Amount.Currency)
		}
		if totalRealized, err = totalRealized.Add(converted); err != nil {
			return nil, err
		}
	}

	held := make(map[int64]decimal.Decimal, len(positions))
	for _, p := range positions {
		held[p.AssetID] = p.QuantityOnHand.Decimal
	}
	chart, m, err := c.dividendChart(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	missing.add(m...)
	upcoming, m, err := c.upcomingDividends(ctx, held, currency)
	if err != nil {
		return nil, err
	}
	missing.add(m...)
	recent, m, err := c.recentDividends(ctx, held, currency)
	if err != nil {
		return nil, err
	}
	missing.add(m...)
	snapshots, err := c.ListPortfolioSnapshots(ctx, userID, "")
	if err != nil {
		return nil, err
	}

	report := &ValuationReport{
		UserID:                userID,
		Currency:              currency,
		GeneratedAt:           c.timestamp(),
		Weighting:             c.weighting.Name(),
		Positions:             valued,
		TotalValue:            totalValue.Amount,
		TotalCost:             totalCost.Amount,
		TotalUnrealizedProfit: totalUnrealized.Amount,
		TotalRealizedProfit:   totalRealized.Amount,
		TagAllocation:         tagAllocation(valued, c.weighting, totalValue.Amount.Decimal),
		GroupAllocations:      groupAllocations(valued, groups, c.weighting),
		InvestmentAllocation:  investmentAllocation(valued, totalValue.Amount.Decimal),
		Dividends:             chart,
		UpcomingDividends:     upcoming,
		RecentDividends:       recent,
		Snapshots:             snapshots,
		UnconvertedCurrencies: missing.list(),
	}
	if len(report.UnconvertedCurrencies) > 0 {
		c.logger.Warn("valuation report has unconverted amounts",
			"user_id", userID, "currency", currency, "unconverted", report.UnconvertedCurrencies)
	}
	return report, nil
}
