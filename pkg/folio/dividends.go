package folio

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const dividendColumns = "d.id, d.asset_id, a.name, d.ex_date, d.pay_date, d.value, d.currency"

func scanDividend(row rowScanner) (Dividend, error) {
	var d Dividend
	var payDate sql.NullString
	if err := row.Scan(&d.ID, &d.AssetID, &d.AssetName, &d.ExDate, &payDate, &d.Value.Amount, &d.Value.Currency); err != nil {
		return Dividend{}, err
	}
	d.PayDate = stringFromNull(payDate)
	return d, nil
}

// AddDividend records a per-share distribution. A second event for the
// same asset and ex date replaces the first.
func (c *Core) AddDividend(ctx context.Context, req DividendRequest) (*Dividend, error) {
	asset, err := c.GetAsset(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if !isValidDate(req.ExDate) {
		return nil, validationError("invalid ex_date: %q", req.ExDate)
	}
	if req.PayDate != nil && *req.PayDate != "" && !isValidDate(*req.PayDate) {
		return nil, validationError("invalid pay_date: %q", *req.PayDate)
	}
	if req.Value.IsNegative() {
		return nil, validationError("value must be >= 0")
	}
	currency := normalizeCurrency(req.Currency)
	if currency == "" {
		currency = asset.Currency
	}
	if !IsValidCurrency(currency) {
		return nil, validationError("invalid currency: %s", currency)
	}

	_, err = c.run().exec(ctx, `
		INSERT INTO dividends (asset_id, ex_date, pay_date, value, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (asset_id, ex_date) DO UPDATE SET
			pay_date = excluded.pay_date,
			value = excluded.value,
			currency = excluded.currency
	`, req.AssetID, req.ExDate, nullString(req.PayDate), req.Value, currency, c.timestamp())
	if err != nil {
		return nil, dbError("add dividend", err)
	}
	row := c.run().queryRow(ctx, `SELECT `+dividendColumns+`
		FROM dividends d JOIN assets a ON a.id = d.asset_id
		WHERE d.asset_id = ? AND d.ex_date = ?`, req.AssetID, req.ExDate)
	d, err := scanDividend(row)
	if err != nil {
		return nil, dbError("get dividend", err)
	}
	return &d, nil
}

// GetDividend returns a dividend event by id.
func (c *Core) GetDividend(ctx context.Context, id int64) (*Dividend, error) {
	row := c.run().queryRow(ctx, `SELECT `+dividendColumns+`
		FROM dividends d JOIN assets a ON a.id = d.asset_id WHERE d.id = ?`, id)
	d, err := scanDividend(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("dividend")
	}
	if err != nil {
		return nil, dbError("get dividend", err)
	}
	return &d, nil
}

// ListDividends returns dividend events ordered by ex date, optionally for one asset.
func (c *Core) ListDividends(ctx context.Context, assetID *int64) ([]Dividend, error) {
	query := `SELECT ` + dividendColumns + ` FROM dividends d JOIN assets a ON a.id = d.asset_id`
	args := []any{}
	if assetID != nil {
		query += " WHERE d.asset_id = ?"
		args = append(args, *assetID)
	}
	return c.queryDividends(ctx, query+" ORDER BY d.ex_date, d.id", args...)
}

func (c *Core) queryDividends(ctx context.Context, query string, args ...any) ([]Dividend, error) {
	rows, err := c.run().query(ctx, query, args...)
	if err != nil {
		return nil, dbError("list dividends", err)
	}
	defer rows.Close()

	out := []Dividend{}
	for rows.Next() {
		d, err := scanDividend(rows)
		if err != nil {
			return nil, dbError("scan dividend", err)
		}
		out = append(out, d)
	}
	return out, dbError("list dividends", rows.Err())
}

// DeleteDividend removes a dividend event and the income recorded for it.
func (c *Core) DeleteDividend(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := c.inTx(ctx, func(r runner) error {
		if _, err := r.exec(ctx, "DELETE FROM realized_profits WHERE dividend_id = ?", id); err != nil {
			return err
		}
		res, err := r.exec(ctx, "DELETE FROM dividends WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, dbError("delete dividend", err)
	}
	return deleted, nil
}

// quantityHeldBefore returns the user's holding at the end of the day before date.
func (c *Core) quantityHeldBefore(ctx context.Context, r runner, userID string, assetID int64, date string) (decimal.Decimal, error) {
	var qty Amount
	err := r.queryRow(ctx, `
		SELECT p.quantity_on_hand
		FROM positions p
		JOIN transactions t ON t.id = p.transaction_id
		WHERE p.user_id = ? AND p.asset_id = ? AND t.transaction_date < ?
		ORDER BY t.transaction_date DESC, t.id DESC
		LIMIT 1
	`, userID, assetID, date).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return qty.Decimal, nil
}

// RecordDividendIncome books the user's income from a dividend event:
// per-share value × quantity held before the ex date × (1 − withholding tax).
// Recording again replaces the previous amount.
func (c *Core) RecordDividendIncome(ctx context.Context, userID string, dividendID int64) (*RealizedProfit, error) {
	if userID == "" {
		return nil, validationError("user_id required")
	}
	div, err := c.GetDividend(ctx, dividendID)
	if err != nil {
		return nil, err
	}
	asset, err := c.GetAsset(ctx, div.AssetID)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(positionKey(userID, div.AssetID))
	defer unlock()

	var profit *RealizedProfit
	err = c.inTx(ctx, func(r runner) error {
		qty, err := c.quantityHeldBefore(ctx, r, userID, div.AssetID, div.ExDate)
		if err != nil {
			return err
		}
		if !qty.IsPositive() {
			return NewError(ErrCodeInvalidInput, "no position held before ex date")
		}
		income := div.Value.Amount.Mul(qty)
		if w := asset.DividendWithholdingTax; w != nil {
			income = income.Mul(decimal.NewFromInt(1).Sub(w.Decimal))
		}
		createdAt := c.timestamp()
		id, err := r.insert(ctx, `
			INSERT INTO realized_profits (user_id, asset_id, kind, dividend_id, amount, currency, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, dividend_id) DO UPDATE SET
				amount = excluded.amount,
				currency = excluded.currency,
				created_at = excluded.created_at
		`, userID, div.AssetID, ProfitDividend, dividendID, amt(income), div.Value.Currency, createdAt)
		if err != nil {
			return err
		}
		did := dividendID
		profit = &RealizedProfit{
			ID:         id,
			UserID:     userID,
			AssetID:    div.AssetID,
			Kind:       ProfitDividend,
			DividendID: &did,
			Amount:     NewMoney(income, div.Value.Currency),
			CreatedAt:  &createdAt,
		}
		return nil
	})
	if err != nil {
		return nil, dbError("record dividend income", err)
	}
	return profit, nil
}

// DividendSeries is one asset's monthly dividend income.
type DividendSeries struct {
	AssetID   int64    `json:"asset_id"`
	AssetName string   `json:"asset_name"`
	Values    []Amount `json:"values"`
	Total     Amount   `json:"total"`
}

// DividendChart is dividend income bucketed by calendar month (YYYY-MM labels).
type DividendChart struct {
	Currency string           `json:"currency"`
	Labels   []string         `json:"labels"`
	Series   []DividendSeries `json:"series"`
	Total    Amount           `json:"total"`
}

// DividendEvent is a dividend with the user's estimated payout.
type DividendEvent struct {
	Dividend
	Quantity       Amount `json:"quantity"`
	EstimatedTotal Money  `json:"estimated_total"`
}

// monthLabels returns n consecutive YYYY-MM labels ending with now's month.
func monthLabels(now time.Time, n int) []string {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	labels := make([]string, n)
	for i := 0; i < n; i++ {
		labels[i] = first.AddDate(0, i-(n-1), 0).Format("2006-01")
	}
	return labels
}

// DividendsByMonth rolls up the user's dividend income over the trailing
// window of months, bucketed by pay date (ex date when unpaid), per asset.
func (c *Core) DividendsByMonth(ctx context.Context, userID, currency string) (*DividendChart, error) {
	currency, err := c.resolveCurrency(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	chart, _, err := c.dividendChart(ctx, userID, currency)
	return chart, err
}

func (c *Core) dividendChart(ctx context.Context, userID, currency string) (*DividendChart, []string, error) {
	labels := monthLabels(c.nowLocal(), c.dividendMonths)
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	rows, err := c.run().query(ctx, `
		SELECT rp.asset_id, a.name, d.ex_date, d.pay_date, rp.amount, rp.currency
		FROM realized_profits rp
		JOIN dividends d ON d.id = rp.dividend_id
		JOIN assets a ON a.id = rp.asset_id
		WHERE rp.user_id = ? AND rp.kind = ?
		ORDER BY a.name, d.ex_date
	`, userID, ProfitDividend)
	if err != nil {
		return nil, nil, dbError("query dividend income", err)
	}
	type income struct {
		assetID int64
		name    string
		month   string
		amount  Money
	}
	var incomes []income
	for rows.Next() {
		var in income
		var exDate string
		var payDate sql.NullString
		if err := rows.Scan(&in.assetID, &in.name, &exDate, &payDate, &in.amount.Amount, &in.amount.Currency); err != nil {
			rows.Close()
			return nil, nil, dbError("scan dividend income", err)
		}
		date := exDate
		if payDate.Valid && payDate.String != "" {
			date = payDate.String
		}
		if len(date) < 7 {
			continue
		}
		in.month = date[:7]
		if _, ok := index[in.month]; !ok {
			continue
		}
		incomes = append(incomes, in)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, dbError("query dividend income", err)
	}

	chart := &DividendChart{Currency: currency, Labels: labels, Series: []DividendSeries{}, Total: amt(zero)}
	total := ZeroMoney(currency)
	seriesIndex := map[int64]int{}
	var unconverted []string
	for _, in := range incomes {
		converted, ok, err := c.convertInto(ctx, in.amount, currency)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			unconverted = append(unconverted, in.amount.Currency)
		}
		i, exists := seriesIndex[in.assetID]
		if !exists {
			values := make([]Amount, len(labels))
			for j := range values {
				values[j] = amt(zero)
			}
			chart.Series = append(chart.Series, DividendSeries{AssetID: in.assetID, AssetName: in.name, Values: values, Total: amt(zero)})
			i = len(chart.Series) - 1
			seriesIndex[in.assetID] = i
		}
		s := &chart.Series[i]
		m := index[in.month]
		bucket, err := NewMoney(s.Values[m].Decimal, currency).Add(converted)
		if err != nil {
			return nil, nil, err
		}
		seriesTotal, err := NewMoney(s.Total.Decimal, currency).Add(converted)
		if err != nil {
			return nil, nil, err
		}
		if total, err = total.Add(converted); err != nil {
			return nil, nil, err
		}
		s.Values[m] = bucket.Amount
		s.Total = seriesTotal.Amount
	}
	chart.Total = total.Amount
	return chart, unconverted, nil
}

// UpcomingDividends lists dividends going ex within the window ahead, soonest first.
func (c *Core) UpcomingDividends(ctx context.Context, userID, currency string) ([]DividendEvent, error) {
	currency, err := c.resolveCurrency(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	held, err := c.heldQuantities(ctx, userID)
	if err != nil {
		return nil, err
	}
	events, _, err := c.upcomingDividends(ctx, held, currency)
	return events, err
}

// RecentDividends lists dividends paid within the window behind, latest first.
func (c *Core) RecentDividends(ctx context.Context, userID, currency string) ([]DividendEvent, error) {
	currency, err := c.resolveCurrency(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	held, err := c.heldQuantities(ctx, userID)
	if err != nil {
		return nil, err
	}
	events, _, err := c.recentDividends(ctx, held, currency)
	return events, err
}

func (c *Core) heldQuantities(ctx context.Context, userID string) (map[int64]decimal.Decimal, error) {
	positions, err := c.LatestPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	held := make(map[int64]decimal.Decimal, len(positions))
	for _, p := range positions {
		held[p.AssetID] = p.QuantityOnHand.Decimal
	}
	return held, nil
}

func (c *Core) upcomingDividends(ctx context.Context, held map[int64]decimal.Decimal, currency string) ([]DividendEvent, []string, error) {
	today := c.today()
	until := addDays(today, c.dividendWindowDays)
	divs, err := c.queryDividends(ctx, `SELECT `+dividendColumns+`
		FROM dividends d JOIN assets a ON a.id = d.asset_id
		WHERE d.ex_date >= ? AND d.ex_date <= ?
		ORDER BY d.ex_date, d.id`, today, until)
	if err != nil {
		return nil, nil, err
	}
	return c.estimateDividends(ctx, divs, held, currency)
}

func (c *Core) recentDividends(ctx context.Context, held map[int64]decimal.Decimal, currency string) ([]DividendEvent, []string, error) {
	today := c.today()
	since := addDays(today, -c.dividendWindowDays)
	divs, err := c.queryDividends(ctx, `SELECT `+dividendColumns+`
		FROM dividends d JOIN assets a ON a.id = d.asset_id
		WHERE d.pay_date IS NOT NULL AND d.pay_date >= ? AND d.pay_date <= ?
		ORDER BY d.pay_date DESC, d.id DESC`, since, today)
	if err != nil {
		return nil, nil, err
	}
	return c.estimateDividends(ctx, divs, held, currency)
}

// estimateDividends values each event at the current holding and keeps positive totals.
func (c *Core) estimateDividends(ctx context.Context, divs []Dividend, held map[int64]decimal.Decimal, currency string) ([]DividendEvent, []string, error) {
	events := []DividendEvent{}
	var unconverted []string
	for _, d := range divs {
		qty, ok := held[d.AssetID]
		if !ok {
			continue
		}
		total, converted, err := c.convertInto(ctx, d.Value.Mul(qty), currency)
		if err != nil {
			return nil, nil, err
		}
		if !converted {
			unconverted = append(unconverted, d.Value.Currency)
		}
		if !total.Amount.IsPositive() {
			continue
		}
		events = append(events, DividendEvent{Dividend: d, Quantity: amt(qty), EstimatedTotal: total})
	}
	return events, unconverted, nil
}

func sortedUnique(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := []string{}
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
