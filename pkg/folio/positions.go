package folio

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ReplayResult is the outcome of replaying one (user, asset) ledger.
type ReplayResult struct {
	Currency        string
	Snapshots       []PositionSnapshot
	RealizedProfits []RealizedProfit
}

// Final returns the last snapshot, if any.
func (r ReplayResult) Final() (PositionSnapshot, bool) {
	if len(r.Snapshots) == 0 {
		return PositionSnapshot{}, false
	}
	return r.Snapshots[len(r.Snapshots)-1], true
}

// ReplayLedger runs the weighted-average cost algorithm over txns.
// It is a pure function of its input; entries are taken in
// (transaction_date, id) order regardless of the slice order.
//
// The position currency is pinned to the first entry's amount currency.
// Later entries in another currency are accumulated numerically as-is.
func ReplayLedger(txns []Transaction) ReplayResult {
	ordered := make([]Transaction, len(txns))
	copy(ordered, txns)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TransactionDate != ordered[j].TransactionDate {
			return ordered[i].TransactionDate < ordered[j].TransactionDate
		}
		return ordered[i].ID < ordered[j].ID
	})

	result := ReplayResult{Currency: ledgerCurrency(ordered)}
	if len(ordered) == 0 {
		return result
	}
	result.Snapshots = make([]PositionSnapshot, 0, len(ordered))

	// cost is the exact basis of the quantity on hand; a buy-only ledger
	// divides once per snapshot and never re-multiplies a rounded average.
	avg := decimal.Zero
	qty := decimal.Zero
	cost := decimal.Zero
	for _, tx := range ordered {
		q := tx.Quantity.Decimal
		p := tx.Price.Amount.Decimal
		commission := tx.Commission.Amount.Decimal

		switch tx.Action {
		case ActionBuy:
			totalCost := p.Mul(q).Add(commission)
			newQty := qty.Add(q)
			cost = cost.Add(totalCost)
			if newQty.IsPositive() {
				avg = cost.Div(newQty)
			} else {
				avg = decimal.Zero
				cost = decimal.Zero
			}
			qty = newQty
		case ActionSell:
			realized := p.Sub(avg).Mul(q).Sub(commission)
			qty = decimal.Max(decimal.Zero, qty.Sub(q))
			cost = avg.Mul(qty)
			id := tx.ID
			result.RealizedProfits = append(result.RealizedProfits, RealizedProfit{
				UserID:        tx.UserID,
				AssetID:       tx.AssetID,
				Kind:          ProfitTrade,
				TransactionID: &id,
				Amount:        NewMoney(realized, sellCurrency(tx, result.Currency)),
			})
		}

		result.Snapshots = append(result.Snapshots, PositionSnapshot{
			UserID:          tx.UserID,
			AssetID:         tx.AssetID,
			TransactionID:   tx.ID,
			TransactionDate: tx.TransactionDate,
			AveragePrice:    NewMoney(avg, result.Currency),
			QuantityOnHand:  amt(qty),
			AmountOnHand:    NewMoney(avg.Mul(qty), result.Currency),
		})
	}
	return result
}

func ledgerCurrency(ordered []Transaction) string {
	if len(ordered) == 0 {
		return DefaultCurrency
	}
	first := ordered[0]
	if first.Amount.Currency != "" {
		return first.Amount.Currency
	}
	if first.Price.Currency != "" {
		return first.Price.Currency
	}
	return DefaultCurrency
}

func sellCurrency(tx Transaction, fallback string) string {
	if tx.Amount.Currency != "" {
		return tx.Amount.Currency
	}
	return fallback
}

// Recalculate rebuilds every position snapshot and trade profit of a
// (user, asset) pair from its ledger. It is idempotent and atomic.
func (c *Core) Recalculate(ctx context.Context, userID string, assetID int64) error {
	if userID == "" {
		return validationError("user_id required")
	}
	unlock := c.locks.Lock(positionKey(userID, assetID))
	defer unlock()

	return c.inTx(ctx, func(r runner) error {
		return c.recalculate(ctx, r, userID, assetID)
	})
}

// recalculate assumes the caller holds the pair lock and an open transaction.
func (c *Core) recalculate(ctx context.Context, r runner, userID string, assetID int64) error {
	start := time.Now()
	txns, err := c.ledger(ctx, r, userID, assetID)
	if err != nil {
		return dbError("load ledger", err)
	}

	if _, err := r.exec(ctx, "DELETE FROM positions WHERE user_id = ? AND asset_id = ?", userID, assetID); err != nil {
		return dbError("clear positions", err)
	}
	if _, err := r.exec(ctx, "DELETE FROM realized_profits WHERE user_id = ? AND asset_id = ? AND kind = ?", userID, assetID, ProfitTrade); err != nil {
		return dbError("clear realized profits", err)
	}

	result := ReplayLedger(txns)
	for _, snap := range result.Snapshots {
		if _, err := r.exec(ctx, `
			INSERT INTO positions (user_id, asset_id, transaction_id, average_price, average_price_currency,
				quantity_on_hand, amount_on_hand, amount_on_hand_currency)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, userID, assetID, snap.TransactionID, snap.AveragePrice.Amount, snap.AveragePrice.Currency,
			snap.QuantityOnHand, snap.AmountOnHand.Amount, snap.AmountOnHand.Currency); err != nil {
			return dbError("write position", err)
		}
	}
	createdAt := c.timestamp()
	for _, profit := range result.RealizedProfits {
		if _, err := r.exec(ctx, `
			INSERT INTO realized_profits (user_id, asset_id, kind, transaction_id, amount, currency, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, userID, assetID, ProfitTrade, *profit.TransactionID, profit.Amount.Amount, profit.Amount.Currency, createdAt); err != nil {
			return dbError("write realized profit", err)
		}
	}

	c.logger.Debug("positions recalculated",
		"user_id", userID,
		"asset_id", assetID,
		"transactions", len(txns),
		"duration", time.Since(start))
	return nil
}

// RecalculateUser replays every asset the user has transactions for.
func (c *Core) RecalculateUser(ctx context.Context, userID string) (int, error) {
	rows, err := c.run().query(ctx, "SELECT DISTINCT asset_id FROM transactions WHERE user_id = ? ORDER BY asset_id", userID)
	if err != nil {
		return 0, dbError("list user assets", err)
	}
	var assetIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, dbError("scan asset id", err)
		}
		assetIDs = append(assetIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, dbError("list user assets", err)
	}
	for i, id := range assetIDs {
		if err := c.Recalculate(ctx, userID, id); err != nil {
			return i, err
		}
	}
	return len(assetIDs), nil
}

const positionColumns = `p.id, p.user_id, p.asset_id, p.transaction_id, t.transaction_date,
	p.average_price, p.average_price_currency, p.quantity_on_hand,
	p.amount_on_hand, p.amount_on_hand_currency`

func scanPosition(row rowScanner, extra ...any) (PositionSnapshot, error) {
	var s PositionSnapshot
	dest := []any{
		&s.ID, &s.UserID, &s.AssetID, &s.TransactionID, &s.TransactionDate,
		&s.AveragePrice.Amount, &s.AveragePrice.Currency, &s.QuantityOnHand,
		&s.AmountOnHand.Amount, &s.AmountOnHand.Currency,
	}
	err := row.Scan(append(dest, extra...)...)
	return s, err
}

// LatestPositions returns the most recent snapshot per asset for the user,
// excluding assets whose latest snapshot holds nothing.
func (c *Core) LatestPositions(ctx context.Context, userID string) ([]Position, error) {
	rows, err := c.run().query(ctx, `
		SELECT `+positionColumns+`, `+assetColumns+`
		FROM positions p
		JOIN transactions t ON t.id = p.transaction_id
		JOIN assets a ON a.id = p.asset_id
		WHERE p.user_id = ?
		ORDER BY t.transaction_date DESC, t.id DESC
	`, userID)
	if err != nil {
		return nil, dbError("query positions", err)
	}
	defer rows.Close()

	seen := make(map[int64]bool)
	latest := []Position{}
	for rows.Next() {
		var ar assetRow
		snap, err := scanPosition(rows, ar.targets()...)
		if err != nil {
			return nil, dbError("scan position", err)
		}
		if seen[snap.AssetID] {
			continue
		}
		// The newest snapshot decides, even when it is empty.
		seen[snap.AssetID] = true
		if !snap.QuantityOnHand.IsPositive() {
			continue
		}
		asset, err := ar.asset()
		if err != nil {
			return nil, dbError("scan asset", err)
		}
		latest = append(latest, Position{PositionSnapshot: snap, Asset: asset})
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("query positions", err)
	}

	tags, err := c.assetTagsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range latest {
		latest[i].Tags = tags[latest[i].AssetID]
		if latest[i].Tags == nil {
			latest[i].Tags = []string{}
		}
	}
	return latest, nil
}

// PositionHistory returns every snapshot of a pair with its transaction, in ledger order.
func (c *Core) PositionHistory(ctx context.Context, userID string, assetID int64) ([]PositionHistoryEntry, error) {
	txns, err := c.ledger(ctx, c.run(), userID, assetID)
	if err != nil {
		return nil, dbError("load ledger", err)
	}
	byTx := make(map[int64]Transaction, len(txns))
	for _, tx := range txns {
		byTx[tx.ID] = tx
	}

	rows, err := c.run().query(ctx, `
		SELECT `+positionColumns+`
		FROM positions p
		JOIN transactions t ON t.id = p.transaction_id
		WHERE p.user_id = ? AND p.asset_id = ?
		ORDER BY t.transaction_date, t.id
	`, userID, assetID)
	if err != nil {
		return nil, dbError("query position history", err)
	}
	defer rows.Close()

	history := []PositionHistoryEntry{}
	for rows.Next() {
		snap, err := scanPosition(rows)
		if err != nil {
			return nil, dbError("scan position", err)
		}
		history = append(history, PositionHistoryEntry{Transaction: byTx[snap.TransactionID], Position: snap})
	}
	return history, dbError("query position history", rows.Err())
}

// RealizedProfits lists a user's realized profits, optionally for one asset.
func (c *Core) RealizedProfits(ctx context.Context, userID string, assetID *int64) ([]RealizedProfit, error) {
	query := `
		SELECT id, user_id, asset_id, kind, transaction_id, dividend_id, amount, currency, created_at
		FROM realized_profits WHERE user_id = ?`
	args := []any{userID}
	if assetID != nil {
		query += " AND asset_id = ?"
		args = append(args, *assetID)
	}
	query += " ORDER BY id"
	rows, err := c.run().query(ctx, query, args...)
	if err != nil {
		return nil, dbError("query realized profits", err)
	}
	defer rows.Close()

	profits := []RealizedProfit{}
	for rows.Next() {
		var p RealizedProfit
		var createdAt string
		if err := rows.Scan(&p.ID, &p.UserID, &p.AssetID, &p.Kind, &p.TransactionID, &p.DividendID,
			&p.Amount.Amount, &p.Amount.Currency, &createdAt); err != nil {
			return nil, dbError("scan realized profit", err)
		}
		p.CreatedAt = &createdAt
		profits = append(profits, p)
	}
	return profits, dbError("query realized profits", rows.Err())
}
