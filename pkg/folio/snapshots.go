package folio

import (
	"context"

	"github.com/google/uuid"
)

// RecordPortfolioSnapshot stores the user's total cost basis on date,
// converted into currency. Empty values fall back to the user's currency and today.
// Recording the same date again overwrites it.
func (c *Core) RecordPortfolioSnapshot(ctx context.Context, userID, currency, date string) (*PortfolioSnapshot, error) {
	if userID == "" {
		return nil, validationError("user_id required")
	}
	currency, err := c.resolveCurrency(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	if date == "" {
		date = c.today()
	}
	if !isValidDate(date) {
		return nil, validationError("invalid snapshot_date: %q", date)
	}

	positions, err := c.LatestPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	total := ZeroMoney(currency)
	for _, p := range positions {
		converted, ok, err := c.convertInto(ctx, p.AmountOnHand, currency)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.logger.Warn("snapshot amount left unconverted", "user_id", userID, "from", p.AmountOnHand.Currency, "to", currency)
		}
		if total, err = total.Add(converted); err != nil {
			return nil, err
		}
	}

	now := c.timestamp()
	_, err = c.run().exec(ctx, `
		INSERT INTO portfolio_snapshots (id, user_id, snapshot_date, total_value, currency, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, snapshot_date) DO UPDATE SET
			total_value = excluded.total_value,
			currency = excluded.currency,
			updated_at = excluded.updated_at
	`, uuid.NewString(), userID, date, total.Amount, currency, now)
	if err != nil {
		return nil, dbError("record snapshot", err)
	}

	var snap PortfolioSnapshot
	err = c.run().queryRow(ctx, `
		SELECT id, user_id, snapshot_date, total_value, currency, updated_at
		FROM portfolio_snapshots WHERE user_id = ? AND snapshot_date = ?
	`, userID, date).Scan(&snap.ID, &snap.UserID, &snap.SnapshotDate, &snap.TotalValue.Amount, &snap.TotalValue.Currency, &snap.UpdatedAt)
	if err != nil {
		return nil, dbError("get snapshot", err)
	}
	c.logger.Info("portfolio snapshot recorded", "user_id", userID, "date", date, "total", snap.TotalValue.String())
	return &snap, nil
}

// ListPortfolioSnapshots returns snapshots on or after since, oldest first.
// An empty since uses the configured look-back window.
func (c *Core) ListPortfolioSnapshots(ctx context.Context, userID, since string) ([]PortfolioSnapshot, error) {
	if since == "" {
		since = addDays(c.today(), -c.snapshotDays)
	}
	rows, err := c.run().query(ctx, `
		SELECT id, user_id, snapshot_date, total_value, currency, updated_at
		FROM portfolio_snapshots
		WHERE user_id = ? AND snapshot_date >= ?
		ORDER BY snapshot_date
	`, userID, since)
	if err != nil {
		return nil, dbError("list snapshots", err)
	}
	defer rows.Close()

	out := []PortfolioSnapshot{}
	for rows.Next() {
		var s PortfolioSnapshot
		if err := rows.Scan(&s.ID, &s.UserID, &s.SnapshotDate, &s.TotalValue.Amount, &s.TotalValue.Currency, &s.UpdatedAt); err != nil {
			return nil, dbError("scan snapshot", err)
		}
		out = append(out, s)
	}
	return out, dbError("list snapshots", rows.Err())
}
