package folio

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const transactionColumns = `t.id, t.user_id, t.asset_id, a.name, t.action,
	t.quantity, t.price, t.price_currency, t.commission, t.commission_currency,
	t.amount, t.amount_currency, t.transaction_date, t.notes, t.import_batch,
	t.created_at, t.updated_at`

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	var notes, importBatch, createdAt, updatedAt sql.NullString
	if err := row.Scan(
		&t.ID, &t.UserID, &t.AssetID, &t.AssetName, &t.Action,
		&t.Quantity, &t.Price.Amount, &t.Price.Currency, &t.Commission.Amount, &t.Commission.Currency,
		&t.Amount.Amount, &t.Amount.Currency, &t.TransactionDate, &notes, &importBatch,
		&createdAt, &updatedAt,
	); err != nil {
		return Transaction{}, err
	}
	t.Notes = stringFromNull(notes)
	t.ImportBatch = stringFromNull(importBatch)
	t.CreatedAt = stringFromNull(createdAt)
	t.UpdatedAt = stringFromNull(updatedAt)
	return t, nil
}

// validateTransactionRequest normalizes req in place.
func validateTransactionRequest(req *TransactionRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.AssetName = strings.TrimSpace(req.AssetName)
	req.Action = Action(strings.ToLower(strings.TrimSpace(string(req.Action))))
	req.Currency = normalizeCurrency(req.Currency)
	req.TransactionDate = strings.TrimSpace(req.TransactionDate)

	if req.UserID == "" {
		return validationError("user_id required")
	}
	if req.AssetName == "" {
		return validationError("asset name required")
	}
	if !req.Action.valid() {
		return validationError("invalid action: %s", req.Action)
	}
	if !req.Quantity.IsPositive() {
		return validationError("quantity must be > 0")
	}
	if req.Price.IsNegative() {
		return validationError("price must be >= 0")
	}
	if req.Commission.IsNegative() {
		return validationError("commission must be >= 0")
	}
	if !IsValidCurrency(req.Currency) {
		return validationError("invalid currency: %s", req.Currency)
	}
	if !isValidDate(req.TransactionDate) {
		return validationError("invalid transaction_date: %q", req.TransactionDate)
	}
	return nil
}

// TransactionAmount derives the cash amount of a trade:
// price*quantity plus commission for buys, minus commission for sells.
func TransactionAmount(action Action, quantity, price, commission decimal.Decimal) decimal.Decimal {
	gross := price.Mul(quantity)
	if action == ActionSell {
		return gross.Sub(commission)
	}
	return gross.Add(commission)
}

// AddTransaction records a trade and recalculates the affected position.
// The asset is created on first use with the trade currency.
func (c *Core) AddTransaction(ctx context.Context, req TransactionRequest) (int64, error) {
	if req.TransactionDate == "" {
		req.TransactionDate = c.today()
	}
	if err := validateTransactionRequest(&req); err != nil {
		return 0, err
	}

	assetID, err := c.ensureAsset(ctx, c.run(), req.AssetName, req.Currency)
	if err != nil {
		return 0, dbError("ensure asset", err)
	}

	unlock := c.locks.Lock(positionKey(req.UserID, assetID))
	defer unlock()

	var id int64
	err = c.inTx(ctx, func(r runner) error {
		now := c.timestamp()
		amount := TransactionAmount(req.Action, req.Quantity.Decimal, req.Price.Decimal, req.Commission.Decimal)
		newID, err := r.insert(ctx, `
			INSERT INTO transactions (user_id, asset_id, action, quantity, price, price_currency,
				commission, commission_currency, amount, amount_currency, transaction_date,
				notes, import_batch, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, req.UserID, assetID, req.Action, req.Quantity, req.Price, req.Currency,
			req.Commission, req.Currency, amt(amount), req.Currency, req.TransactionDate,
			nullString(req.Notes), nullString(req.ImportBatch), now, now)
		if err != nil {
			return dbError("insert transaction", err)
		}
		id = newID
		return c.recalculate(ctx, r, req.UserID, assetID)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateTransaction replaces a transaction's fields, keeping its id and thus
// its position among same-day entries. Both the previous and the new asset
// are recalculated when the asset changes.
func (c *Core) UpdateTransaction(ctx context.Context, userID string, id int64, req TransactionRequest) error {
	req.UserID = userID
	if err := validateTransactionRequest(&req); err != nil {
		return err
	}
	if _, err := c.GetTransaction(ctx, userID, id); err != nil {
		return err
	}

	assetID, err := c.ensureAsset(ctx, c.run(), req.AssetName, req.Currency)
	if err != nil {
		return dbError("ensure asset", err)
	}

	existing, unlock, err := c.lockTransaction(ctx, userID, id, positionKey(userID, assetID))
	if err != nil {
		return err
	}
	defer unlock()

	return c.inTx(ctx, func(r runner) error {
		amount := TransactionAmount(req.Action, req.Quantity.Decimal, req.Price.Decimal, req.Commission.Decimal)
		res, err := r.exec(ctx, `
			UPDATE transactions SET asset_id = ?, action = ?, quantity = ?, price = ?, price_currency = ?,
				commission = ?, commission_currency = ?, amount = ?, amount_currency = ?,
				transaction_date = ?, notes = ?, updated_at = ?
			WHERE id = ? AND user_id = ?
		`, assetID, req.Action, req.Quantity, req.Price, req.Currency,
			req.Commission, req.Currency, amt(amount), req.Currency,
			req.TransactionDate, nullString(req.Notes), c.timestamp(), id, userID)
		if err != nil {
			return dbError("update transaction", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("transaction")
		}
		if err := c.recalculate(ctx, r, userID, existing.AssetID); err != nil {
			return err
		}
		if assetID != existing.AssetID {
			return c.recalculate(ctx, r, userID, assetID)
		}
		return nil
	})
}

// lockTransaction locks the pair that owns transaction id, plus extra keys.
// The owner is read again under the lock; if a concurrent update moved the
// transaction meanwhile, the locks are released and taken again.
func (c *Core) lockTransaction(ctx context.Context, userID string, id int64, extra ...string) (*Transaction, func(), error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		seen, err := c.GetTransaction(ctx, userID, id)
		if err != nil {
			return nil, nil, err
		}
		unlock := c.locks.Lock(append([]string{positionKey(userID, seen.AssetID)}, extra...)...)
		current, err := c.GetTransaction(ctx, userID, id)
		if err != nil {
			unlock()
			return nil, nil, err
		}
		if current.AssetID == seen.AssetID {
			return current, unlock, nil
		}
		unlock()
	}
}

// DeleteTransaction removes a transaction and recalculates its position.
func (c *Core) DeleteTransaction(ctx context.Context, userID string, id int64) (bool, error) {
	existing, unlock, err := c.lockTransaction(ctx, userID, id)
	if IsErrorCode(err, ErrCodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer unlock()

	deleted := false
	err = c.inTx(ctx, func(r runner) error {
		if _, err := r.exec(ctx, "DELETE FROM positions WHERE transaction_id = ?", id); err != nil {
			return dbError("delete positions", err)
		}
		if _, err := r.exec(ctx, "DELETE FROM realized_profits WHERE transaction_id = ?", id); err != nil {
			return dbError("delete realized profits", err)
		}
		res, err := r.exec(ctx, "DELETE FROM transactions WHERE id = ? AND user_id = ?", id, userID)
		if err != nil {
			return dbError("delete transaction", err)
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return c.recalculate(ctx, r, userID, existing.AssetID)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// GetTransaction fetches one of the user's transactions.
func (c *Core) GetTransaction(ctx context.Context, userID string, id int64) (*Transaction, error) {
	row := c.run().queryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions t
		JOIN assets a ON a.id = t.asset_id
		WHERE t.id = ? AND t.user_id = ?
	`, id, userID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("transaction")
	}
	if err != nil {
		return nil, dbError("get transaction", err)
	}
	return &t, nil
}

// ledger loads a pair's transactions in replay order.
func (c *Core) ledger(ctx context.Context, r runner, userID string, assetID int64) ([]Transaction, error) {
	rows, err := r.query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions t
		JOIN assets a ON a.id = t.asset_id
		WHERE t.user_id = ? AND t.asset_id = ?
		ORDER BY t.transaction_date, t.id
	`, userID, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ListTransactions returns a pair's ledger in replay order.
func (c *Core) ListTransactions(ctx context.Context, userID string, assetID int64) ([]Transaction, error) {
	txns, err := c.ledger(ctx, c.run(), userID, assetID)
	if err != nil {
		return nil, dbError("list transactions", err)
	}
	return txns, nil
}

func transactionFilterClause(filter TransactionFilter) (string, []any) {
	query := strings.Builder{}
	query.WriteString(" WHERE t.user_id = ?")
	params := []any{filter.UserID}

	if filter.AssetID != nil {
		query.WriteString(" AND t.asset_id = ?")
		params = append(params, *filter.AssetID)
	}
	if filter.Action != "" {
		query.WriteString(" AND t.action = ?")
		params = append(params, Action(strings.ToLower(string(filter.Action))))
	}
	if filter.DateFrom != "" {
		query.WriteString(" AND t.transaction_date >= ?")
		params = append(params, filter.DateFrom)
	}
	if filter.DateTo != "" {
		query.WriteString(" AND t.transaction_date <= ?")
		params = append(params, filter.DateTo)
	}
	return query.String(), params
}

// ListUserTransactions returns the user's transactions, newest first.
func (c *Core) ListUserTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	where, params := transactionFilterClause(filter)
	query := `SELECT ` + transactionColumns + `
		FROM transactions t
		JOIN assets a ON a.id = t.asset_id` + where +
		" ORDER BY t.transaction_date DESC, t.id DESC LIMIT ? OFFSET ?"
	params = append(params, limit, offset)

	rows, err := c.run().query(ctx, query, params...)
	if err != nil {
		return nil, dbError("list transactions", err)
	}
	defer rows.Close()

	results := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, dbError("scan transaction", err)
		}
		results = append(results, t)
	}
	return results, dbError("list transactions", rows.Err())
}

// CountUserTransactions returns the number of transactions matching filter.
func (c *Core) CountUserTransactions(ctx context.Context, filter TransactionFilter) (int, error) {
	where, params := transactionFilterClause(filter)
	var count int
	if err := c.run().queryRow(ctx, "SELECT COUNT(*) FROM transactions t"+where, params...).Scan(&count); err != nil {
		return 0, dbError("count transactions", err)
	}
	return count, nil
}
