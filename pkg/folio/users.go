package folio

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// GetUserCurrency returns the user's reporting currency, or the default.
func (c *Core) GetUserCurrency(ctx context.Context, userID string) (string, error) {
	var currency string
	err := c.run().queryRow(ctx, "SELECT currency FROM users WHERE id = ?", userID).Scan(&currency)
	if errors.Is(err, sql.ErrNoRows) {
		return c.defaultCurrency, nil
	}
	if err != nil {
		return "", dbError("get user currency", err)
	}
	return currency, nil
}

// SetUserCurrency stores the user's reporting currency.
func (c *Core) SetUserCurrency(ctx context.Context, userID, currency string) error {
	userID = strings.TrimSpace(userID)
	currency = normalizeCurrency(currency)
	if userID == "" {
		return validationError("user_id required")
	}
	if !isSupportedUserCurrency(currency) {
		return validationError("unsupported currency: %s", currency)
	}
	now := c.timestamp()
	_, err := c.run().exec(ctx, `
		INSERT INTO users (id, currency, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET currency = excluded.currency, updated_at = excluded.updated_at
	`, userID, currency, now, now)
	return dbError("set user currency", err)
}

func (c *Core) resolveCurrency(ctx context.Context, userID, currency string) (string, error) {
	currency = normalizeCurrency(currency)
	if currency != "" {
		if !IsValidCurrency(currency) {
			return "", validationError("invalid currency: %s", currency)
		}
		return currency, nil
	}
	return c.GetUserCurrency(ctx, userID)
}
