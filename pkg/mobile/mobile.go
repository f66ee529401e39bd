package mobile

import (
	"context"
	"encoding/json"

	"folio/pkg/folio"
)

// Core wraps the folio core for gomobile bindings. Bound methods take and
// return plain strings, so structured values travel as JSON.
type Core struct {
	core *folio.Core
}

// Open initializes the core with a database path.
func Open(dbPath string) (*Core, error) {
	core, err := folio.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return &Core{core: core}, nil
}

// Close releases resources.
func (c *Core) Close() error {
	if c == nil || c.core == nil {
		return nil
	}
	return c.core.Close()
}

// GetPositionsJSON returns the user's latest positions as JSON.
func (c *Core) GetPositionsJSON(userID string) (string, error) {
	data, err := c.core.LatestPositions(context.Background(), userID)
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

// GetReportJSON returns the valuation report in currency (or the user's
// preferred currency when empty) as JSON.
func (c *Core) GetReportJSON(userID, currency string) (string, error) {
	data, err := c.core.BuildValuationReport(context.Background(), userID, currency)
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

// GetTransactionsJSON queries the user's transactions with optional filter JSON.
func (c *Core) GetTransactionsJSON(userID, filterJSON string) (string, error) {
	filter := folio.TransactionFilter{UserID: userID}
	if filterJSON != "" {
		var payload transactionFilterPayload
		if err := json.Unmarshal([]byte(filterJSON), &payload); err != nil {
			return "", err
		}
		filter.AssetID = payload.AssetID
		filter.Action = folio.Action(payload.Action)
		filter.DateFrom = payload.DateFrom
		filter.DateTo = payload.DateTo
		filter.Limit = payload.Limit
		filter.Offset = payload.Offset
	}
	data, err := c.core.ListUserTransactions(context.Background(), filter)
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

// AddTransactionJSON creates a transaction from JSON and returns id JSON.
func (c *Core) AddTransactionJSON(userID, payloadJSON string) (string, error) {
	var payload transactionPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return "", err
	}
	id, err := c.core.AddTransaction(context.Background(), folio.TransactionRequest{
		UserID:          userID,
		AssetName:       payload.Asset,
		Action:          folio.Action(payload.Action),
		Quantity:        payload.Quantity,
		Price:           payload.Price,
		Commission:      payload.Commission,
		Currency:        payload.Currency,
		TransactionDate: payload.TransactionDate,
		Notes:           payload.Notes,
	})
	if err != nil {
		return "", err
	}
	return marshalJSON(map[string]any{"id": id})
}

// DeleteTransaction deletes one of the user's transactions by id.
func (c *Core) DeleteTransaction(userID string, id int64) (bool, error) {
	return c.core.DeleteTransaction(context.Background(), userID, id)
}

// Recalculate replays every asset of the user and returns how many were rebuilt.
func (c *Core) Recalculate(userID string) (int, error) {
	return c.core.RecalculateUser(context.Background(), userID)
}

// UpdatePriceJSON sets an asset's current price from {"asset_id","price","currency"}.
func (c *Core) UpdatePriceJSON(payloadJSON string) error {
	var payload pricePayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return err
	}
	return c.core.UpdateAssetPrice(context.Background(), payload.AssetID,
		folio.NewMoney(payload.Price.Decimal, payload.Currency))
}

func marshalJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type transactionFilterPayload struct {
	AssetID  *int64 `json:"asset_id"`
	Action   string `json:"action"`
	DateFrom string `json:"date_from"`
	DateTo   string `json:"date_to"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

type transactionPayload struct {
	Asset           string       `json:"asset"`
	Action          string       `json:"action"`
	Quantity        folio.Amount `json:"quantity"`
	Price           folio.Amount `json:"price"`
	Commission      folio.Amount `json:"commission"`
	Currency        string       `json:"currency"`
	TransactionDate string       `json:"transaction_date"`
	Notes           *string      `json:"notes"`
}

type pricePayload struct {
	AssetID  int64        `json:"asset_id"`
	Price    folio.Amount `json:"price"`
	Currency string       `json:"currency"`
}
