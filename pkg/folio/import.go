package folio

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImportColumns are the recognised CSV headers, matched case-insensitively.
var ImportColumns = []string{"Stock", "Action", "Quantity", "Price", "Commission", "Date", "Currency", "Notes"}

// ImportResult summarizes a CSV import. Errors carry 1-based file line numbers.
type ImportResult struct {
	Batch    string   `json:"batch"`
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
}

var importDateLayouts = []string{
	dateLayout,
	"2006/01/02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2 Jan 2006",
	"Jan 2, 2006",
}

func parseImportDate(value string) (string, error) {
	for _, layout := range importDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(dateLayout), nil
		}
	}
	return "", fmt.Errorf("invalid date %q", value)
}

// ImportTransactionsCSV adds one transaction per valid row. Invalid rows are
// reported and skipped; valid rows are committed independently.
func (c *Core) ImportTransactionsCSV(ctx context.Context, userID string, r io.Reader) (*ImportResult, error) {
	if userID == "" {
		return nil, validationError("user_id required")
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, validationError("empty csv")
	}
	if err != nil {
		return nil, WrapError(ErrCodeInvalidInput, "read csv header", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"stock", "action", "quantity", "price", "date"} {
		if _, ok := cols[required]; !ok {
			return nil, validationError("missing column: %s", required)
		}
	}

	result := &ImportResult{Batch: uuid.NewString(), Errors: []string{}}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return result, WrapError(ErrCodeInvalidInput, "read csv", err)
			}
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", line, err))
			continue
		}
		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		req, err := c.importRow(userID, field)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", line, err))
			continue
		}
		req.ImportBatch = &result.Batch
		if _, err := c.AddTransaction(ctx, req); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", line, err))
			continue
		}
		result.Imported++
	}

	c.logger.Info("csv import finished", "user_id", userID, "batch", result.Batch,
		"imported", result.Imported, "failed", len(result.Errors))
	return result, nil
}

func (c *Core) importRow(userID string, field func(string) string) (TransactionRequest, error) {
	req := TransactionRequest{UserID: userID, AssetName: field("stock")}
	if req.AssetName == "" {
		return req, errors.New("missing Stock name")
	}
	req.Action = Action(strings.ToLower(field("action")))
	if !req.Action.valid() {
		return req, fmt.Errorf("action must be buy or sell, got %q", field("action"))
	}
	qty, err := ParseAmount(field("quantity"))
	if err != nil || !qty.IsPositive() {
		return req, fmt.Errorf("invalid quantity %q", field("quantity"))
	}
	req.Quantity = qty
	price, err := ParseAmount(field("price"))
	if err != nil || price.IsNegative() {
		return req, fmt.Errorf("invalid price %q", field("price"))
	}
	req.Price = price
	if raw := field("commission"); raw != "" {
		commission, err := ParseAmount(raw)
		if err != nil || commission.IsNegative() {
			return req, fmt.Errorf("invalid commission %q", raw)
		}
		req.Commission = commission
	}
	raw := field("date")
	if raw == "" {
		return req, errors.New("missing Date")
	}
	if req.TransactionDate, err = parseImportDate(raw); err != nil {
		return req, err
	}
	req.Currency = field("currency")
	if req.Currency == "" {
		req.Currency = c.defaultCurrency
	}
	if notes := field("notes"); notes != "" {
		req.Notes = &notes
	}
	return req, nil
}
