package folio

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const assetColumns = `a.id, a.name, a.currency, a.price, a.price_currency, a.price_updated_at,
	a.price_url, a.dividend_url, a.distributes_dividends, a.dividend_withholding_tax,
	a.created_at, a.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// assetRow holds the raw nullable columns of an asset while scanning.
type assetRow struct {
	a              Asset
	price          sql.NullString
	priceCurrency  sql.NullString
	priceUpdatedAt sql.NullString
	priceURL       sql.NullString
	dividendURL    sql.NullString
	withholding    sql.NullString
	created        sql.NullString
	updated        sql.NullString
}

func (ar *assetRow) targets() []any {
	return []any{
		&ar.a.ID, &ar.a.Name, &ar.a.Currency, &ar.price, &ar.priceCurrency, &ar.priceUpdatedAt,
		&ar.priceURL, &ar.dividendURL, &ar.a.DistributesDividends, &ar.withholding,
		&ar.created, &ar.updated,
	}
}

func (ar *assetRow) asset() (Asset, error) {
	a := ar.a
	var err error
	if a.Price, err = nullAmount(ar.price); err != nil {
		return Asset{}, err
	}
	if a.DividendWithholdingTax, err = nullAmount(ar.withholding); err != nil {
		return Asset{}, err
	}
	a.PriceCurrency = stringFromNull(ar.priceCurrency)
	a.PriceUpdatedAt = stringFromNull(ar.priceUpdatedAt)
	a.PriceURL = stringFromNull(ar.priceURL)
	a.DividendURL = stringFromNull(ar.dividendURL)
	a.CreatedAt = stringFromNull(ar.created)
	a.UpdatedAt = stringFromNull(ar.updated)
	return a, nil
}

func scanAsset(row rowScanner) (Asset, error) {
	var ar assetRow
	if err := row.Scan(ar.targets()...); err != nil {
		return Asset{}, err
	}
	return ar.asset()
}

func nullAmount(v sql.NullString) (*Amount, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	a, err := ParseAmount(v.String)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func amountArg(a *Amount) any {
	if a == nil {
		return nil
	}
	return a.String()
}

func validateAssetRequest(req *AssetRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Currency = normalizeCurrency(req.Currency)
	if req.Name == "" {
		return validationError("name required")
	}
	if !IsValidCurrency(req.Currency) {
		return validationError("invalid currency: %s", req.Currency)
	}
	if w := req.DividendWithholdingTax; w != nil && (w.IsNegative() || w.GreaterThan(NewAmountFromInt(1).Decimal)) {
		return validationError("dividend_withholding_tax must be between 0 and 1")
	}
	return nil
}

// CreateAsset registers a new asset. Names are unique and case-sensitive.
func (c *Core) CreateAsset(ctx context.Context, req AssetRequest) (*Asset, error) {
	if err := validateAssetRequest(&req); err != nil {
		return nil, err
	}
	existing, err := c.GetAssetByName(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewError(ErrCodeDuplicate, "asset already exists: "+req.Name)
	}
	now := c.timestamp()
	id, err := c.run().insert(ctx, `
		INSERT INTO assets (name, currency, price_url, dividend_url, distributes_dividends,
			dividend_withholding_tax, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, req.Name, req.Currency, nullString(req.PriceURL), nullString(req.DividendURL),
		boolInt(req.DistributesDividends), amountArg(req.DividendWithholdingTax), now, now)
	if err != nil {
		return nil, dbError("create asset", err)
	}
	return c.GetAsset(ctx, id)
}

// ensureAsset finds an asset by name or creates it with the given currency.
func (c *Core) ensureAsset(ctx context.Context, r runner, name, currency string) (int64, error) {
	now := c.timestamp()
	if _, err := r.exec(ctx, `
		INSERT INTO assets (name, currency, distributes_dividends, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT (name) DO NOTHING
	`, name, currency, now, now); err != nil {
		return 0, err
	}
	var id int64
	if err := r.queryRow(ctx, "SELECT id FROM assets WHERE name = ?", name).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetAsset returns an asset by id.
func (c *Core) GetAsset(ctx context.Context, id int64) (*Asset, error) {
	row := c.run().queryRow(ctx, "SELECT "+assetColumns+" FROM assets a WHERE a.id = ?", id)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("asset")
	}
	if err != nil {
		return nil, dbError("get asset", err)
	}
	return &a, nil
}

// GetAssetByName returns the asset with the exact name, or nil.
func (c *Core) GetAssetByName(ctx context.Context, name string) (*Asset, error) {
	row := c.run().queryRow(ctx, "SELECT "+assetColumns+" FROM assets a WHERE a.name = ?", strings.TrimSpace(name))
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get asset", err)
	}
	return &a, nil
}

// ListAssets returns all assets ordered by name.
func (c *Core) ListAssets(ctx context.Context) ([]Asset, error) {
	rows, err := c.run().query(ctx, "SELECT "+assetColumns+" FROM assets a ORDER BY a.name")
	if err != nil {
		return nil, dbError("list assets", err)
	}
	defer rows.Close()

	assets := []Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, dbError("scan asset", err)
		}
		assets = append(assets, a)
	}
	return assets, dbError("list assets", rows.Err())
}

// UpdateAsset replaces the editable fields of an asset.
func (c *Core) UpdateAsset(ctx context.Context, id int64, req AssetRequest) (*Asset, error) {
	if err := validateAssetRequest(&req); err != nil {
		return nil, err
	}
	existing, err := c.GetAssetByName(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ID != id {
		return nil, NewError(ErrCodeDuplicate, "asset already exists: "+req.Name)
	}
	res, err := c.run().exec(ctx, `
		UPDATE assets SET name = ?, currency = ?, price_url = ?, dividend_url = ?,
			distributes_dividends = ?, dividend_withholding_tax = ?, updated_at = ?
		WHERE id = ?
	`, req.Name, req.Currency, nullString(req.PriceURL), nullString(req.DividendURL),
		boolInt(req.DistributesDividends), amountArg(req.DividendWithholdingTax), c.timestamp(), id)
	if err != nil {
		return nil, dbError("update asset", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, notFound("asset")
	}
	return c.GetAsset(ctx, id)
}

// UpdateAssetPrice stores the latest known price and stamps its time.
func (c *Core) UpdateAssetPrice(ctx context.Context, id int64, price Money) error {
	if price.Amount.IsNegative() {
		return validationError("price must be >= 0")
	}
	cur := normalizeCurrency(price.Currency)
	if !IsValidCurrency(cur) {
		return validationError("invalid currency: %s", price.Currency)
	}
	now := c.timestamp()
	res, err := c.run().exec(ctx, `
		UPDATE assets SET price = ?, price_currency = ?, price_updated_at = ?, updated_at = ?
		WHERE id = ?
	`, price.Amount, cur, now, now, id)
	if err != nil {
		return dbError("update asset price", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("asset")
	}
	return nil
}

// DeleteAsset removes an asset and everything that references it.
func (c *Core) DeleteAsset(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := c.inTx(ctx, func(r runner) error {
		stmts := []string{
			"DELETE FROM realized_profits WHERE asset_id = ?",
			"DELETE FROM positions WHERE asset_id = ?",
			"DELETE FROM transactions WHERE asset_id = ?",
			"DELETE FROM dividends WHERE asset_id = ?",
			"DELETE FROM asset_tags WHERE asset_id = ?",
		}
		for _, stmt := range stmts {
			if _, err := r.exec(ctx, stmt, id); err != nil {
				return err
			}
		}
		res, err := r.exec(ctx, "DELETE FROM assets WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, dbError("delete asset", err)
	}
	return deleted, nil
}
