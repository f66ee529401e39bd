package folio

import (
	"context"
	"time"
)

// PriceSource looks up the latest price of an asset.
type PriceSource interface {
	FetchPrice(ctx context.Context, asset Asset) (Money, error)
}

// PriceSourceFunc adapts a function to PriceSource.
type PriceSourceFunc func(ctx context.Context, asset Asset) (Money, error)

func (f PriceSourceFunc) FetchPrice(ctx context.Context, asset Asset) (Money, error) {
	return f(ctx, asset)
}

// RefreshAssetPrice fetches a new price unless the stored one is younger than
// the refresh interval. It reports whether a fetch happened.
func (c *Core) RefreshAssetPrice(ctx context.Context, assetID int64, src PriceSource) (*Asset, bool, error) {
	asset, err := c.GetAsset(ctx, assetID)
	if err != nil {
		return nil, false, err
	}
	if asset.PriceUpdatedAt != nil {
		if last, err := time.Parse(time.RFC3339, *asset.PriceUpdatedAt); err == nil && c.now().Sub(last) < c.priceRefreshInterval {
			return asset, false, nil
		}
	}

	price, err := src.FetchPrice(ctx, *asset)
	if err != nil {
		c.logger.Warn("price fetch failed", "asset_id", assetID, "asset", asset.Name, "err", err)
		return asset, false, WrapError(ErrCodeInternal, "price fetch failed", err)
	}
	if price.Currency == "" {
		price.Currency = asset.Currency
	}
	if err := c.UpdateAssetPrice(ctx, assetID, price); err != nil {
		return nil, false, err
	}
	asset, err = c.GetAsset(ctx, assetID)
	if err != nil {
		return nil, false, err
	}
	return asset, true, nil
}
