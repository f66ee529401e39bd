package folio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAsset(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	asset, err := core.CreateAsset(ctx, AssetRequest{Name: " VOO ", Currency: "usd", DistributesDividends: true})
	require.NoError(t, err)
	assert.Equal(t, "VOO", asset.Name)
	assert.Equal(t, "USD", asset.Currency)
	assert.True(t, asset.DistributesDividends)
	assert.Nil(t, asset.Price)

	_, err = core.CreateAsset(ctx, AssetRequest{Name: "VOO", Currency: "USD"})
	assertErrorCode(t, err, ErrCodeDuplicate, "duplicate name")

	tooHigh := MustAmount("1.5")
	_, err = core.CreateAsset(ctx, AssetRequest{Name: "X", Currency: "USD", DividendWithholdingTax: &tooHigh})
	assertErrorCode(t, err, ErrCodeValidation, "withholding above one")
	_, err = core.CreateAsset(ctx, AssetRequest{Name: "X", Currency: "DOLLARS"})
	assertErrorCode(t, err, ErrCodeValidation, "bad currency")
	_, err = core.CreateAsset(ctx, AssetRequest{Currency: "USD"})
	assertErrorCode(t, err, ErrCodeValidation, "missing name")

	_, err = core.GetAsset(ctx, 424242)
	assertErrorCode(t, err, ErrCodeNotFound, "unknown id")

	list, err := core.ListAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdateAsset_RenameConflict(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	a, err := core.CreateAsset(ctx, AssetRequest{Name: "A", Currency: "SGD"})
	require.NoError(t, err)
	_, err = core.CreateAsset(ctx, AssetRequest{Name: "B", Currency: "SGD"})
	require.NoError(t, err)

	_, err = core.UpdateAsset(ctx, a.ID, AssetRequest{Name: "B", Currency: "SGD"})
	assertErrorCode(t, err, ErrCodeDuplicate, "rename onto existing")

	url := "https://example.com/a"
	updated, err := core.UpdateAsset(ctx, a.ID, AssetRequest{Name: "A2", Currency: "SGD", PriceURL: &url})
	require.NoError(t, err)
	assert.Equal(t, "A2", updated.Name)
	require.NotNil(t, updated.PriceURL)
	assert.Equal(t, url, *updated.PriceURL)

	_, err = core.UpdateAsset(ctx, 9999, AssetRequest{Name: "Z", Currency: "SGD"})
	assertErrorCode(t, err, ErrCodeNotFound, "unknown asset")
}

func TestUpdateAssetPrice(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	a, err := core.CreateAsset(ctx, AssetRequest{Name: "VOO", Currency: "USD"})
	require.NoError(t, err)
	require.NoError(t, core.UpdateAssetPrice(ctx, a.ID, NewMoney(decimal.RequireFromString("512.34"), "usd")))

	got, err := core.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	price, ok := got.CurrentPrice()
	require.True(t, ok)
	assert.Equal(t, "USD", price.Currency)
	assertAmount(t, price.Amount, "512.34", "stored price")
	require.NotNil(t, got.PriceUpdatedAt)
	assert.Equal(t, testNow.Format(time.RFC3339), *got.PriceUpdatedAt)

	err = core.UpdateAssetPrice(ctx, a.ID, NewMoney(decimal.NewFromInt(-1), "USD"))
	assertErrorCode(t, err, ErrCodeValidation, "negative price")
	err = core.UpdateAssetPrice(ctx, 9999, NewMoney(decimal.NewFromInt(1), "USD"))
	assertErrorCode(t, err, ErrCodeNotFound, "unknown asset")
}

func TestDeleteAsset_Cascades(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	testTrade(t, core, "alice", "DBS", ActionBuy, "10", "30", "0", "SGD", "2025-01-02")
	testTrade(t, core, "alice", "DBS", ActionSell, "5", "35", "0", "SGD", "2025-02-02")
	id := testAssetID(t, core, "DBS")
	tagAsset(t, core, "alice", "DBS", "Banks")
	addTestDividend(t, core, "DBS", "2025-05-01", nil, "0.5")

	deleted, err := core.DeleteAsset(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	positions, err := core.LatestPositions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, positions)
	profits, err := core.RealizedProfits(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, profits)
	divs, err := core.ListDividends(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, divs)
	count, err := core.CountUserTransactions(ctx, TransactionFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Zero(t, count)

	deleted, err = core.DeleteAsset(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRefreshAssetPrice_Throttled(t *testing.T) {
	now := testNow
	core, cleanup := setupTestDBWithOptions(t, Options{Now: func() time.Time { return now }})
	defer cleanup()
	ctx := context.Background()

	a, err := core.CreateAsset(ctx, AssetRequest{Name: "VOO", Currency: "USD"})
	require.NoError(t, err)

	calls := 0
	src := PriceSourceFunc(func(ctx context.Context, asset Asset) (Money, error) {
		calls++
		assert.Equal(t, "VOO", asset.Name)
		return Money{Amount: MustAmount("500"), Currency: ""}, nil
	})

	got, fetched, err := core.RefreshAssetPrice(ctx, a.ID, src)
	require.NoError(t, err)
	assert.True(t, fetched)
	price, ok := got.CurrentPrice()
	require.True(t, ok)
	assert.Equal(t, "USD", price.Currency, "blank currency uses the asset's")

	now = now.Add(23 * time.Hour)
	_, fetched, err = core.RefreshAssetPrice(ctx, a.ID, src)
	require.NoError(t, err)
	assert.False(t, fetched)

	now = now.Add(2 * time.Hour)
	_, fetched, err = core.RefreshAssetPrice(ctx, a.ID, src)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Equal(t, 2, calls)
}

func TestRefreshAssetPrice_SourceError(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	a, err := core.CreateAsset(ctx, AssetRequest{Name: "VOO", Currency: "USD"})
	require.NoError(t, err)
	src := PriceSourceFunc(func(context.Context, Asset) (Money, error) {
		return Money{}, errors.New("quote service unavailable")
	})
	_, fetched, err := core.RefreshAssetPrice(ctx, a.ID, src)
	assert.False(t, fetched)
	assertErrorCode(t, err, ErrCodeInternal, "source failure")
}

func TestTags_PerUser(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	testTrade(t, core, "alice", "DBS", ActionBuy, "10", "30", "0", "SGD", "2025-01-02")
	testTrade(t, core, "bob", "DBS", ActionBuy, "10", "30", "0", "SGD", "2025-01-02")
	id := testAssetID(t, core, "DBS")

	tag, err := core.AddTagToAsset(ctx, "alice", id, " Banks ")
	require.NoError(t, err)
	assert.Equal(t, "Banks", tag.Name)
	again, err := core.AddTagToAsset(ctx, "alice", id, "Banks")
	require.NoError(t, err)
	assert.Equal(t, tag.ID, again.ID, "adding twice is a no-op")
	_, err = core.AddTagToAsset(ctx, "bob", id, "Singapore")
	require.NoError(t, err)

	alice, err := core.LatestPositions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, []string{"Banks"}, alice[0].Tags)

	tags, err := core.ListTags(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "Singapore", tags[0].Name)

	require.NoError(t, core.RemoveTagFromAsset(ctx, "alice", id, tag.ID))
	alice, err = core.LatestPositions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, alice[0].Tags)

	_, err = core.AddTagToAsset(ctx, "alice", id, "  ")
	assertErrorCode(t, err, ErrCodeValidation, "blank tag")
	_, err = core.AddTagToAsset(ctx, "alice", 9999, "X")
	assertErrorCode(t, err, ErrCodeNotFound, "unknown asset")
}

func TestPortfolios_CRUD(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	desc := "income holdings"
	p, err := core.CreatePortfolio(ctx, "alice", PortfolioRequest{Name: "Income", Description: &desc, Tags: []string{"REIT", "Banks", "REIT", ""}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Banks", "REIT"}, p.Tags)
	require.NotNil(t, p.Description)

	_, err = core.CreatePortfolio(ctx, "alice", PortfolioRequest{Name: "Income"})
	assertErrorCode(t, err, ErrCodeDuplicate, "same name")
	_, err = core.CreatePortfolio(ctx, "bob", PortfolioRequest{Name: "Income"})
	require.NoError(t, err, "names are per user")

	updated, err := core.UpdatePortfolio(ctx, "alice", p.ID, PortfolioRequest{Name: "Dividends", Tags: []string{"Banks"}})
	require.NoError(t, err)
	assert.Equal(t, "Dividends", updated.Name)
	assert.Equal(t, []string{"Banks"}, updated.Tags)
	assert.Nil(t, updated.Description)

	_, err = core.UpdatePortfolio(ctx, "bob", p.ID, PortfolioRequest{Name: "Stolen"})
	assertErrorCode(t, err, ErrCodeNotFound, "other user's portfolio")

	list, err := core.ListPortfolios(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)

	deleted, err := core.DeletePortfolio(ctx, "alice", p.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = core.GetPortfolio(ctx, "alice", p.ID)
	assertErrorCode(t, err, ErrCodeNotFound, "deleted")

	tags, err := core.ListTags(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, tags, 2, "tags outlive the portfolio")
}
