package folio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func addTestDividend(t *testing.T, core *Core, asset, exDate string, payDate *string, value string) *Dividend {
	t.Helper()
	d, err := core.AddDividend(context.Background(), DividendRequest{
		AssetID: testAssetID(t, core, asset),
		ExDate:  exDate,
		PayDate: payDate,
		Value:   MustAmount(value),
	})
	require.NoError(t, err)
	return d
}

func TestAddDividend_UpsertsOnExDate(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	testTrade(t, core, "alice", "DBS", ActionBuy, "100", "30", "0", "SGD", "2025-01-10")
	first := addTestDividend(t, core, "DBS", "2025-05-01", nil, "0.5")
	assert.Equal(t, "SGD", first.Value.Currency, "defaults to asset currency")
	assert.Nil(t, first.PayDate)

	second := addTestDividend(t, core, "DBS", "2025-05-01", strPtr("2025-05-20"), "0.54")
	assert.Equal(t, first.ID, second.ID)
	assertAmount(t, second.Value.Amount, "0.54", "replaced value")
	require.NotNil(t, second.PayDate)
	assert.Equal(t, "2025-05-20", *second.PayDate)

	assetID := testAssetID(t, core, "DBS")
	list, err := core.ListDividends(ctx, &assetID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAddDividend_Validation(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	testTrade(t, core, "alice", "DBS", ActionBuy, "1", "30", "0", "SGD", "2025-01-10")
	assetID := testAssetID(t, core, "DBS")

	_, err := core.AddDividend(ctx, DividendRequest{AssetID: assetID, ExDate: "2025-13-01", Value: MustAmount("1")})
	assertErrorCode(t, err, ErrCodeValidation, "bad ex date")
	_, err = core.AddDividend(ctx, DividendRequest{AssetID: assetID, ExDate: "2025-01-01", PayDate: strPtr("soon"), Value: MustAmount("1")})
	assertErrorCode(t, err, ErrCodeValidation, "bad pay date")
	_, err = core.AddDividend(ctx, DividendRequest{AssetID: assetID, ExDate: "2025-01-01", Value: MustAmount("-1")})
	assertErrorCode(t, err, ErrCodeValidation, "negative value")
	_, err = core.AddDividend(ctx, DividendRequest{AssetID: 9999, ExDate: "2025-01-01", Value: MustAmount("1")})
	assertErrorCode(t, err, ErrCodeNotFound, "unknown asset")
}

func TestRecordDividendIncome_UsesQuantityBeforeExDate(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	testTrade(t, core, "alice", "DBS", ActionBuy, "100", "30", "0", "SGD", "2025-01-10")
	// Bought on the ex date itself: not entitled.
	testTrade(t, core, "alice", "DBS", ActionBuy, "50", "31", "0", "SGD", "2025-05-01")
	div := addTestDividend(t, core, "DBS", "2025-05-01", strPtr("2025-05-20"), "0.5")

	profit, err := core.RecordDividendIncome(ctx, "alice", div.ID)
	require.NoError(t, err)
	assert.Equal(t, ProfitDividend, profit.Kind)
	assertAmount(t, profit.Amount.Amount, "50", "100 shares x 0.5")
	assert.Equal(t, "SGD", profit.Amount.Currency)

	// Recording again replaces rather than duplicates.
	_, err = core.RecordDividendIncome(ctx, "alice", div.ID)
	require.NoError(t, err)

	profits, err := core.RealizedProfits(ctx, "alice", nil)
	require.NoError(t, err)
	dividendRows := 0
	for _, p := range profits {
		if p.Kind == ProfitDividend {
			dividendRows++
		}
	}
	assert.Equal(t, 1, dividendRows)
}

func TestRecordDividendIncome_AppliesWithholdingTax(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	testTrade(t, core, "alice", "VOO", ActionBuy, "10", "400", "0", "USD", "2025-01-10")
	assetID := testAssetID(t, core, "VOO")
	tax := MustAmount("0.3")
	_, err := core.UpdateAsset(ctx, assetID, AssetRequest{
		Name:                   "VOO",
		Currency:               "USD",
		DistributesDividends:   true,
		DividendWithholdingTax: &tax,
	})
	require.NoError(t, err)
	div := addTestDividend(t, core, "VOO", "2025-03-25", nil, "1.5")

	profit, err := core.RecordDividendIncome(ctx, "alice", div.ID)
	require.NoError(t, err)
	assertAmount(t, profit.Amount.Amount, "10.5", "15 less 30% withholding")
	assert.Equal(t, "USD", profit.Amount.Currency)
}

func TestRecordDividendIncome_NothingHeld(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	testTrade(t, core, "alice", "DBS", ActionBuy, "100", "30", "0", "SGD", "2025-03-10")
	div := addTestDividend(t, core, "DBS", "2025-02-01", nil, "0.5")

	_, err := core.RecordDividendIncome(ctx, "alice", div.ID)
	assertErrorCode(t, err, ErrCodeInvalidInput, "bought after ex date")
	_, err = core.RecordDividendIncome(ctx, "bob", div.ID)
	assertErrorCode(t, err, ErrCodeInvalidInput, "never held")
	_, err = core.RecordDividendIncome(ctx, "alice", 9999)
	assertErrorCode(t, err, ErrCodeNotFound, "unknown dividend")
}

func TestDividendIncome_SurvivesRecalculation(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	testTrade(t, core, "alice", "DBS", ActionBuy, "100", "30", "0", "SGD", "2025-01-10")
	div := addTestDividend(t, core, "DBS", "2025-05-01", nil, "0.5")
	_, err := core.RecordDividendIncome(ctx, "alice", div.ID)
	require.NoError(t, err)

	testTrade(t, core, "alice", "DBS", ActionSell, "10", "35", "0", "SGD", "2025-05-10")
	require.NoError(t, core.Recalculate(ctx, "alice", testAssetID(t, core, "DBS")))

	profits, err := core.RealizedProfits(ctx, "alice", nil)
	require.NoError(t, err)
	kinds := map[ProfitKind]int{}
	for _, p := range profits {
		kinds[p.Kind]++
	}
	assert.Equal(t, 1, kinds[ProfitDividend])
	assert.Equal(t, 1, kinds[ProfitTrade])
}

func TestDeleteDividend_RemovesIncome(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	testTrade(t, core, "alice", "DBS", ActionBuy, "100", "30", "0", "SGD", "2025-01-10")
	div := addTestDividend(t, core, "DBS", "2025-05-01", nil, "0.5")
	_, err := core.RecordDividendIncome(ctx, "alice", div.ID)
	require.NoError(t, err)

	deleted, err := core.DeleteDividend(ctx, div.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	profits, err := core.RealizedProfits(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, profits)

	deleted, err = core.DeleteDividend(ctx, div.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDividendsByMonth(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	testTrade(t, core, "alice", "DBS", ActionBuy, "100", "30", "0", "SGD", "2024-01-10")
	testTrade(t, core, "alice", "VOO", ActionBuy, "10", "400", "0", "USD", "2024-01-10")
	// Paid in May, bucketed by pay date.
	may := addTestDividend(t, core, "DBS", "2025-04-28", strPtr("2025-05-20"), "0.5")
	// Unpaid: bucketed by ex date.
	march := addTestDividend(t, core, "VOO", "2025-03-25", nil, "2")
	// Outside the trailing twelve months.
	old := addTestDividend(t, core, "DBS", "2024-04-01", strPtr("2024-04-20"), "0.4")
	for _, d := range []*Dividend{may, march, old} {
		_, err := core.RecordDividendIncome(ctx, "alice", d.ID)
		require.NoError(t, err)
	}

	chart, err := core.DividendsByMonth(ctx, "alice", "SGD")
	require.NoError(t, err)
	require.Len(t, chart.Labels, 12)
	assert.Equal(t, "2024-07", chart.Labels[0])
	assert.Equal(t, "2025-06", chart.Labels[11])
	require.Len(t, chart.Series, 2)

	dbs := chart.Series[0]
	assert.Equal(t, "DBS", dbs.AssetName)
	assertAmount(t, dbs.Values[10], "50", "DBS in May")
	assertAmount(t, dbs.Total, "50", "old payment excluded")

	voo := chart.Series[1]
	assertAmount(t, voo.Values[8], "27", "20 USD in March converted")
	assertAmount(t, chart.Total, "77", "chart total")
}

func TestUpcomingAndRecentDividends(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	testTrade(t, core, "alice", "DBS", ActionBuy, "100", "30", "0", "SGD", "2024-01-10")
	testTrade(t, core, "alice", "DBS", ActionSell, "40", "33", "0", "SGD", "2025-02-10")
	testTrade(t, core, "alice", "OCBC", ActionBuy, "10", "15", "0", "SGD", "2024-01-10")
	testTrade(t, core, "alice", "OCBC", ActionSell, "10", "16", "0", "SGD", "2024-06-10")

	addTestDividend(t, core, "DBS", "2025-06-20", strPtr("2025-07-05"), "0.5")
	addTestDividend(t, core, "DBS", "2025-07-30", nil, "0.5")
	addTestDividend(t, core, "DBS", "2025-05-20", strPtr("2025-06-05"), "0.45")
	addTestDividend(t, core, "OCBC", "2025-06-18", nil, "0.3")

	upcoming, err := core.UpcomingDividends(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, upcoming, 1, "beyond window and closed positions are skipped")
	assert.Equal(t, "2025-06-20", upcoming[0].ExDate)
	assertAmount(t, upcoming[0].Quantity, "60", "current holding")
	assertAmount(t, upcoming[0].EstimatedTotal.Amount, "30", "estimated payout")

	recent, err := core.RecentDividends(ctx, "alice", "USD")
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "2025-06-05", *recent[0].PayDate)
	assert.Equal(t, "USD", recent[0].EstimatedTotal.Currency)
	assertAmount(t, recent[0].EstimatedTotal.Amount, "19.98", "27 SGD in USD")
}

func TestMonthLabels(t *testing.T) {
	labels := monthLabels(testNow, 3)
	assert.Equal(t, []string{"2025-04", "2025-05", "2025-06"}, labels)
	assert.Equal(t, []string{"2024-12", "2025-01"}, monthLabels(testNow.AddDate(0, -5, 0), 2))
}
