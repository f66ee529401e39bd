package folio

// Action is the direction of a ledger entry.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// ProfitKind distinguishes trade gains from dividend income.
type ProfitKind string

const (
	ProfitTrade    ProfitKind = "trade"
	ProfitDividend ProfitKind = "dividend"
)

// UntaggedLabel is the allocation bucket for positions without tags.
const UntaggedLabel = "Untagged"

func (a Action) valid() bool {
	return a == ActionBuy || a == ActionSell
}

// Asset is a tradable instrument shared by all users.
type Asset struct {
	ID                     int64   `json:"id"`
	Name                   string  `json:"name"`
	Currency               string  `json:"currency"`
	Price                  *Amount `json:"price"`
	PriceCurrency          *string `json:"price_currency"`
	PriceUpdatedAt         *string `json:"price_updated_at"`
	PriceURL               *string `json:"price_url"`
	DividendURL            *string `json:"dividend_url"`
	DistributesDividends   bool    `json:"distributes_dividends"`
	DividendWithholdingTax *Amount `json:"dividend_withholding_tax"`
	CreatedAt              *string `json:"created_at"`
	UpdatedAt              *string `json:"updated_at"`
}

// CurrentPrice returns the asset's last known price, if any.
func (a Asset) CurrentPrice() (Money, bool) {
	if a.Price == nil {
		return Money{}, false
	}
	cur := a.Currency
	if a.PriceCurrency != nil && *a.PriceCurrency != "" {
		cur = *a.PriceCurrency
	}
	return NewMoney(a.Price.Decimal, cur), true
}

// AssetRequest defines inputs to create or update an asset.
// DividendWithholdingTax is a fraction in [0, 1].
type AssetRequest struct {
	Name                   string
	Currency               string
	PriceURL               *string
	DividendURL            *string
	DistributesDividends   bool
	DividendWithholdingTax *Amount
}

// Transaction is one ledger entry of a user for an asset.
type Transaction struct {
	ID              int64   `json:"id"`
	UserID          string  `json:"user_id"`
	AssetID         int64   `json:"asset_id"`
	AssetName       string  `json:"asset_name"`
	Action          Action  `json:"action"`
	Quantity        Amount  `json:"quantity"`
	Price           Money   `json:"price"`
	Commission      Money   `json:"commission"`
	Amount          Money   `json:"amount"`
	TransactionDate string  `json:"transaction_date"`
	Notes           *string `json:"notes"`
	ImportBatch     *string `json:"import_batch"`
	CreatedAt       *string `json:"created_at"`
	UpdatedAt       *string `json:"updated_at"`
}

// TransactionRequest defines inputs to add or update a transaction.
// Commission shares the price currency; the amount is derived.
type TransactionRequest struct {
	UserID          string
	AssetName       string
	Action          Action
	Quantity        Amount
	Price           Amount
	Commission      Amount
	Currency        string
	TransactionDate string
	Notes           *string
	ImportBatch     *string
}

// TransactionFilter narrows ListUserTransactions.
type TransactionFilter struct {
	UserID   string
	AssetID  *int64
	Action   Action
	DateFrom string
	DateTo   string
	Limit    int
	Offset   int
}

// PositionSnapshot is the holding state right after one transaction.
type PositionSnapshot struct {
	ID              int64  `json:"id"`
	UserID          string `json:"user_id"`
	AssetID         int64  `json:"asset_id"`
	TransactionID   int64  `json:"transaction_id"`
	TransactionDate string `json:"transaction_date"`
	AveragePrice    Money  `json:"average_price"`
	QuantityOnHand  Amount `json:"quantity_on_hand"`
	AmountOnHand    Money  `json:"amount_on_hand"`
}

// RealizedProfit is a gain or loss attributed to a sell or a dividend.
type RealizedProfit struct {
	ID            int64      `json:"id"`
	UserID        string     `json:"user_id"`
	AssetID       int64      `json:"asset_id"`
	Kind          ProfitKind `json:"kind"`
	TransactionID *int64     `json:"transaction_id"`
	DividendID    *int64     `json:"dividend_id"`
	Amount        Money      `json:"amount"`
	CreatedAt     *string    `json:"created_at"`
}

// Position is the latest snapshot of a held asset with its metadata.
type Position struct {
	PositionSnapshot
	Asset Asset    `json:"asset"`
	Tags  []string `json:"tags"`
}

// PositionHistoryEntry pairs a snapshot with the transaction that produced it.
type PositionHistoryEntry struct {
	Transaction Transaction      `json:"transaction"`
	Position    PositionSnapshot `json:"position"`
}

// Tag is a user-defined label attached to assets.
type Tag struct {
	ID     int64  `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Portfolio is a named group of tags used as an allocation dimension.
type Portfolio struct {
	ID          int64    `json:"id"`
	UserID      string   `json:"user_id"`
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
}

// Dividend is a per-share distribution announced for an asset.
type Dividend struct {
	ID        int64   `json:"id"`
	AssetID   int64   `json:"asset_id"`
	AssetName string  `json:"asset_name"`
	ExDate    string  `json:"ex_date"`
	PayDate   *string `json:"pay_date"`
	Value     Money   `json:"value"`
}

// DividendRequest defines inputs to record a dividend event.
type DividendRequest struct {
	AssetID  int64
	ExDate   string
	PayDate  *string
	Value    Amount
	Currency string
}

// PortfolioSnapshot is a user's total holdings value on a date.
type PortfolioSnapshot struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	SnapshotDate string `json:"snapshot_date"`
	TotalValue   Money  `json:"total_value"`
	UpdatedAt    string `json:"updated_at"`
}

// ExchangeRate is a stored conversion rate between two currencies.
type ExchangeRate struct {
	FromCurrency string `json:"from_currency"`
	ToCurrency   string `json:"to_currency"`
	Rate         Amount `json:"rate"`
	Source       string `json:"source"`
	UpdatedAt    string `json:"updated_at"`
}
