package api

import "folio/pkg/folio"

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

func (p transactionPayload) request(userID string) folio.TransactionRequest {
	return folio.TransactionRequest{
		UserID:          userID,
		AssetName:       p.Asset,
		Action:          folio.Action(p.Action),
		Quantity:        p.Quantity,
		Price:           p.Price,
		Commission:      p.Commission,
		Currency:        p.Currency,
		TransactionDate: p.TransactionDate,
		Notes:           p.Notes,
	}
}

type transactionsResponse struct {
	Items  []folio.Transaction `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

type assetPayload struct {
	Name                   string        `json:"name"`
	Currency               string        `json:"currency"`
	PriceURL               *string       `json:"price_url"`
	DividendURL            *string       `json:"dividend_url"`
	DistributesDividends   bool          `json:"distributes_dividends"`
	DividendWithholdingTax *folio.Amount `json:"dividend_withholding_tax"`
}

func (p assetPayload) request() folio.AssetRequest {
	return folio.AssetRequest{
		Name:                   p.Name,
		Currency:               p.Currency,
		PriceURL:               p.PriceURL,
		DividendURL:            p.DividendURL,
		DistributesDividends:   p.DistributesDividends,
		DividendWithholdingTax: p.DividendWithholdingTax,
	}
}

type pricePayload struct {
	Price    folio.Amount `json:"price"`
	Currency string       `json:"currency"`
}

type tagPayload struct {
	Name string `json:"name"`
}

type portfolioPayload struct {
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
}

func (p portfolioPayload) request() folio.PortfolioRequest {
	return folio.PortfolioRequest{Name: p.Name, Description: p.Description, Tags: p.Tags}
}

type dividendPayload struct {
	AssetID  int64        `json:"asset_id"`
	ExDate   string       `json:"ex_date"`
	PayDate  *string      `json:"pay_date"`
	Value    folio.Amount `json:"value"`
	Currency string       `json:"currency"`
}

type snapshotPayload struct {
	Currency string `json:"currency"`
	Date     string `json:"date"`
}

type exchangeRatePayload struct {
	FromCurrency string       `json:"from_currency"`
	ToCurrency   string       `json:"to_currency"`
	Rate         folio.Amount `json:"rate"`
	Source       string       `json:"source"`
}

type refreshRatesPayload struct {
	Base    string   `json:"base"`
	Targets []string `json:"targets"`
}

type refreshRatesResponse struct {
	Updated  int      `json:"updated"`
	Failures []string `json:"failures"`
}

type currencyPayload struct {
	Currency string `json:"currency"`
}
