package folio

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a user has no stored preference.
const DefaultCurrency = "SGD"

// SupportedUserCurrencies lists the currencies a user can report in.
var SupportedUserCurrencies = []string{"SGD", "USD", "EUR", "HKD", "AUD", "GBP", "JPY", "CAD", "CHF"}

// Money is an exact amount tagged with an ISO-4217 currency code.
type Money struct {
	Amount   Amount `json:"amount"`
	Currency string `json:"currency"`
}

// NewMoney builds a Money value from a decimal amount.
func NewMoney(d decimal.Decimal, currency string) Money {
	return Money{Amount: amt(d), Currency: normalizeCurrency(currency)}
}

// ZeroMoney returns a zero amount in currency.
func ZeroMoney(currency string) Money {
	return NewMoney(decimal.Zero, currency)
}

// Add sums two amounts of the same currency.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, WrapError(ErrCodeCurrencyMismatch, "currency mismatch",
			fmt.Errorf("%s + %s", m.Currency, o.Currency))
	}
	return NewMoney(m.Amount.Add(o.Amount.Decimal), m.Currency), nil
}

// Sub subtracts two amounts of the same currency.
func (m Money) Sub(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, WrapError(ErrCodeCurrencyMismatch, "currency mismatch",
			fmt.Errorf("%s - %s", m.Currency, o.Currency))
	}
	return NewMoney(m.Amount.Sub(o.Amount.Decimal), m.Currency), nil
}

// Mul scales the amount, keeping the currency.
func (m Money) Mul(d decimal.Decimal) Money {
	return NewMoney(m.Amount.Mul(d), m.Currency)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// String formats the value using the currency's symbol and grapheme rules,
// e.g. "$1,234.50" or "S$10.00". Unknown currencies fall back to "12.5 XYZ".
func (m Money) String() string {
	cur := money.GetCurrency(m.Currency)
	if cur == nil {
		return m.Amount.String() + " " + m.Currency
	}
	minor := m.Amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return cur.Formatter().Format(minor)
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// IsValidCurrency reports whether code is a known ISO-4217 currency.
func IsValidCurrency(code string) bool {
	code = normalizeCurrency(code)
	if len(code) != 3 {
		return false
	}
	return money.GetCurrency(code) != nil
}

func isSupportedUserCurrency(code string) bool {
	code = normalizeCurrency(code)
	for _, c := range SupportedUserCurrencies {
		if c == code {
			return true
		}
	}
	return false
}
