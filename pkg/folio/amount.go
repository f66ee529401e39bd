package folio

import (
	"database/sql/driver"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Amount wraps decimal.Decimal for monetary values and quantities.
// JSON marshaling outputs a number, storage keeps the exact decimal text.
type Amount struct {
	decimal.Decimal
}

// MarshalJSON outputs as a JSON number (not a string).
func (a Amount) MarshalJSON() ([]byte, error) {
	f, _ := a.Round(8).Float64()
	return []byte(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted strings.
func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.Decimal.UnmarshalJSON(data)
}

// Scan implements sql.Scanner. Postgres NUMERIC arrives as []byte,
// SQLite TEXT as string; legacy REAL values are still accepted.
func (a *Amount) Scan(src any) error {
	if src == nil {
		a.Decimal = decimal.Zero
		return nil
	}
	switch v := src.(type) {
	case float64:
		a.Decimal = decimal.NewFromFloat(v)
		return nil
	case int64:
		a.Decimal = decimal.NewFromInt(v)
		return nil
	case []byte:
		return a.parse(string(v))
	case string:
		return a.parse(v)
	}
	return fmt.Errorf("unsupported amount source %T", src)
}

func (a *Amount) parse(s string) error {
	if s == "" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	a.Decimal = d
	return nil
}

// Value implements driver.Valuer; the full precision is written as text.
func (a Amount) Value() (driver.Value, error) {
	return a.Decimal.String(), nil
}

// NewAmount creates an Amount from a float64.
func NewAmount(f float64) Amount {
	return Amount{decimal.NewFromFloat(f)}
}

// NewAmountFromInt creates an Amount from an int64.
func NewAmountFromInt(i int64) Amount {
	return Amount{decimal.NewFromInt(i)}
}

// ParseAmount parses a decimal string such as "12.50".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{d}, nil
}

// MustAmount parses s and panics on malformed input. Intended for literals.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func amt(d decimal.Decimal) Amount {
	return Amount{d}
}

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// round2 rounds a percentage or display value to two decimal places.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// percentOf returns part/total*100 rounded to 2 dp; zero when total is not positive.
func percentOf(part, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return zero
	}
	return round2(part.Div(total).Mul(hundred))
}
