package budget

import "github.com/shopspring/decimal"

// Limit is a daily ceiling for one category. A zero Max means unlimited.
type Limit struct {
	Max decimal.Decimal `yaml:"max"`
}

// HasLimit returns true if a ceiling is configured.
func (l Limit) HasLimit() bool {
	return l.Max.IsPositive()
}
