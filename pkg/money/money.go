// Package money holds the display-side money helpers: decimal arithmetic for
// cart totals and locale-aware formatting of amounts fetched from the backend.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders decimal amounts as localized currency strings.
type Formatter struct {
	printer *message.Printer
	unit    currency.Unit
}

// NewFormatter builds a formatter for the given BCP 47 locale tag and ISO 4217
// currency code, e.g. ("vi-VN", "VND").
func NewFormatter(localeTag, currencyCode string) (*Formatter, error) {
	tag, err := language.Parse(localeTag)
	if err != nil {
		return nil, fmt.Errorf("parsing locale %q: %w", localeTag, err)
	}
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("parsing currency %q: %w", currencyCode, err)
	}
	return &Formatter{
		printer: message.NewPrinter(tag),
		unit:    unit,
	}, nil
}

// Format renders the amount with the currency symbol for the configured locale.
func (f *Formatter) Format(amount decimal.Decimal) string {
	value, _ := amount.Float64()
	return f.printer.Sprintf("%v", currency.Symbol(f.unit.Amount(value)))
}

// FormatPercent renders a [0,1] rate as a whole-number percentage, matching how
// the storefront shows tax rates.
func FormatPercent(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).Round(0).String() + "%"
}

// Sum adds up a list of amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// ApplyTax returns amount × rate.
func ApplyTax(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate)
}

// OrderTotal is subtotal + shipping + subtotal × taxRate. A zero subtotal
// yields a zero total: shipping is not charged on an empty cart.
func OrderTotal(subtotal, shipping, taxRate decimal.Decimal) decimal.Decimal {
	if subtotal.IsZero() {
		return decimal.Zero
	}
	return subtotal.Add(shipping).Add(ApplyTax(subtotal, taxRate))
}
