package model

import (
	"fmt"
	"strconv"
	"strings"
)

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) String() string {
	return formatAmount(m.Amount) + " " + m.Currency
}

// formatAmount renders 1800000 as "1,800,000".
func formatAmount(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// NormalizeCurrency upper-cases and trims an ISO currency code.
func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// NewMoney validates a positive amount and a non-empty currency.
func NewMoney(amount int64, currency string) (Money, error) {
	if amount <= 0 {
		return Money{}, ErrInvalidAmount
	}
	currency = NormalizeCurrency(currency)
	if currency == "" {
		return Money{}, fmt.Errorf("%w: currency is required", ErrInvalidRequest)
	}
	return Money{Amount: amount, Currency: currency}, nil
}
