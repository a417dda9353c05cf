package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("%w: currency is required", ErrInvalidOrder)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: unknown currency %q", ErrInvalidOrder, code)
	}
	return unit.String(), nil
}
