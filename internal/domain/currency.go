package domain

import "fmt"

// CurrencyPolicy lists the currencies a purchase may be paid in. Payments in
// the fiat currency use a stage's fiat price; stablecoin payments use its
// stable price.
type CurrencyPolicy struct {
	Fiat   string
	Stable []string
}

// Basis returns the price basis for payments in currency.
func (p CurrencyPolicy) Basis(currency string) (PriceBasis, error) {
	currency = NormalizeCurrency(currency)
	if currency == NormalizeCurrency(p.Fiat) {
		return PriceBasisFiat, nil
	}
	for _, s := range p.Stable {
		if currency == NormalizeCurrency(s) {
			return PriceBasisStable, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
}
