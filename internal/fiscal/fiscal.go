package fiscal

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrMalformedAmount = errors.New("malformed amount")
)

// IVA general 21%
var (
	tasaIVA    = decimal.New(21, -2)
	divisorIVA = decimal.New(121, -2)
	centavo    = decimal.New(1, -2)
)

// Split derives the net and VAT amounts from a VAT-inclusive total.
// Rounding is half-up to 2 decimals; the parts must reassemble the total
// within one cent, otherwise the input itself is malformed.
func Split(total decimal.Decimal) (neto, iva decimal.Decimal, err error) {
	if total.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, ErrMalformedAmount
	}

	neto = total.Div(divisorIVA).Round(2)
	iva = total.Sub(neto).Round(2)

	if neto.Add(iva).Sub(total).Abs().GreaterThan(centavo) {
		return decimal.Zero, decimal.Zero, ErrMalformedAmount
	}
	return neto, iva, nil
}

// DocTipo maps a buyer identifier to the authority document-type code:
// 80 for an 11-digit CUIT, 96 for a DNI.
func DocTipo(docNro string) int {
	if len(docNro) == 11 {
		return 80
	}
	return 96
}

// pesos CUIT check-digit weights
var pesosCUIT = [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}

// ValidCUIT verifies the mod-11 check digit of an 11-digit CUIT.
func ValidCUIT(cuit string) bool {
	if len(cuit) != 11 {
		return false
	}
	sum := 0
	for i, peso := range pesosCUIT {
		d := cuit[i]
		if d < '0' || d > '9' {
			return false
		}
		sum += int(d-'0') * peso
	}
	last := cuit[10]
	if last < '0' || last > '9' {
		return false
	}

	ver := 11 - sum%11
	switch ver {
	case 11:
		ver = 0
	case 10:
		return false
	}
	return int(last-'0') == ver
}
