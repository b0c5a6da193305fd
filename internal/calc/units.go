package calc

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// WadDecimals is the precision of governance, dollar and reward amounts and
// of share prices.
const WadDecimals = 18

// Wad is 1.0 in 18-decimal fixed point.
var Wad = Pow10(WadDecimals)

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// To18 rescales an amount with the given native decimals to 18 decimals.
// Tokens with more than 18 decimals are truncated.
func To18(amount *big.Int, decimals uint8) *big.Int {
	switch {
	case decimals == WadDecimals:
		return new(big.Int).Set(nonNil(amount))
	case decimals < WadDecimals:
		return new(big.Int).Mul(nonNil(amount), Pow10(WadDecimals-decimals))
	default:
		return new(big.Int).Quo(nonNil(amount), Pow10(decimals-WadDecimals))
	}
}

// ToDecimal renders a raw integer amount in human units.
func ToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(nonNil(amount), -int32(decimals))
}
