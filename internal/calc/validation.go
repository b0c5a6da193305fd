package calc

import (
	"fmt"
	"math/big"
)

// ParseAmount parses a non-negative base-10 integer amount in raw units.
// An empty string is zero.
func ParseAmount(s, field string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q is not an integer", field, s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: must not be negative", field)
	}
	return amount, nil
}

// ValidateBps checks that a rate lies in [0, 10000].
func ValidateBps(bps uint64, field string) error {
	if bps > BpsDenominator {
		return fmt.Errorf("invalid %s: %d exceeds %d bps", field, bps, BpsDenominator)
	}
	return nil
}
