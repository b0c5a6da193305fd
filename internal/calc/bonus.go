package calc

import "math/big"

const (
	// MinBonusBps is the bonus rate with no dollar stake.
	MinBonusBps = 5_000
	// MaxBonusBps is the bonus rate once the stake covers half the principal.
	MaxBonusBps = 10_000
)

// BonusRateBps maps a dollar-token stake to a yield bonus rate in
// [MinBonusBps, MaxBonusBps]. The stake saturates at half of the principal
// expressed in 18 decimals.
func BonusRateBps(dollarStake, principal18 *big.Int) uint64 {
	stake := nonNil(dollarStake)
	if stake.Sign() <= 0 {
		return MinBonusBps
	}

	maxEffective := new(big.Int).Rsh(nonNil(principal18), 1)
	if maxEffective.Sign() == 0 || stake.Cmp(maxEffective) >= 0 {
		// a 1-wei principal has no room for a partial bonus
		return MaxBonusBps
	}

	span := big.NewInt(MaxBonusBps - MinBonusBps)
	boost := new(big.Int).Mul(span, stake)
	boost.Quo(boost, maxEffective)

	return MinBonusBps + boost.Uint64()
}
