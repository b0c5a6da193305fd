package calc

import "math/big"

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10_000

var bpsDenominator = big.NewInt(BpsDenominator)

// FeeRateBps maps a governance-token stake to a deposit fee rate:
// cap * (1 - min(g, S) / S), where S is the stake that earns a zero fee.
// A zero S means every stake qualifies.
func FeeRateBps(governanceStake *big.Int, feeRateCapBps uint64, stakeCapForZeroFee *big.Int) uint64 {
	if stakeCapForZeroFee == nil || stakeCapForZeroFee.Sign() <= 0 {
		return 0
	}
	effective := new(big.Int).Set(nonNil(governanceStake))
	if effective.Cmp(stakeCapForZeroFee) > 0 {
		effective.Set(stakeCapForZeroFee)
	}

	capBps := new(big.Int).SetUint64(feeRateCapBps)
	discount := new(big.Int).Mul(capBps, effective)
	discount.Quo(discount, stakeCapForZeroFee)

	return new(big.Int).Sub(capBps, discount).Uint64()
}

// Fee returns principal * feeRateBps / 10000, rounded down.
func Fee(principal *big.Int, feeRateBps uint64) *big.Int {
	fee := new(big.Int).Mul(nonNil(principal), new(big.Int).SetUint64(feeRateBps))
	return fee.Quo(fee, bpsDenominator)
}

func nonNil(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
