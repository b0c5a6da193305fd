package calc

import "math/big"

// Yield is the stablecoin gain of principal between two share prices,
// principal * exit / entry - principal. A falling price yields zero.
func Yield(principal, entryPrice, exitPrice *big.Int) *big.Int {
	if entryPrice == nil || entryPrice.Sign() <= 0 || exitPrice == nil {
		return new(big.Int)
	}
	grown := new(big.Int).Mul(nonNil(principal), exitPrice)
	grown.Quo(grown, entryPrice)

	y := grown.Sub(grown, nonNil(principal))
	if y.Sign() < 0 {
		return new(big.Int)
	}
	return y
}

// RewardPayout applies the bonus to the 18-decimal yield and credits the
// deposit fee back: yield18 * (10000 + bonus) / 10000 + fee18.
func RewardPayout(yield18 *big.Int, bonusRateBps uint64, fee18 *big.Int) *big.Int {
	multiplier := new(big.Int).SetUint64(BpsDenominator + bonusRateBps)
	payout := new(big.Int).Mul(nonNil(yield18), multiplier)
	payout.Quo(payout, bpsDenominator)
	return payout.Add(payout, nonNil(fee18))
}

// ShareValue is what shares redeem for at price, rounded down.
func ShareValue(shares, price *big.Int) *big.Int {
	v := new(big.Int).Mul(nonNil(shares), nonNil(price))
	return v.Quo(v, Wad)
}

// RoundingLoss bounds the stablecoin a deposit and redemption at entryPrice
// can lose to integer division: under one unit at each step plus whatever
// share fraction the mint truncated.
func RoundingLoss(entryPrice *big.Int) *big.Int {
	loss := new(big.Int).Quo(nonNil(entryPrice), Wad)
	return loss.Add(loss, big.NewInt(2))
}
