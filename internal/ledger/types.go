package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/calc"
)

const DefaultFeeRateCapBps = 1_000

// HardStakeCapForZeroFee bounds every admin write of the zero-fee stake cap.
var HardStakeCapForZeroFee = new(big.Int).Mul(big.NewInt(10_000), calc.Wad)

// Position is the single open deposit of an account. Amounts are raw
// integers: Principal and FeeCharged in stablecoin decimals, stakes and
// EntryPrice in 18 decimals.
type Position struct {
	Principal       *big.Int  `json:"principal"`
	VaultShares     *big.Int  `json:"vaultShares"`
	DollarStake     *big.Int  `json:"dollarStake"`
	GovernanceStake *big.Int  `json:"governanceStake"`
	FeeCharged      *big.Int  `json:"feeCharged"`
	EntryPrice      *big.Int  `json:"entryPrice"`
	BonusRateBps    uint64    `json:"bonusRateBps"`
	OpenedAt        time.Time `json:"openedAt"`
}

// IsOpen reports whether p holds a deposit.
func (p Position) IsOpen() bool {
	return p.Principal != nil && p.Principal.Sign() > 0
}

// normalized replaces nil amounts with zero so readers never see nil.
func (p Position) normalized() Position {
	for _, f := range []**big.Int{&p.Principal, &p.VaultShares, &p.DollarStake, &p.GovernanceStake, &p.FeeCharged, &p.EntryPrice} {
		if *f == nil {
			*f = new(big.Int)
		}
	}
	return p
}

// VaultConfig is the admin-mutable protocol configuration.
type VaultConfig struct {
	FeeRateCapBps      uint64         `json:"feeRateCapBps"`
	StakeCapForZeroFee *big.Int       `json:"stakeCapForZeroFee"`
	VaultAddress       common.Address `json:"vaultAddress"`
	Admin              common.Address `json:"admin"`

	// Surplus is redeemed stablecoin beyond what positions were owed. It
	// stays with the proxy.
	Surplus       *big.Int `json:"surplus"`
	FeesCollected *big.Int `json:"feesCollected"`
}

func (c VaultConfig) normalized() VaultConfig {
	for _, f := range []**big.Int{&c.StakeCapForZeroFee, &c.Surplus, &c.FeesCollected} {
		if *f == nil {
			*f = new(big.Int)
		}
	}
	return c
}

// Treasury is the stablecoin the proxy holds on its own account.
func (c VaultConfig) Treasury() *big.Int {
	c = c.normalized()
	return new(big.Int).Add(c.Surplus, c.FeesCollected)
}

// draw takes up to amount from Surplus, then from FeesCollected, and
// returns how much it took.
func (c *VaultConfig) draw(amount *big.Int) *big.Int {
	*c = c.normalized()
	left := new(big.Int).Set(amount)
	for _, f := range []**big.Int{&c.Surplus, &c.FeesCollected} {
		if left.Sign() <= 0 {
			break
		}
		take := new(big.Int).Set(left)
		if take.Cmp(*f) > 0 {
			take.Set(*f)
		}
		*f = new(big.Int).Sub(*f, take)
		left.Sub(left, take)
	}
	return new(big.Int).Sub(amount, left)
}

// Genesis seeds the vault config the first time the ledger starts.
type Genesis struct {
	Admin              common.Address
	VaultAddress       common.Address
	FeeRateCapBps      uint64
	StakeCapForZeroFee *big.Int
}

// Quote previews the rates a deposit would lock in.
type Quote struct {
	FeeRateBps   uint64   `json:"feeRateBps"`
	Fee          *big.Int `json:"fee"`
	NetPrincipal *big.Int `json:"netPrincipal"`
	BonusRateBps uint64   `json:"bonusRateBps"`
}

// Settlement is the outcome of a withdrawal.
type Settlement struct {
	Principal       *big.Int `json:"principal"`
	Returned        *big.Int `json:"returned"`
	Redeemed        *big.Int `json:"redeemed"`
	DollarStake     *big.Int `json:"dollarStake"`
	GovernanceStake *big.Int `json:"governanceStake"`
	ExitPrice       *big.Int `json:"exitPrice"`
	YieldInStable   *big.Int `json:"yieldInStable"`
	RewardPayout    *big.Int `json:"rewardPayout"`

	// Shortfall is stablecoin owed but not covered by the redemption or the
	// treasury. It is left pending until reserves cover it.
	Shortfall *big.Int `json:"shortfall"`
}

// PendingPayout holds amounts still owed to an account after a withdrawal
// whose payouts did not all go through.
type PendingPayout struct {
	Stable     *big.Int `json:"stable"`
	Dollar     *big.Int `json:"dollar"`
	Governance *big.Int `json:"governance"`
	Reward     *big.Int `json:"reward"`

	// Unbacked is the part of Stable the proxy does not hold yet. Settling
	// it draws on the treasury.
	Unbacked *big.Int `json:"unbacked,omitempty"`
}

func (p PendingPayout) normalized() PendingPayout {
	for _, f := range []**big.Int{&p.Stable, &p.Dollar, &p.Governance, &p.Reward, &p.Unbacked} {
		if *f == nil {
			*f = new(big.Int)
		}
	}
	return p
}

// IsZero reports whether nothing is owed.
func (p PendingPayout) IsZero() bool {
	p = p.normalized()
	return p.Stable.Sign() == 0 && p.Dollar.Sign() == 0 && p.Governance.Sign() == 0 && p.Reward.Sign() == 0
}

func (p PendingPayout) add(o PendingPayout) PendingPayout {
	p, o = p.normalized(), o.normalized()
	return PendingPayout{
		Stable:     new(big.Int).Add(p.Stable, o.Stable),
		Dollar:     new(big.Int).Add(p.Dollar, o.Dollar),
		Governance: new(big.Int).Add(p.Governance, o.Governance),
		Reward:     new(big.Int).Add(p.Reward, o.Reward),
		Unbacked:   new(big.Int).Add(p.Unbacked, o.Unbacked),
	}
}

// Assets names the tokens the ledger moves.
type Assets struct {
	Stable         common.Address `json:"stable"`
	StableDecimals uint8          `json:"stableDecimals"`
	Dollar         common.Address `json:"dollar"`
	Governance     common.Address `json:"governance"`
	Reward         common.Address `json:"reward"`
}
