package api

import (
	"math/big"

	"github.com/ubiquity/ubiquity-dollar-sub001/internal/calc"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/repository"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/service"
)

// AmountDTO carries a raw integer amount alongside its human rendering.
type AmountDTO struct {
	Raw     string `json:"raw"`
	Decimal string `json:"decimal"`
}

func amount(v *big.Int, decimals uint8) AmountDTO {
	if v == nil {
		v = new(big.Int)
	}
	return AmountDTO{Raw: v.String(), Decimal: calc.ToDecimal(v, decimals).String()}
}

type PositionDTO struct {
	Address         string    `json:"address"`
	Open            bool      `json:"open"`
	Principal       AmountDTO `json:"principal"`
	VaultShares     string    `json:"vaultShares"`
	DollarStake     AmountDTO `json:"dollarStake"`
	GovernanceStake AmountDTO `json:"governanceStake"`
	FeeCharged      AmountDTO `json:"feeCharged"`
	EntryPrice      AmountDTO `json:"entryPrice"`
	BonusRateBps    uint64    `json:"bonusRateBps"`
	OpenedAt        int64     `json:"openedAt,omitempty"`
}

func positionDTO(address string, p ledger.Position, stableDecimals uint8) PositionDTO {
	dto := PositionDTO{
		Address:         address,
		Open:            p.IsOpen(),
		Principal:       amount(p.Principal, stableDecimals),
		VaultShares:     orZero(p.VaultShares).String(),
		DollarStake:     amount(p.DollarStake, calc.WadDecimals),
		GovernanceStake: amount(p.GovernanceStake, calc.WadDecimals),
		FeeCharged:      amount(p.FeeCharged, stableDecimals),
		EntryPrice:      amount(p.EntryPrice, calc.WadDecimals),
		BonusRateBps:    p.BonusRateBps,
	}
	if !p.OpenedAt.IsZero() {
		dto.OpenedAt = p.OpenedAt.Unix()
	}
	return dto
}

type SettlementDTO struct {
	Principal       AmountDTO `json:"principal"`
	Returned        AmountDTO `json:"returned"`
	Redeemed        AmountDTO `json:"redeemed"`
	DollarStake     AmountDTO `json:"dollarStake"`
	GovernanceStake AmountDTO `json:"governanceStake"`
	ExitPrice       AmountDTO `json:"exitPrice"`
	YieldInStable   AmountDTO `json:"yieldInStable"`
	RewardPayout    AmountDTO `json:"rewardPayout"`
	Shortfall       AmountDTO `json:"shortfall"`
}

func settlementDTO(s ledger.Settlement, stableDecimals uint8) SettlementDTO {
	return SettlementDTO{
		Principal:       amount(s.Principal, stableDecimals),
		Returned:        amount(s.Returned, stableDecimals),
		Redeemed:        amount(s.Redeemed, stableDecimals),
		DollarStake:     amount(s.DollarStake, calc.WadDecimals),
		GovernanceStake: amount(s.GovernanceStake, calc.WadDecimals),
		ExitPrice:       amount(s.ExitPrice, calc.WadDecimals),
		YieldInStable:   amount(s.YieldInStable, stableDecimals),
		RewardPayout:    amount(s.RewardPayout, calc.WadDecimals),
		Shortfall:       amount(s.Shortfall, stableDecimals),
	}
}

// WithdrawDTO is returned by a withdrawal. Pending is set when some payouts
// were deferred.
type WithdrawDTO struct {
	Settlement SettlementDTO `json:"settlement"`
	Pending    *PendingDTO   `json:"pending,omitempty"`
	Message    string        `json:"message,omitempty"`
}

type PendingDTO struct {
	Address    string    `json:"address"`
	Stable     AmountDTO `json:"stable"`
	Dollar     AmountDTO `json:"dollar"`
	Governance AmountDTO `json:"governance"`
	Reward     AmountDTO `json:"reward"`
	// Unbacked stablecoin is paid once the treasury covers it.
	Unbacked AmountDTO `json:"unbacked"`
}

func pendingDTO(address string, p ledger.PendingPayout, stableDecimals uint8) PendingDTO {
	return PendingDTO{
		Address:    address,
		Stable:     amount(p.Stable, stableDecimals),
		Dollar:     amount(p.Dollar, calc.WadDecimals),
		Governance: amount(p.Governance, calc.WadDecimals),
		Reward:     amount(p.Reward, calc.WadDecimals),
		Unbacked:   amount(p.Unbacked, stableDecimals),
	}
}

type QuoteDTO struct {
	FeeRateBps   uint64    `json:"feeRateBps"`
	Fee          AmountDTO `json:"fee"`
	NetPrincipal AmountDTO `json:"netPrincipal"`
	BonusRateBps uint64    `json:"bonusRateBps"`
}

type AssetsDTO struct {
	Stable         string `json:"stable"`
	StableDecimals uint8  `json:"stableDecimals"`
	Dollar         string `json:"dollar"`
	Governance     string `json:"governance"`
	Reward         string `json:"reward"`
}

type VaultDTO struct {
	Vault              string    `json:"vault"`
	Admin              string    `json:"admin"`
	FeeRateCapBps      uint64    `json:"feeRateCapBps"`
	StakeCapForZeroFee AmountDTO `json:"stakeCapForZeroFee"`
	Surplus            AmountDTO `json:"surplus"`
	FeesCollected      AmountDTO `json:"feesCollected"`
	PricePerShare      AmountDTO `json:"pricePerShare"`
	Assets             AssetsDTO `json:"assets"`
	ProtocolTokens     []string  `json:"protocolTokens"`
}

func vaultDTO(o service.VaultOverview) VaultDTO {
	d := o.Assets.StableDecimals
	tokens := make([]string, len(o.ProtocolTokens))
	for i, t := range o.ProtocolTokens {
		tokens[i] = t.Hex()
	}
	return VaultDTO{
		Vault:              o.Config.VaultAddress.Hex(),
		Admin:              o.Config.Admin.Hex(),
		FeeRateCapBps:      o.Config.FeeRateCapBps,
		StakeCapForZeroFee: amount(o.Config.StakeCapForZeroFee, calc.WadDecimals),
		Surplus:            amount(o.Config.Surplus, d),
		FeesCollected:      amount(o.Config.FeesCollected, d),
		PricePerShare:      amount(o.PricePerShare, calc.WadDecimals),
		Assets: AssetsDTO{
			Stable:         o.Assets.Stable.Hex(),
			StableDecimals: d,
			Dollar:         o.Assets.Dollar.Hex(),
			Governance:     o.Assets.Governance.Hex(),
			Reward:         o.Assets.Reward.Hex(),
		},
		ProtocolTokens: tokens,
	}
}

type EventDTO struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Account   string            `json:"account"`
	Timestamp int64             `json:"timestamp"`
	Fields    map[string]string `json:"fields"`
}

type EventsDTO struct {
	Events     []EventDTO `json:"events"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

type SnapshotDTO struct {
	EventID      string    `json:"eventId"`
	Status       string    `json:"status"`
	Principal    AmountDTO `json:"principal"`
	FeeCharged   AmountDTO `json:"feeCharged"`
	RewardPayout AmountDTO `json:"rewardPayout"`
	At           int64     `json:"at"`
}

func snapshotDTO(s repository.PositionSnapshot, stableDecimals uint8) *SnapshotDTO {
	return &SnapshotDTO{
		EventID:      s.EventID,
		Status:       string(s.Status),
		Principal:    amount(s.Principal, stableDecimals),
		FeeCharged:   amount(s.FeeCharged, stableDecimals),
		RewardPayout: amount(s.RewardPayout, calc.WadDecimals),
		At:           s.At.Unix(),
	}
}

// Request bodies. Amounts are raw base-10 integers in the token's own units.

type DepositRequest struct {
	Principal       string `json:"principal"`
	DollarStake     string `json:"dollarStake"`
	GovernanceStake string `json:"governanceStake"`
}

type FeeRateCapRequest struct {
	Bps uint64 `json:"bps"`
}

type StakeCapRequest struct {
	Amount string `json:"amount"`
}

type AddressRequest struct {
	Address string `json:"address"`
}

type SweepRequest struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type SimPriceRequest struct {
	PricePerShare string `json:"pricePerShare"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
