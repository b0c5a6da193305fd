package onchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Devnet is an in-process deployment of everything the proxy talks to: the
// stablecoin, the dollar and governance tokens, the reward token (minted by
// the proxy) and one jar over the stablecoin.
type Devnet struct {
	Chain      *MemoryChain
	Stable     *MemoryToken
	Dollar     *MemoryToken
	Governance *MemoryToken
	Reward     *MemoryToken
	Jar        *MemoryJar

	proxy common.Address
}

func NewDevnet(proxy, deployer common.Address, stableDecimals uint8) *Devnet {
	chain := NewMemoryChain(proxy, deployer)
	d := &Devnet{
		Chain:      chain,
		Stable:     chain.DeployToken("USDC", stableDecimals),
		Dollar:     chain.DeployToken("uAD", 18),
		Governance: chain.DeployToken("UBQ", 18),
		Reward:     chain.DeployToken("uCR", 18),
		proxy:      proxy,
	}
	d.Reward.SetMinter(proxy)
	d.Jar = chain.DeployJar(d.Stable)
	return d
}

// Fund mints the given amounts to account and raises its allowances to the
// proxy by the same amounts. Nil or zero amounts are skipped.
func (d *Devnet) Fund(ctx context.Context, account common.Address, stable, dollar, governance *big.Int) error {
	for _, f := range []struct {
		token  *MemoryToken
		amount *big.Int
	}{{d.Stable, stable}, {d.Dollar, dollar}, {d.Governance, governance}} {
		if f.amount == nil || f.amount.Sign() == 0 {
			continue
		}
		if f.amount.Sign() < 0 {
			return fmt.Errorf("fund %s: %w", f.token.Symbol(), ErrInvalidAmount)
		}
		f.token.Mint(account, f.amount)
		allowance := new(big.Int).Add(f.token.Allowance(account, d.proxy), f.amount)
		if err := f.token.As(account).Approve(ctx, d.proxy, allowance); err != nil {
			return fmt.Errorf("approve %s: %w", f.token.Symbol(), err)
		}
	}
	return nil
}

// Bound returns the proxy-bound views the ledger engine is built from.
func (d *Devnet) Bound() (stable, dollar, governance Token, reward RewardToken) {
	return d.Stable.As(d.proxy), d.Dollar.As(d.proxy), d.Governance.As(d.proxy), d.Reward.As(d.proxy)
}
