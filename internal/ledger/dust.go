package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/onchain"
)

// DustRegistry tracks protocol tokens and sweeps every other token balance
// the proxy holds. It refuses protocol tokens on its own, whoever calls it.
type DustRegistry struct {
	state State
	chain onchain.Chain
}

func NewDustRegistry(state State, chain onchain.Chain) *DustRegistry {
	return &DustRegistry{state: state, chain: chain}
}

func (r *DustRegistry) IsProtocolToken(ctx context.Context, token common.Address) (bool, error) {
	return r.state.IsProtocolToken(ctx, token)
}

func (r *DustRegistry) Register(ctx context.Context, token common.Address) error {
	if token == (common.Address{}) {
		return ErrZeroAddress
	}
	ok, err := r.state.IsProtocolToken(ctx, token)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyRegistered
	}
	return r.state.Commit(ctx, NewBatch().AddProtocolToken(token))
}

func (r *DustRegistry) Deregister(ctx context.Context, token common.Address) error {
	ok, err := r.state.IsProtocolToken(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRegistered
	}
	return r.state.Commit(ctx, NewBatch().RemoveProtocolToken(token))
}

// Sweep transfers amount of a non-protocol token from the proxy to to.
func (r *DustRegistry) Sweep(ctx context.Context, to, token common.Address, amount *big.Int) error {
	ok, err := r.state.IsProtocolToken(ctx, token)
	if err != nil {
		return err
	}
	if ok {
		return ErrProtocolToken
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() == 0 {
		return ErrZeroAmount
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	t, err := r.chain.Token(token)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	if err := t.Transfer(ctx, to, amount); err != nil {
		return fmt.Errorf("sweep %s: %w", token.Hex(), err)
	}
	return nil
}
