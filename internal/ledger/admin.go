package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/calc"
)

// adminOp runs fn under the engine lock once caller is confirmed as admin.
func (e *Engine) adminOp(ctx context.Context, caller common.Address, fn func(cfg VaultConfig) ([]Event, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	events, err := func() ([]Event, error) {
		cfg, err := e.config(ctx)
		if err != nil {
			return nil, err
		}
		if caller != cfg.Admin {
			return nil, ErrUnauthorized
		}
		return fn(cfg)
	}()
	if err != nil {
		return err
	}
	e.emit(ctx, events)
	return nil
}

func (e *Engine) SetFeeRateCap(ctx context.Context, caller common.Address, bps uint64) error {
	return e.adminOp(ctx, caller, func(cfg VaultConfig) ([]Event, error) {
		if err := calc.ValidateBps(bps, "fee rate cap"); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFeeRate, err)
		}
		prev := cfg.FeeRateCapBps
		cfg.FeeRateCapBps = bps
		if err := e.state.Commit(ctx, NewBatch().PutConfig(cfg)); err != nil {
			return nil, err
		}
		e.logger.Infow("Fee rate cap updated", "from", prev, "to", bps)
		return []Event{e.newEvent(EventFeeRateCapUpdated, caller, fields{
			"from": fmt.Sprint(prev),
			"to":   fmt.Sprint(bps),
		})}, nil
	})
}

func checkStakeCap(amount *big.Int) error {
	if amount == nil {
		return ErrZeroAmount
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if amount.Cmp(HardStakeCapForZeroFee) > 0 {
		return ErrExceedsHardCap
	}
	return nil
}

func (e *Engine) SetStakeCapForZeroFee(ctx context.Context, caller common.Address, amount *big.Int) error {
	return e.adminOp(ctx, caller, func(cfg VaultConfig) ([]Event, error) {
		if err := checkStakeCap(amount); err != nil {
			return nil, err
		}
		prev := cfg.StakeCapForZeroFee
		cfg.StakeCapForZeroFee = new(big.Int).Set(amount)
		if err := e.state.Commit(ctx, NewBatch().PutConfig(cfg)); err != nil {
			return nil, err
		}
		e.logger.Infow("Stake cap for zero fee updated", "from", prev.String(), "to", amount.String())
		return []Event{e.newEvent(EventStakeCapUpdated, caller, fields{}.
			amount("from", prev).
			amount("to", amount))}, nil
	})
}

// checkVault accepts only a deployed jar whose want token is the stablecoin.
func (e *Engine) checkVault(ctx context.Context, addr common.Address) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidVault)
	}
	ok, err := e.chain.IsContract(ctx, addr)
	if err != nil {
		return fmt.Errorf("check vault code: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a contract", ErrInvalidVault, addr.Hex())
	}
	jar, err := e.chain.Jar(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVault, err)
	}
	if jar.Want() != e.stable.Address() {
		return fmt.Errorf("%w: vault accepts %s, not the stablecoin", ErrInvalidVault, jar.Want().Hex())
	}
	return nil
}

// SetVaultAddress points new deposits at another jar. Open positions hold
// shares of the current jar, so the switch waits until none are open.
func (e *Engine) SetVaultAddress(ctx context.Context, caller, addr common.Address) error {
	return e.adminOp(ctx, caller, func(cfg VaultConfig) ([]Event, error) {
		if err := e.checkVault(ctx, addr); err != nil {
			return nil, err
		}
		if addr == cfg.VaultAddress {
			return nil, nil
		}
		open, err := e.state.OpenPositions(ctx)
		if err != nil {
			return nil, err
		}
		if open > 0 {
			return nil, fmt.Errorf("%w: %d open", ErrVaultInUse, open)
		}
		prev := cfg.VaultAddress
		cfg.VaultAddress = addr
		if err := e.state.Commit(ctx, NewBatch().PutConfig(cfg)); err != nil {
			return nil, err
		}
		e.logger.Infow("Vault updated", "from", prev.Hex(), "to", addr.Hex())
		return []Event{e.newEvent(EventVaultUpdated, caller, fields{}.
			address("from", prev).
			address("to", addr))}, nil
	})
}

// SetAdmin hands the admin role to newAdmin.
func (e *Engine) SetAdmin(ctx context.Context, caller, newAdmin common.Address) error {
	return e.adminOp(ctx, caller, func(cfg VaultConfig) ([]Event, error) {
		if newAdmin == (common.Address{}) {
			return nil, ErrZeroAddress
		}
		cfg.Admin = newAdmin
		if err := e.state.Commit(ctx, NewBatch().PutConfig(cfg)); err != nil {
			return nil, err
		}
		e.logger.Infow("Admin updated", "from", caller.Hex(), "to", newAdmin.Hex())
		return []Event{e.newEvent(EventAdminUpdated, caller, fields{}.
			address("from", caller).
			address("to", newAdmin))}, nil
	})
}

func (e *Engine) RegisterProtocolToken(ctx context.Context, caller, token common.Address) error {
	return e.adminOp(ctx, caller, func(VaultConfig) ([]Event, error) {
		if err := e.dust.Register(ctx, token); err != nil {
			return nil, err
		}
		e.logger.Infow("Protocol token registered", "token", token.Hex())
		return []Event{e.newEvent(EventProtocolTokenRegistered, caller, fields{}.address("token", token))}, nil
	})
}

func (e *Engine) DeregisterProtocolToken(ctx context.Context, caller, token common.Address) error {
	return e.adminOp(ctx, caller, func(VaultConfig) ([]Event, error) {
		if err := e.dust.Deregister(ctx, token); err != nil {
			return nil, err
		}
		e.logger.Infow("Protocol token deregistered", "token", token.Hex())
		return []Event{e.newEvent(EventProtocolTokenDeregistered, caller, fields{}.address("token", token))}, nil
	})
}

// SweepDust transfers a stray token balance out of the proxy.
func (e *Engine) SweepDust(ctx context.Context, caller, to, token common.Address, amount *big.Int) error {
	return e.adminOp(ctx, caller, func(VaultConfig) ([]Event, error) {
		if err := e.dust.Sweep(ctx, to, token, amount); err != nil {
			return nil, err
		}
		e.logger.Infow("Dust swept", "to", to.Hex(), "token", token.Hex(), "amount", amount.String())
		return []Event{e.newEvent(EventDustSwept, caller, fields{}.
			address("to", to).
			address("token", token).
			amount("amount", amount))}, nil
	})
}
