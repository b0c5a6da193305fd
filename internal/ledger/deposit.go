package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/onchain"
)

// Deposit opens a position for account: it pulls the principal and both
// stakes, forwards principal minus the fee to the jar and records the
// snapshot. Every precondition is checked before anything moves; a failing
// transfer unwinds the ones already made.
func (e *Engine) Deposit(ctx context.Context, account common.Address, principal, dollarStake, governanceStake *big.Int) (Position, error) {
	if err := checkAmounts(principal, dollarStake, governanceStake); err != nil {
		return Position{}, err
	}
	if account == (common.Address{}) {
		return Position{}, ErrZeroAddress
	}
	dollarStake, governanceStake = orZero(dollarStake), orZero(governanceStake)

	e.mu.Lock()
	defer e.mu.Unlock()

	pos, events, err := e.deposit(ctx, account, principal, dollarStake, governanceStake)
	if err != nil {
		return Position{}, err
	}

	e.emit(ctx, events)
	return pos, nil
}

func (e *Engine) deposit(ctx context.Context, account common.Address, principal, dollarStake, governanceStake *big.Int) (Position, []Event, error) {
	existing, err := e.state.Position(ctx, account)
	if err != nil {
		return Position{}, nil, err
	}
	if existing.IsOpen() {
		return Position{}, nil, ErrPositionAlreadyOpen
	}
	cfg, err := e.config(ctx)
	if err != nil {
		return Position{}, nil, err
	}
	jar, err := e.chain.Jar(cfg.VaultAddress)
	if err != nil {
		return Position{}, nil, fmt.Errorf("resolve vault: %w", err)
	}
	entryPrice, err := jar.PricePerShare(ctx)
	if err != nil {
		return Position{}, nil, fmt.Errorf("read entry price: %w", err)
	}
	if entryPrice.Sign() <= 0 {
		return Position{}, nil, fmt.Errorf("%w: price per share is zero", ErrInvalidVault)
	}

	q := e.quote(cfg, principal, dollarStake, governanceStake)
	undo := &undoStack{}

	pulls := []struct {
		name   string
		token  onchain.Token
		amount *big.Int
	}{
		{"stablecoin", e.stable, principal},
		{"dollar stake", e.dollar, dollarStake},
		{"governance stake", e.governance, governanceStake},
	}
	for _, p := range pulls {
		if p.amount.Sign() == 0 {
			continue
		}
		if err := p.token.TransferFrom(ctx, account, e.self, p.amount); err != nil {
			return Position{}, nil, undo.unwind(ctx, e.logger, fmt.Errorf("pull %s: %w", p.name, err))
		}
		token, amount := p.token, p.amount
		undo.push("refund "+p.name, func(ctx context.Context) error {
			return token.Transfer(ctx, account, amount)
		})
	}

	shares := new(big.Int)
	if q.NetPrincipal.Sign() > 0 {
		if err := e.stable.Approve(ctx, jar.Address(), q.NetPrincipal); err != nil {
			return Position{}, nil, undo.unwind(ctx, e.logger, fmt.Errorf("approve vault: %w", err))
		}
		shares, err = jar.Deposit(ctx, q.NetPrincipal)
		if err != nil {
			return Position{}, nil, undo.unwind(ctx, e.logger, fmt.Errorf("deposit to vault: %w", err))
		}
		minted := shares
		undo.push("redeem vault shares", func(ctx context.Context) error {
			_, err := jar.Redeem(ctx, minted)
			return err
		})
	}

	pos := Position{
		Principal:       new(big.Int).Set(principal),
		VaultShares:     shares,
		DollarStake:     new(big.Int).Set(dollarStake),
		GovernanceStake: new(big.Int).Set(governanceStake),
		FeeCharged:      q.Fee,
		EntryPrice:      entryPrice,
		BonusRateBps:    q.BonusRateBps,
		OpenedAt:        e.now().UTC(),
	}
	cfg.FeesCollected = new(big.Int).Add(cfg.FeesCollected, q.Fee)

	if err := e.state.Commit(ctx, NewBatch().PutPosition(account, pos).PutConfig(cfg)); err != nil {
		return Position{}, nil, undo.unwind(ctx, e.logger, err)
	}

	e.logger.Infow("Position opened",
		"account", account.Hex(),
		"principal", principal.String(),
		"feeRateBps", q.FeeRateBps,
		"fee", q.Fee.String(),
		"bonusRateBps", q.BonusRateBps,
		"shares", shares.String(),
		"entryPrice", entryPrice.String())

	ev := e.newEvent(EventDeposited, account, fields{}.
		amount("principal", principal).
		amount("dollarStake", dollarStake).
		amount("governanceStake", governanceStake).
		amount("feeCharged", q.Fee).
		amount("vaultShares", shares))
	return pos, []Event{ev}, nil
}
