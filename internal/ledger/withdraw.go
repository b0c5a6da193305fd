package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/calc"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/onchain"
)

// WithdrawAll settles and closes the account's position.
//
// The position is cleared before any external call. Until value leaves the
// proxy a failure restores it (redepositing anything already redeemed).
// Once payouts start the position stays closed; a failing payout records the
// unpaid remainder as a PendingPayout and the error wraps
// ErrSettlementIncomplete.
//
// A redemption short of principal minus fee is made up from the treasury,
// Surplus first and then FeesCollected. Share rounding the treasury cannot
// cover is left pending as Settlement.Shortfall; a larger gap is refused
// with ErrInsufficientReserves before anything moves.
func (e *Engine) WithdrawAll(ctx context.Context, account common.Address) (Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, events, err := e.withdrawAll(ctx, account)
	e.emit(ctx, events)
	return s, err
}

func (e *Engine) withdrawAll(ctx context.Context, account common.Address) (Settlement, []Event, error) {
	pos, err := e.state.Position(ctx, account)
	if err != nil {
		return Settlement{}, nil, err
	}
	if !pos.IsOpen() {
		return Settlement{}, nil, ErrNoOpenPosition
	}
	cfg, err := e.config(ctx)
	if err != nil {
		return Settlement{}, nil, err
	}
	jar, err := e.chain.Jar(cfg.VaultAddress)
	if err != nil {
		return Settlement{}, nil, fmt.Errorf("resolve vault: %w", err)
	}
	exitPrice, err := jar.PricePerShare(ctx)
	if err != nil {
		return Settlement{}, nil, fmt.Errorf("read exit price: %w", err)
	}

	decimals := e.stable.Decimals()
	yieldInStable := calc.Yield(pos.Principal, pos.EntryPrice, exitPrice)
	reward := calc.RewardPayout(
		calc.To18(yieldInStable, decimals),
		pos.BonusRateBps,
		calc.To18(pos.FeeCharged, decimals),
	)
	owed := new(big.Int).Sub(pos.Principal, pos.FeeCharged)

	expected := calc.ShareValue(pos.VaultShares, exitPrice)
	if gap := new(big.Int).Sub(owed, expected); gap.Sign() > 0 {
		uncovered := gap.Sub(gap, cfg.Treasury())
		if uncovered.Cmp(calc.RoundingLoss(pos.EntryPrice)) > 0 {
			return Settlement{}, nil, fmt.Errorf("%w: shares redeem for %s of %s owed, treasury holds %s",
				ErrInsufficientReserves, expected, owed, cfg.Treasury())
		}
	}

	if err := e.state.Commit(ctx, NewBatch().DeletePosition(account)); err != nil {
		return Settlement{}, nil, err
	}
	restored := pos
	undo := &undoStack{}
	undo.push("restore position", func(ctx context.Context) error {
		return e.state.Commit(ctx, NewBatch().PutPosition(account, restored))
	})

	redeemed := new(big.Int)
	if pos.VaultShares.Sign() > 0 {
		redeemed, err = jar.Redeem(ctx, pos.VaultShares)
		if err != nil {
			return Settlement{}, nil, undo.unwind(ctx, e.logger, fmt.Errorf("redeem vault shares: %w", err))
		}
		amount := redeemed
		undo.push("redeposit redeemed funds", func(ctx context.Context) error {
			if amount.Sign() == 0 {
				restored.VaultShares = new(big.Int)
				return nil
			}
			if err := e.stable.Approve(ctx, jar.Address(), amount); err != nil {
				return err
			}
			shares, err := jar.Deposit(ctx, amount)
			if err != nil {
				return err
			}
			restored.VaultShares = shares
			return nil
		})
	}

	// Redeemed value beyond what the position is owed stays with the proxy
	// as surplus; a gap is drawn from the treasury.
	updated := cfg
	shortfall := new(big.Int)
	switch gap := new(big.Int).Sub(owed, redeemed); gap.Sign() {
	case -1:
		updated.Surplus = new(big.Int).Sub(cfg.Surplus, gap)
	case 1:
		drawn := updated.draw(gap)
		shortfall.Sub(gap, drawn)
	}
	payable := new(big.Int).Sub(owed, shortfall)

	if err := e.checkReserves(ctx, payable, pos); err != nil {
		return Settlement{}, nil, undo.unwind(ctx, e.logger, err)
	}
	if updated.Surplus.Cmp(cfg.Surplus) != 0 || updated.FeesCollected.Cmp(cfg.FeesCollected) != 0 {
		if err := e.state.Commit(ctx, NewBatch().PutConfig(updated)); err != nil {
			return Settlement{}, nil, undo.unwind(ctx, e.logger, err)
		}
	}

	settlement := Settlement{
		Principal:       pos.Principal,
		Returned:        owed,
		Redeemed:        redeemed,
		DollarStake:     pos.DollarStake,
		GovernanceStake: pos.GovernanceStake,
		ExitPrice:       exitPrice,
		YieldInStable:   yieldInStable,
		RewardPayout:    reward,
		Shortfall:       shortfall,
	}

	remaining, payErr := e.pay(ctx, account, PendingPayout{
		Stable:     payable,
		Dollar:     pos.DollarStake,
		Governance: pos.GovernanceStake,
		Reward:     reward,
	})
	remaining.Stable = new(big.Int).Add(remaining.Stable, shortfall)
	remaining.Unbacked = shortfall
	if payErr != nil {
		return settlement, e.deferPayout(ctx, account, remaining), payErr
	}

	e.logger.Infow("Position settled",
		"account", account.Hex(),
		"principal", pos.Principal.String(),
		"returned", owed.String(),
		"redeemed", redeemed.String(),
		"shortfall", shortfall.String(),
		"entryPrice", pos.EntryPrice.String(),
		"exitPrice", exitPrice.String(),
		"yield", yieldInStable.String(),
		"rewardPayout", reward.String())

	events := []Event{e.newEvent(EventWithdrawnAll, account, fields{}.
		amount("principal", pos.Principal).
		amount("rewardPayout", reward).
		amount("returned", owed).
		amount("yield", yieldInStable))}
	if shortfall.Sign() > 0 {
		events = append(events, e.deferPayout(ctx, account, remaining)...)
	}
	return settlement, events, nil
}

// checkReserves verifies the proxy holds everything the payouts will send,
// so a shortfall aborts while the withdrawal can still be rolled back.
func (e *Engine) checkReserves(ctx context.Context, owed *big.Int, pos Position) error {
	checks := []struct {
		name   string
		token  onchain.Token
		amount *big.Int
	}{
		{"stablecoin", e.stable, owed},
		{"dollar", e.dollar, pos.DollarStake},
		{"governance", e.governance, pos.GovernanceStake},
	}
	for _, c := range checks {
		bal, err := c.token.BalanceOf(ctx, e.self)
		if err != nil {
			return fmt.Errorf("read %s reserve: %w", c.name, err)
		}
		if bal.Cmp(c.amount) < 0 {
			return fmt.Errorf("%w: %s balance %s below %s", ErrInsufficientReserves, c.name, bal, c.amount)
		}
	}
	return nil
}

// pay sends each non-zero payout in order and returns what is still unpaid
// when one fails.
func (e *Engine) pay(ctx context.Context, account common.Address, due PendingPayout) (PendingPayout, error) {
	due = due.normalized()
	remaining := due

	steps := []struct {
		name string
		slot **big.Int
		send func(amount *big.Int) error
	}{
		{"return stablecoin", &remaining.Stable, func(a *big.Int) error { return e.stable.Transfer(ctx, account, a) }},
		{"refund dollar stake", &remaining.Dollar, func(a *big.Int) error { return e.dollar.Transfer(ctx, account, a) }},
		{"refund governance stake", &remaining.Governance, func(a *big.Int) error { return e.governance.Transfer(ctx, account, a) }},
		{"mint reward", &remaining.Reward, func(a *big.Int) error { return e.reward.MintTo(ctx, account, a) }},
	}
	for _, s := range steps {
		amount := *s.slot
		if amount.Sign() == 0 {
			continue
		}
		if err := s.send(amount); err != nil {
			return remaining, fmt.Errorf("%w: %s: %w", ErrSettlementIncomplete, s.name, err)
		}
		*s.slot = new(big.Int)
	}
	return remaining, nil
}

// deferPayout adds remaining to the account's pending payout.
func (e *Engine) deferPayout(ctx context.Context, account common.Address, remaining PendingPayout) []Event {
	prior, err := e.state.Pending(ctx, account)
	if err != nil {
		e.logger.Errorw("Failed to load pending payout", "account", account.Hex(), "error", err)
		prior = PendingPayout{}.normalized()
	}
	total := prior.add(remaining)
	if err := e.state.Commit(context.WithoutCancel(ctx), NewBatch().PutPending(account, total)); err != nil {
		e.logger.Errorw("Failed to record pending payout",
			"account", account.Hex(),
			"stable", total.Stable.String(),
			"dollar", total.Dollar.String(),
			"governance", total.Governance.String(),
			"reward", total.Reward.String(),
			"error", err)
	}
	e.logger.Warnw("Settlement deferred", "account", account.Hex(), "reward", remaining.Reward.String())

	return []Event{e.newEvent(EventSettlementDeferred, account, fields{}.
		amount("stable", remaining.Stable).
		amount("dollar", remaining.Dollar).
		amount("governance", remaining.Governance).
		amount("reward", remaining.Reward).
		amount("unbacked", remaining.Unbacked))}
}

// SettlePending retries the payouts left over from an incomplete withdrawal.
// Unbacked stablecoin is paid only as far as the treasury covers it.
func (e *Engine) SettlePending(ctx context.Context, account common.Address) (PendingPayout, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	paid, events, err := e.settlePending(ctx, account)
	e.emit(ctx, events)
	return paid, err
}

func (e *Engine) settlePending(ctx context.Context, account common.Address) (PendingPayout, []Event, error) {
	due, err := e.state.Pending(ctx, account)
	if err != nil {
		return PendingPayout{}, nil, err
	}
	if due.IsZero() {
		return PendingPayout{}, nil, ErrNothingPending
	}

	var cfg VaultConfig
	payable := due
	covered, held := new(big.Int), new(big.Int)
	if due.Unbacked.Sign() > 0 {
		if cfg, err = e.config(ctx); err != nil {
			return PendingPayout{}, nil, err
		}
		covered.Set(due.Unbacked)
		if t := cfg.Treasury(); covered.Cmp(t) > 0 {
			covered.Set(t)
		}
		held.Sub(due.Unbacked, covered)
		payable.Stable = new(big.Int).Sub(due.Stable, held)
		payable.Unbacked = covered
		if payable.IsZero() {
			return PendingPayout{}, nil, fmt.Errorf("%w: pending stablecoin %s awaits treasury", ErrInsufficientReserves, held)
		}
	}

	remaining, payErr := e.pay(ctx, account, payable)
	drawn := new(big.Int)
	if payable.Stable.Sign() > 0 && remaining.Stable.Sign() == 0 {
		drawn.Set(covered)
	}
	remaining.Stable = new(big.Int).Add(remaining.Stable, held)
	remaining.Unbacked = new(big.Int).Sub(due.Unbacked, drawn)

	paid := PendingPayout{
		Stable:     new(big.Int).Sub(due.Stable, remaining.Stable),
		Dollar:     new(big.Int).Sub(due.Dollar, remaining.Dollar),
		Governance: new(big.Int).Sub(due.Governance, remaining.Governance),
		Reward:     new(big.Int).Sub(due.Reward, remaining.Reward),
		Unbacked:   drawn,
	}

	batch := NewBatch()
	if remaining.IsZero() {
		batch.DeletePending(account)
	} else {
		batch.PutPending(account, remaining)
	}
	if drawn.Sign() > 0 {
		cfg.draw(drawn)
		batch.PutConfig(cfg)
	}
	if err := e.state.Commit(context.WithoutCancel(ctx), batch); err != nil {
		e.logger.Errorw("Failed to update pending payout", "account", account.Hex(), "error", err)
		if payErr == nil {
			payErr = err
		}
	}
	if payErr != nil {
		return paid, nil, payErr
	}

	ev := e.newEvent(EventPendingSettled, account, fields{}.
		amount("stable", paid.Stable).
		amount("dollar", paid.Dollar).
		amount("governance", paid.Governance).
		amount("reward", paid.Reward).
		amount("unbacked", remaining.Unbacked))
	return paid, []Event{ev}, nil
}
