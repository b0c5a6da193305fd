package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/calc"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/onchain"
	"go.uber.org/zap"
)

var errNilCollaborator = errors.New("ledger: engine collaborator not configured")

// Params wires an Engine to its collaborators. Every token is bound to
// Self, the proxy account that escrows stakes and holds jar shares.
type Params struct {
	Self       common.Address
	Stable     onchain.Token
	Dollar     onchain.Token
	Governance onchain.Token
	Reward     onchain.RewardToken
	Chain      onchain.Chain
	State      State
	Sink       EventSink
	Logger     *zap.SugaredLogger
	Now        func() time.Time
}

// Engine is the yield proxy ledger. Every mutating call runs under one
// mutex, so each deposit, withdrawal and admin change is atomic with respect
// to the position map and the vault config.
type Engine struct {
	mu         sync.Mutex
	self       common.Address
	stable     onchain.Token
	dollar     onchain.Token
	governance onchain.Token
	reward     onchain.RewardToken
	chain      onchain.Chain
	state      State
	dust       *DustRegistry
	sink       EventSink
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewEngine(p Params) (*Engine, error) {
	if p.Stable == nil || p.Dollar == nil || p.Governance == nil || p.Reward == nil || p.Chain == nil || p.State == nil {
		return nil, errNilCollaborator
	}
	if p.Self == (common.Address{}) {
		return nil, fmt.Errorf("proxy account: %w", ErrZeroAddress)
	}
	e := &Engine{
		self:       p.Self,
		stable:     p.Stable,
		dollar:     p.Dollar,
		governance: p.Governance,
		reward:     p.Reward,
		chain:      p.Chain,
		state:      p.State,
		dust:       NewDustRegistry(p.State, p.Chain),
		sink:       p.Sink,
		logger:     p.Logger,
		now:        p.Now,
	}
	if e.sink == nil {
		e.sink = nopSink{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop().Sugar()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Init writes the genesis config and registers the ledger's own tokens as
// protocol tokens. It is a no-op when a config already exists.
func (e *Engine) Init(ctx context.Context, g Genesis) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok, err := e.state.Config(ctx); err != nil {
		return err
	} else if ok {
		return nil
	}

	if g.Admin == (common.Address{}) {
		return fmt.Errorf("genesis admin: %w", ErrZeroAddress)
	}
	if err := calc.ValidateBps(g.FeeRateCapBps, "fee rate cap"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeeRate, err)
	}
	stakeCap := g.StakeCapForZeroFee
	if stakeCap == nil {
		stakeCap = HardStakeCapForZeroFee
	}
	if err := checkStakeCap(stakeCap); err != nil {
		return err
	}
	if err := e.checkVault(ctx, g.VaultAddress); err != nil {
		return err
	}

	cfg := VaultConfig{
		FeeRateCapBps:      g.FeeRateCapBps,
		StakeCapForZeroFee: new(big.Int).Set(stakeCap),
		VaultAddress:       g.VaultAddress,
		Admin:              g.Admin,
	}.normalized()

	batch := NewBatch().PutConfig(cfg)
	for _, token := range []common.Address{e.stable.Address(), e.dollar.Address(), e.governance.Address(), e.reward.Address()} {
		batch.AddProtocolToken(token)
	}
	if err := e.state.Commit(ctx, batch); err != nil {
		return err
	}
	e.logger.Infow("Vault config initialized",
		"admin", g.Admin.Hex(),
		"vault", g.VaultAddress.Hex(),
		"feeRateCapBps", g.FeeRateCapBps,
		"stakeCapForZeroFee", stakeCap.String())
	return nil
}

// Assets returns the token addresses the ledger moves.
func (e *Engine) Assets() Assets {
	return Assets{
		Stable:         e.stable.Address(),
		StableDecimals: e.stable.Decimals(),
		Dollar:         e.dollar.Address(),
		Governance:     e.governance.Address(),
		Reward:         e.reward.Address(),
	}
}

// Self is the proxy account.
func (e *Engine) Self() common.Address { return e.self }

func (e *Engine) config(ctx context.Context) (VaultConfig, error) {
	cfg, ok, err := e.state.Config(ctx)
	if err != nil {
		return cfg, err
	}
	if !ok {
		return cfg, ErrNotInitialized
	}
	return cfg.normalized(), nil
}

// emit runs with e.mu held so sinks see events in commit order.
func (e *Engine) emit(ctx context.Context, events []Event) {
	emitAll(ctx, e.sink, events)
}

// PositionInfo returns the account's open position, all zero when none is open.
func (e *Engine) PositionInfo(ctx context.Context, account common.Address) (Position, error) {
	return e.state.Position(ctx, account)
}

// Pending returns amounts still owed to account from an incomplete withdrawal.
func (e *Engine) Pending(ctx context.Context, account common.Address) (PendingPayout, error) {
	return e.state.Pending(ctx, account)
}

func (e *Engine) Config(ctx context.Context) (VaultConfig, error) {
	return e.config(ctx)
}

func (e *Engine) ProtocolTokens(ctx context.Context) ([]common.Address, error) {
	return e.state.ProtocolTokens(ctx)
}

// SharePrice reads the configured jar's price per share.
func (e *Engine) SharePrice(ctx context.Context) (*big.Int, error) {
	cfg, err := e.config(ctx)
	if err != nil {
		return nil, err
	}
	jar, err := e.chain.Jar(cfg.VaultAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve vault: %w", err)
	}
	return jar.PricePerShare(ctx)
}

// Quote previews the fee and bonus a deposit would lock in. It moves nothing.
func (e *Engine) Quote(ctx context.Context, principal, dollarStake, governanceStake *big.Int) (Quote, error) {
	if err := checkAmounts(principal, dollarStake, governanceStake); err != nil {
		return Quote{}, err
	}
	cfg, err := e.config(ctx)
	if err != nil {
		return Quote{}, err
	}
	return e.quote(cfg, principal, dollarStake, governanceStake), nil
}

func (e *Engine) quote(cfg VaultConfig, principal, dollarStake, governanceStake *big.Int) Quote {
	feeRate := calc.FeeRateBps(governanceStake, cfg.FeeRateCapBps, cfg.StakeCapForZeroFee)
	fee := calc.Fee(principal, feeRate)
	principal18 := calc.To18(principal, e.stable.Decimals())
	return Quote{
		FeeRateBps:   feeRate,
		Fee:          fee,
		NetPrincipal: new(big.Int).Sub(principal, fee),
		BonusRateBps: calc.BonusRateBps(dollarStake, principal18),
	}
}

func checkAmounts(principal, dollarStake, governanceStake *big.Int) error {
	if principal == nil || principal.Sign() == 0 {
		return ErrZeroAmount
	}
	for _, a := range []*big.Int{principal, dollarStake, governanceStake} {
		if a != nil && a.Sign() < 0 {
			return ErrNegativeAmount
		}
	}
	return nil
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
