package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/repository"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/store"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/util"
	"go.uber.org/zap"
)

// Ledger is the engine surface the service drives.
type Ledger interface {
	Assets() ledger.Assets
	PositionInfo(ctx context.Context, account common.Address) (ledger.Position, error)
	Pending(ctx context.Context, account common.Address) (ledger.PendingPayout, error)
	Config(ctx context.Context) (ledger.VaultConfig, error)
	ProtocolTokens(ctx context.Context) ([]common.Address, error)
	SharePrice(ctx context.Context) (*big.Int, error)
	Quote(ctx context.Context, principal, dollarStake, governanceStake *big.Int) (ledger.Quote, error)

	Deposit(ctx context.Context, account common.Address, principal, dollarStake, governanceStake *big.Int) (ledger.Position, error)
	WithdrawAll(ctx context.Context, account common.Address) (ledger.Settlement, error)
	SettlePending(ctx context.Context, account common.Address) (ledger.PendingPayout, error)

	SetFeeRateCap(ctx context.Context, caller common.Address, bps uint64) error
	SetStakeCapForZeroFee(ctx context.Context, caller common.Address, amount *big.Int) error
	SetVaultAddress(ctx context.Context, caller, addr common.Address) error
	SetAdmin(ctx context.Context, caller, newAdmin common.Address) error
	RegisterProtocolToken(ctx context.Context, caller, token common.Address) error
	DeregisterProtocolToken(ctx context.Context, caller, token common.Address) error
	SweepDust(ctx context.Context, caller, to, token common.Address, amount *big.Int) error
}

// VaultOverview is the cached read model behind GET /v1/vault.
type VaultOverview struct {
	Config         ledger.VaultConfig `json:"config"`
	Assets         ledger.Assets      `json:"assets"`
	ProtocolTokens []common.Address   `json:"protocolTokens"`
	PricePerShare  *big.Int           `json:"pricePerShare"`
}

type Config struct {
	PositionTTL time.Duration
	VaultTTL    time.Duration
}

func DefaultConfig() Config {
	return Config{PositionTTL: 10 * time.Second, VaultTTL: 3 * time.Second}
}

// VaultService fronts the ledger with a read cache and deduplicates
// concurrent reads of the same key.
type VaultService struct {
	ledger  Ledger
	journal repository.Journal
	cache   *store.Cache
	logger  *zap.SugaredLogger
	config  Config

	positions util.Group[ledger.Position]
	pending   util.Group[ledger.PendingPayout]
	overview  util.Group[VaultOverview]
}

func NewVaultService(l Ledger, journal repository.Journal, cache *store.Cache, logger *zap.SugaredLogger, config Config) *VaultService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	defaults := DefaultConfig()
	if config.PositionTTL <= 0 {
		config.PositionTTL = defaults.PositionTTL
	}
	if config.VaultTTL <= 0 {
		config.VaultTTL = defaults.VaultTTL
	}
	return &VaultService{
		ledger:  l,
		journal: journal,
		cache:   cache,
		logger:  logger,
		config:  config,
	}
}

// cached reads key from the cache, falling back to load and refilling.
func cached[T any](ctx context.Context, s *VaultService, g *util.Group[T], key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	v, _, err := g.Do(ctx, key, func(ctx context.Context) (T, error) {
		var hit T
		if err := s.cache.Get(ctx, key, &hit); err == nil {
			return hit, nil
		} else if !errors.Is(err, store.ErrCacheMiss) {
			s.logger.Warnw("Cache read failed; loading from ledger", "key", key, "error", err)
		}

		fresh, err := load(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		if err := s.cache.Set(ctx, key, fresh, ttl); err != nil {
			s.logger.Warnw("Failed to cache value", "key", key, "error", err)
		}
		return fresh, nil
	})
	return v, err
}

func (s *VaultService) Position(ctx context.Context, account common.Address) (ledger.Position, error) {
	return cached(ctx, s, &s.positions, store.PositionKey(account), s.config.PositionTTL,
		func(ctx context.Context) (ledger.Position, error) {
			return s.ledger.PositionInfo(ctx, account)
		})
}

func (s *VaultService) Pending(ctx context.Context, account common.Address) (ledger.PendingPayout, error) {
	return cached(ctx, s, &s.pending, store.PendingKey(account), s.config.PositionTTL,
		func(ctx context.Context) (ledger.PendingPayout, error) {
			return s.ledger.Pending(ctx, account)
		})
}

func (s *VaultService) Overview(ctx context.Context) (VaultOverview, error) {
	return cached(ctx, s, &s.overview, store.KeyVault, s.config.VaultTTL, s.loadOverview)
}

func (s *VaultService) loadOverview(ctx context.Context) (VaultOverview, error) {
	cfg, err := s.ledger.Config(ctx)
	if err != nil {
		return VaultOverview{}, err
	}
	tokens, err := s.ledger.ProtocolTokens(ctx)
	if err != nil {
		return VaultOverview{}, err
	}
	price, err := s.ledger.SharePrice(ctx)
	if err != nil {
		return VaultOverview{}, fmt.Errorf("read share price: %w", err)
	}
	return VaultOverview{
		Config:         cfg,
		Assets:         s.ledger.Assets(),
		ProtocolTokens: tokens,
		PricePerShare:  price,
	}, nil
}

func (s *VaultService) Assets() ledger.Assets {
	return s.ledger.Assets()
}

func (s *VaultService) Quote(ctx context.Context, principal, dollarStake, governanceStake *big.Int) (ledger.Quote, error) {
	return s.ledger.Quote(ctx, principal, dollarStake, governanceStake)
}

func (s *VaultService) Deposit(ctx context.Context, account common.Address, principal, dollarStake, governanceStake *big.Int) (ledger.Position, error) {
	defer s.invalidateAccount(ctx, account)
	return s.ledger.Deposit(ctx, account, principal, dollarStake, governanceStake)
}

func (s *VaultService) WithdrawAll(ctx context.Context, account common.Address) (ledger.Settlement, error) {
	defer s.invalidateAccount(ctx, account)
	return s.ledger.WithdrawAll(ctx, account)
}

func (s *VaultService) SettlePending(ctx context.Context, account common.Address) (ledger.PendingPayout, error) {
	defer s.invalidateAccount(ctx, account)
	return s.ledger.SettlePending(ctx, account)
}

// AdminOp names one admin mutation for Admin.
type AdminOp func(ctx context.Context, l Ledger) error

// Admin runs op and drops the cached vault overview.
func (s *VaultService) Admin(ctx context.Context, op AdminOp) error {
	defer s.invalidate(ctx, store.KeyVault)
	return op(ctx, s.ledger)
}

func (s *VaultService) Events(ctx context.Context, account common.Address, limit int, cursor string) ([]ledger.Event, string, error) {
	return s.journal.EventsByAccount(ctx, account, limit, cursor)
}

func (s *VaultService) LatestSnapshot(ctx context.Context, account common.Address) (repository.PositionSnapshot, error) {
	return s.journal.LatestSnapshot(ctx, account)
}

func (s *VaultService) invalidateAccount(ctx context.Context, account common.Address) {
	s.invalidate(ctx, store.PositionKey(account), store.PendingKey(account), store.KeyVault)
}

func (s *VaultService) invalidate(ctx context.Context, keys ...string) {
	// The request may already be cancelled; the cache must still be cleared.
	if err := s.cache.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		s.logger.Warnw("Cache invalidation failed", "keys", strings.Join(keys, ","), "error", err)
	}
}
