package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/calc"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/metrics"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/onchain"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/store"
	"go.uber.org/zap"
)

const (
	KeyLatestPrice  = "yp:cache:vault:price"
	KeyPriceHistory = "yp:cache:vault:price:history"
)

// PriceSource reads the active vault's price per share (18 decimals).
type PriceSource interface {
	SharePrice(ctx context.Context) (*big.Int, error)
}

// Drifter raises the simulated vault price by bps. Dev only.
type Drifter interface {
	Drift(ctx context.Context, bps uint64) error
}

// Tick is one observation of the vault price.
type Tick struct {
	PricePerShare string `json:"pricePerShare"` // raw 18-decimal integer
	Price         string `json:"price"`
	TsMs          int64  `json:"tsMs"`
}

type SharePricePublisherConfig struct {
	Interval     time.Duration
	DriftBps     uint64
	TTL          time.Duration
	HistoryLimit int
}

func DefaultSharePricePublisherConfig() SharePricePublisherConfig {
	return SharePricePublisherConfig{
		Interval:     5 * time.Second,
		TTL:          time.Minute,
		HistoryLimit: 720, // one hour at the default interval
	}
}

// SharePricePublisher polls the vault price, caches it with a bounded
// history, and publishes each tick on store.ChannelVaultPPS.
type SharePricePublisher struct {
	source  PriceSource
	drifter Drifter
	cache   *store.Cache
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
	config  SharePricePublisherConfig
	now     func() time.Time

	mu   sync.Mutex
	last *big.Int
}

func NewSharePricePublisher(source PriceSource, drifter Drifter, cache *store.Cache, metrics *metrics.Metrics, logger *zap.SugaredLogger, config SharePricePublisherConfig) *SharePricePublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	defaults := DefaultSharePricePublisherConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaults.HistoryLimit
	}
	return &SharePricePublisher{
		source:  source,
		drifter: drifter,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

func (p *SharePricePublisher) Start(ctx context.Context) error {
	p.logger.Infow("Starting share price publisher",
		"interval", p.config.Interval,
		"driftBps", p.config.DriftBps,
	)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		if err := p.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warnw("Share price tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Infow("Share price publisher stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *SharePricePublisher) tick(ctx context.Context) error {
	if p.drifter != nil && p.config.DriftBps > 0 {
		if err := p.drifter.Drift(ctx, p.config.DriftBps); err != nil {
			p.logger.Warnw("Simulated drift failed", "error", err)
		}
	}

	price, err := p.source.SharePrice(ctx)
	if err != nil {
		return fmt.Errorf("read share price: %w", err)
	}

	human := calc.ToDecimal(price, calc.WadDecimals)
	tick := Tick{
		PricePerShare: price.String(),
		Price:         human.String(),
		TsMs:          p.now().UnixMilli(),
	}

	if p.metrics != nil {
		f, _ := human.Float64()
		p.metrics.RecordPricePerShare(f)
	}

	if err := p.cache.Set(ctx, KeyLatestPrice, tick, p.config.TTL); err != nil {
		p.logger.Warnw("Failed to cache share price", "error", err)
	}
	if err := p.addToHistory(ctx, tick); err != nil {
		p.logger.Warnw("Failed to add share price to history", "error", err)
	}

	p.mu.Lock()
	changed := p.last == nil || p.last.Cmp(price) != 0
	p.last = price
	p.mu.Unlock()

	if err := p.cache.Publish(ctx, store.ChannelVaultPPS, tick); err != nil {
		return fmt.Errorf("publish share price: %w", err)
	}
	if changed {
		p.logger.Debugw("Published share price", "price", tick.Price)
	}
	return nil
}

func (p *SharePricePublisher) addToHistory(ctx context.Context, tick Tick) error {
	var history []Tick
	err := p.cache.Get(ctx, KeyPriceHistory, &history)
	if err != nil && !errors.Is(err, store.ErrCacheMiss) {
		return fmt.Errorf("failed to get price history: %w", err)
	}

	history = append(history, tick)
	if len(history) > p.config.HistoryLimit {
		history = history[len(history)-p.config.HistoryLimit:]
	}

	// History outlives the latest-price TTL.
	if err := p.cache.Set(ctx, KeyPriceHistory, history, 0); err != nil {
		return fmt.Errorf("failed to save price history: %w", err)
	}
	return nil
}

// MemoryJarDrifter compounds the in-memory jar currently configured as the
// vault.
type MemoryJarDrifter struct {
	Chain *onchain.MemoryChain
	Vault func(ctx context.Context) (common.Address, error)
}

func (d MemoryJarDrifter) Drift(ctx context.Context, bps uint64) error {
	jar, err := d.jar(ctx)
	if err != nil {
		return err
	}
	next := new(big.Int).Mul(jar.Price(), new(big.Int).SetUint64(calc.BpsDenominator+bps))
	next.Quo(next, big.NewInt(calc.BpsDenominator))
	return jar.SetPricePerShare(next)
}

// SetPrice pins the simulated jar's price per share.
func (d MemoryJarDrifter) SetPrice(ctx context.Context, price *big.Int) error {
	jar, err := d.jar(ctx)
	if err != nil {
		return err
	}
	return jar.SetPricePerShare(price)
}

func (d MemoryJarDrifter) jar(ctx context.Context) (*onchain.MemoryJar, error) {
	addr, err := d.Vault(ctx)
	if err != nil {
		return nil, err
	}
	jar, ok := d.Chain.MemoryJar(addr)
	if !ok {
		return nil, fmt.Errorf("vault %s is not a simulated jar", addr.Hex())
	}
	return jar, nil
}
