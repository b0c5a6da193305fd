package service

import (
	"context"

	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/repository"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/store"
	"go.uber.org/zap"
)

// JournalSink appends every event to the journal and snapshots the position
// on deposits and withdrawals.
type JournalSink struct {
	journal repository.Journal
	logger  *zap.SugaredLogger
}

func NewJournalSink(journal repository.Journal, logger *zap.SugaredLogger) *JournalSink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &JournalSink{journal: journal, logger: logger}
}

func (s *JournalSink) Emit(ctx context.Context, ev ledger.Event) {
	ctx = context.WithoutCancel(ctx)
	if err := s.journal.StoreEvent(ctx, ev); err != nil {
		s.logger.Errorw("Failed to journal ledger event", "type", ev.Type, "id", ev.ID, "error", err)
		return
	}
	s.snapshot(ctx, ev)
}

// EmitBatch journals the events of one commit in a single write.
func (s *JournalSink) EmitBatch(ctx context.Context, events []ledger.Event) {
	ctx = context.WithoutCancel(ctx)
	if err := s.journal.StoreBatchEvents(ctx, events); err != nil {
		s.logger.Errorw("Failed to journal ledger events", "count", len(events), "first", events[0].Type, "error", err)
		return
	}
	for _, ev := range events {
		s.snapshot(ctx, ev)
	}
}

func (s *JournalSink) snapshot(ctx context.Context, ev ledger.Event) {
	if snap, ok := repository.SnapshotFromEvent(ev); ok {
		if err := s.journal.StorePositionSnapshot(ctx, snap); err != nil {
			s.logger.Errorw("Failed to store position snapshot", "account", ev.Account.Hex(), "error", err)
		}
	}
}

// CacheInvalidator drops cached reads an event has made stale.
type CacheInvalidator struct {
	cache  *store.Cache
	logger *zap.SugaredLogger
}

func NewCacheInvalidator(cache *store.Cache, logger *zap.SugaredLogger) *CacheInvalidator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CacheInvalidator{cache: cache, logger: logger}
}

func (c *CacheInvalidator) Emit(ctx context.Context, ev ledger.Event) {
	keys := []string{store.KeyVault}
	switch ev.Type {
	case ledger.EventDeposited, ledger.EventWithdrawnAll, ledger.EventSettlementDeferred, ledger.EventPendingSettled:
		keys = append(keys, store.PositionKey(ev.Account), store.PendingKey(ev.Account))
	}
	if err := c.cache.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		c.logger.Warnw("Cache invalidation failed", "type", ev.Type, "error", err)
	}
}
