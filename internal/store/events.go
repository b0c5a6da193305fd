package store

import (
	"context"

	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
	"go.uber.org/zap"
)

// EventPublisher is a ledger.EventSink that publishes each event on its
// EventChannel.
type EventPublisher struct {
	cache  *Cache
	logger *zap.SugaredLogger
}

func NewEventPublisher(cache *Cache, logger *zap.SugaredLogger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventPublisher{cache: cache, logger: logger}
}

func (p *EventPublisher) Emit(ctx context.Context, ev ledger.Event) {
	if err := p.cache.Publish(ctx, EventChannel(string(ev.Type)), ev); err != nil {
		p.logger.Warnw("Failed to publish ledger event", "type", ev.Type, "id", ev.ID, "error", err)
	}
}

// LedgerEventChannels lists the channel of every ledger event type.
func LedgerEventChannels() []string {
	out := make([]string, 0, len(ledger.EventTypes))
	for _, t := range ledger.EventTypes {
		out = append(out, EventChannel(string(t)))
	}
	return out
}
