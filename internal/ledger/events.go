package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type EventType string

const (
	EventDeposited                 EventType = "Deposited"
	EventWithdrawnAll              EventType = "WithdrawnAll"
	EventSettlementDeferred        EventType = "SettlementDeferred"
	EventPendingSettled            EventType = "PendingSettled"
	EventDustSwept                 EventType = "DustSwept"
	EventProtocolTokenRegistered   EventType = "ProtocolTokenRegistered"
	EventProtocolTokenDeregistered EventType = "ProtocolTokenDeregistered"
	EventFeeRateCapUpdated         EventType = "FeeRateCapUpdated"
	EventStakeCapUpdated           EventType = "StakeCapUpdated"
	EventVaultUpdated              EventType = "VaultUpdated"
	EventAdminUpdated              EventType = "AdminUpdated"
)

// EventTypes lists every type the engine emits.
var EventTypes = []EventType{
	EventDeposited, EventWithdrawnAll, EventSettlementDeferred, EventPendingSettled,
	EventDustSwept, EventProtocolTokenRegistered, EventProtocolTokenDeregistered,
	EventFeeRateCapUpdated, EventStakeCapUpdated, EventVaultUpdated, EventAdminUpdated,
}

// Event is emitted after a ledger operation commits. Amounts in Fields are
// base-10 raw integers, addresses are checksummed hex.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Type      EventType         `json:"type"`
	Account   common.Address    `json:"account"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields"`
}

// Amount parses a numeric field, returning zero when absent.
func (e Event) Amount(field string) *big.Int {
	v, ok := new(big.Int).SetString(e.Fields[field], 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// EventSink receives committed ledger events in commit order. The engine
// calls sinks while holding its lock, so a sink must not call back into the
// engine and should not block for long.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// BatchSink is implemented by sinks that take all events of one commit at
// once.
type BatchSink interface {
	EmitBatch(ctx context.Context, events []Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// MultiSink fans events out to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// EmitBatch hands events to each sink as a batch when it accepts one.
func (m MultiSink) EmitBatch(ctx context.Context, events []Event) {
	for _, s := range m {
		if s != nil {
			emitAll(ctx, s, events)
		}
	}
}

func emitAll(ctx context.Context, s EventSink, events []Event) {
	if len(events) == 0 {
		return
	}
	if b, ok := s.(BatchSink); ok {
		b.EmitBatch(ctx, events)
		return
	}
	for _, ev := range events {
		s.Emit(ctx, ev)
	}
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}

type fields map[string]string

func (f fields) amount(key string, v *big.Int) fields {
	if v == nil {
		v = new(big.Int)
	}
	f[key] = v.String()
	return f
}

func (f fields) address(key string, a common.Address) fields {
	f[key] = a.Hex()
	return f
}

func (e *Engine) newEvent(typ EventType, account common.Address, f fields) Event {
	return Event{
		ID:        uuid.New(),
		Type:      typ,
		Account:   account,
		Timestamp: e.now().UTC(),
		Fields:    f,
	}
}
