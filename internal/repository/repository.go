package repository

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
)

var (
	ErrNoSnapshot    = errors.New("repository: no position snapshot")
	ErrInvalidCursor = errors.New("repository: invalid cursor")
)

// PositionStatus is the lifecycle stage recorded in a snapshot.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// PositionSnapshot records a position as of a ledger event.
type PositionSnapshot struct {
	EventID         string         `json:"eventId"`
	Account         common.Address `json:"account"`
	Status          PositionStatus `json:"status"`
	Principal       *big.Int       `json:"principal"`
	DollarStake     *big.Int       `json:"dollarStake"`
	GovernanceStake *big.Int       `json:"governanceStake"`
	FeeCharged      *big.Int       `json:"feeCharged"`
	RewardPayout    *big.Int       `json:"rewardPayout"`
	At              time.Time      `json:"at"`
}

// Journal is the append-only record of ledger events.
type Journal interface {
	StoreEvent(ctx context.Context, event ledger.Event) error
	StoreBatchEvents(ctx context.Context, events []ledger.Event) error
	// EventsByAccount pages newest first. cursor is opaque; an empty next
	// cursor means there are no older events.
	EventsByAccount(ctx context.Context, account common.Address, limit int, cursor string) ([]ledger.Event, string, error)
	StorePositionSnapshot(ctx context.Context, snap PositionSnapshot) error
	LatestSnapshot(ctx context.Context, account common.Address) (PositionSnapshot, error)
	Close()
}

// SnapshotFromEvent derives a position snapshot from Deposited and
// WithdrawnAll events.
func SnapshotFromEvent(ev ledger.Event) (PositionSnapshot, bool) {
	snap := PositionSnapshot{
		EventID:         ev.ID.String(),
		Account:         ev.Account,
		Principal:       ev.Amount("principal"),
		DollarStake:     ev.Amount("dollarStake"),
		GovernanceStake: ev.Amount("governanceStake"),
		FeeCharged:      ev.Amount("feeCharged"),
		RewardPayout:    ev.Amount("rewardPayout"),
		At:              ev.Timestamp,
	}
	switch ev.Type {
	case ledger.EventDeposited:
		snap.Status = StatusOpen
	case ledger.EventWithdrawnAll:
		snap.Status = StatusClosed
	default:
		return PositionSnapshot{}, false
	}
	return snap, true
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}
