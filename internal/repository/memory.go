package repository

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
)

// MemoryJournal keeps the journal in process. Used for dev runs and tests.
type MemoryJournal struct {
	mu        sync.RWMutex
	events    []ledger.Event
	seen      map[string]struct{}
	snapshots map[common.Address][]PositionSnapshot
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		seen:      make(map[string]struct{}),
		snapshots: make(map[common.Address][]PositionSnapshot),
	}
}

func (j *MemoryJournal) StoreEvent(ctx context.Context, ev ledger.Event) error {
	return j.StoreBatchEvents(ctx, []ledger.Event{ev})
}

// StoreBatchEvents ignores events whose ID is already stored.
func (j *MemoryJournal) StoreBatchEvents(_ context.Context, events []ledger.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, ev := range events {
		id := ev.ID.String()
		if _, dup := j.seen[id]; dup {
			continue
		}
		j.seen[id] = struct{}{}

		fields := make(map[string]string, len(ev.Fields))
		for k, v := range ev.Fields {
			fields[k] = v
		}
		ev.Fields = fields
		j.events = append(j.events, ev)
	}
	return nil
}

// EventsByAccount uses the 1-based insertion index as the cursor.
func (j *MemoryJournal) EventsByAccount(_ context.Context, account common.Address, limit int, cursor string) ([]ledger.Event, string, error) {
	limit = pageSize(limit)

	j.mu.RLock()
	defer j.mu.RUnlock()

	start := len(j.events)
	if cursor != "" {
		v, err := strconv.Atoi(cursor)
		if err != nil || v <= 0 {
			return nil, "", fmt.Errorf("memory journal: %w %q", ErrInvalidCursor, cursor)
		}
		start = min(v-1, len(j.events))
	}

	var out []ledger.Event
	for i := start - 1; i >= 0; i-- {
		if j.events[i].Account != account {
			continue
		}
		if len(out) == limit {
			return out, strconv.Itoa(i + 2), nil
		}
		out = append(out, j.events[i])
	}
	return out, "", nil
}

func (j *MemoryJournal) StorePositionSnapshot(_ context.Context, snap PositionSnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snapshots[snap.Account] = append(j.snapshots[snap.Account], snap)
	return nil
}

func (j *MemoryJournal) LatestSnapshot(_ context.Context, account common.Address) (PositionSnapshot, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snaps := j.snapshots[account]
	if len(snaps) == 0 {
		return PositionSnapshot{}, ErrNoSnapshot
	}
	return snaps[len(snaps)-1], nil
}

func (j *MemoryJournal) Close() {}
