package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv"
)

// State persists positions, pending payouts, the vault config and the
// protocol token set. Commit applies a Batch atomically.
type State interface {
	Position(ctx context.Context, account common.Address) (Position, error)
	OpenPositions(ctx context.Context) (int64, error)
	Pending(ctx context.Context, account common.Address) (PendingPayout, error)
	Config(ctx context.Context) (VaultConfig, bool, error)
	IsProtocolToken(ctx context.Context, token common.Address) (bool, error)
	ProtocolTokens(ctx context.Context) ([]common.Address, error)
	Commit(ctx context.Context, batch *Batch) error
}

type changeKind int

const (
	putPosition changeKind = iota
	deletePosition
	putPending
	deletePending
	putConfig
	addProtocolToken
	removeProtocolToken
)

type change struct {
	kind     changeKind
	account  common.Address
	position Position
	pending  PendingPayout
	config   VaultConfig
}

// Batch collects state changes for one atomic Commit.
type Batch struct {
	changes []change
}

func NewBatch() *Batch { return &Batch{} }

func (b *Batch) PutPosition(account common.Address, p Position) *Batch {
	b.changes = append(b.changes, change{kind: putPosition, account: account, position: p})
	return b
}

func (b *Batch) DeletePosition(account common.Address) *Batch {
	b.changes = append(b.changes, change{kind: deletePosition, account: account})
	return b
}

func (b *Batch) PutPending(account common.Address, p PendingPayout) *Batch {
	b.changes = append(b.changes, change{kind: putPending, account: account, pending: p})
	return b
}

func (b *Batch) DeletePending(account common.Address) *Batch {
	b.changes = append(b.changes, change{kind: deletePending, account: account})
	return b
}

func (b *Batch) PutConfig(c VaultConfig) *Batch {
	b.changes = append(b.changes, change{kind: putConfig, config: c})
	return b
}

func (b *Batch) AddProtocolToken(token common.Address) *Batch {
	b.changes = append(b.changes, change{kind: addProtocolToken, account: token})
	return b
}

func (b *Batch) RemoveProtocolToken(token common.Address) *Batch {
	b.changes = append(b.changes, change{kind: removeProtocolToken, account: token})
	return b
}

func (b *Batch) Len() int { return len(b.changes) }

const (
	positionsKey      = "yp:positions"
	pendingKey        = "yp:pending"
	configKey         = "yp:config"
	protocolTokensKey = "yp:protocol_tokens"
)

// KVState keeps ledger state in a kv.Store: positions and pending payouts as
// hashes keyed by lower-case account hex, the config as one JSON document
// and protocol tokens as a set.
type KVState struct {
	store kv.Store
}

func NewKVState(store kv.Store) *KVState {
	return &KVState{store: store}
}

func field(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func (s *KVState) Position(ctx context.Context, account common.Address) (Position, error) {
	var p Position
	raw, err := s.store.HGet(ctx, positionsKey, field(account))
	if errors.Is(err, kv.ErrNotFound) {
		return p.normalized(), nil
	}
	if err != nil {
		return p, fmt.Errorf("load position %s: %w", account.Hex(), err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode position %s: %w", account.Hex(), err)
	}
	return p.normalized(), nil
}

func (s *KVState) OpenPositions(ctx context.Context) (int64, error) {
	n, err := s.store.HLen(ctx, positionsKey)
	if err != nil {
		return 0, fmt.Errorf("count positions: %w", err)
	}
	return n, nil
}

func (s *KVState) Pending(ctx context.Context, account common.Address) (PendingPayout, error) {
	var p PendingPayout
	raw, err := s.store.HGet(ctx, pendingKey, field(account))
	if errors.Is(err, kv.ErrNotFound) {
		return p.normalized(), nil
	}
	if err != nil {
		return p, fmt.Errorf("load pending payout %s: %w", account.Hex(), err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode pending payout %s: %w", account.Hex(), err)
	}
	return p.normalized(), nil
}

func (s *KVState) Config(ctx context.Context) (VaultConfig, bool, error) {
	var c VaultConfig
	raw, err := s.store.Get(ctx, configKey)
	if errors.Is(err, kv.ErrNotFound) {
		return c.normalized(), false, nil
	}
	if err != nil {
		return c, false, fmt.Errorf("load vault config: %w", err)
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, false, fmt.Errorf("decode vault config: %w", err)
	}
	return c.normalized(), true, nil
}

func (s *KVState) IsProtocolToken(ctx context.Context, token common.Address) (bool, error) {
	ok, err := s.store.SIsMember(ctx, protocolTokensKey, []byte(field(token)))
	if err != nil {
		return false, fmt.Errorf("check protocol token %s: %w", token.Hex(), err)
	}
	return ok, nil
}

func (s *KVState) ProtocolTokens(ctx context.Context) ([]common.Address, error) {
	members, err := s.store.SMembers(ctx, protocolTokensKey)
	if err != nil {
		return nil, fmt.Errorf("list protocol tokens: %w", err)
	}
	tokens := make([]common.Address, 0, len(members))
	for _, m := range members {
		tokens = append(tokens, common.HexToAddress(string(m)))
	}
	return tokens, nil
}

func (s *KVState) Commit(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	ops := make([]kv.Op, 0, batch.Len())
	for _, c := range batch.changes {
		op, err := toOp(c)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}
	if err := s.store.Apply(ctx, ops...); err != nil {
		return fmt.Errorf("commit ledger batch: %w", err)
	}
	return nil
}

func toOp(c change) (kv.Op, error) {
	switch c.kind {
	case putPosition:
		raw, err := json.Marshal(c.position.normalized())
		if err != nil {
			return kv.Op{}, fmt.Errorf("encode position: %w", err)
		}
		return kv.HSetOp(positionsKey, field(c.account), raw), nil
	case deletePosition:
		return kv.HDelOp(positionsKey, field(c.account)), nil
	case putPending:
		raw, err := json.Marshal(c.pending.normalized())
		if err != nil {
			return kv.Op{}, fmt.Errorf("encode pending payout: %w", err)
		}
		return kv.HSetOp(pendingKey, field(c.account), raw), nil
	case deletePending:
		return kv.HDelOp(pendingKey, field(c.account)), nil
	case putConfig:
		raw, err := json.Marshal(c.config.normalized())
		if err != nil {
			return kv.Op{}, fmt.Errorf("encode vault config: %w", err)
		}
		return kv.SetOp(configKey, raw), nil
	case addProtocolToken:
		return kv.SAddOp(protocolTokensKey, []byte(field(c.account))), nil
	case removeProtocolToken:
		return kv.SRemOp(protocolTokensKey, []byte(field(c.account))), nil
	default:
		return kv.Op{}, fmt.Errorf("unknown ledger change %d", c.kind)
	}
}
