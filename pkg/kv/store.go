package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or field is not found
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable is returned when the backend storage is unavailable
var ErrBackendUnavailable = errors.New("backend unavailable")

// OpKind identifies a write inside an atomic batch.
type OpKind int

const (
	OpSet OpKind = iota
	OpDel
	OpHSet
	OpHDel
	OpSAdd
	OpSRem
)

// Op is a single write applied by Store.Apply. Field is used by hash ops,
// Value by set/hash writes and as the member for set ops.
type Op struct {
	Kind  OpKind
	Key   string
	Field string
	Value []byte
}

// Store defines the interface for a Redis-like key-value store
type Store interface {
	// String operations
	Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)

	// Key operations
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Hash operations
	HSet(ctx context.Context, key string, field string, value []byte) error
	HGet(ctx context.Context, key string, field string) ([]byte, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HLen(ctx context.Context, key string) (int64, error)

	// Set operations
	SAdd(ctx context.Context, key string, members ...[]byte) (int64, error)
	SRem(ctx context.Context, key string, members ...[]byte) (int64, error)
	SMembers(ctx context.Context, key string) ([][]byte, error)
	SIsMember(ctx context.Context, key string, member []byte) (bool, error)

	// Apply runs every op or none of them.
	Apply(ctx context.Context, ops ...Op) error

	// Health check
	Ping(ctx context.Context) error

	// Cleanup
	Close() error
}

// SetOp, DelOp, HSetOp, HDelOp, SAddOp and SRemOp build batch entries.
func SetOp(key string, value []byte) Op { return Op{Kind: OpSet, Key: key, Value: value} }

func DelOp(key string) Op { return Op{Kind: OpDel, Key: key} }

func HSetOp(key, field string, value []byte) Op {
	return Op{Kind: OpHSet, Key: key, Field: field, Value: value}
}

func HDelOp(key, field string) Op { return Op{Kind: OpHDel, Key: key, Field: field} }

func SAddOp(key string, member []byte) Op { return Op{Kind: OpSAdd, Key: key, Value: member} }

func SRemOp(key string, member []byte) Op { return Op{Kind: OpSRem, Key: key, Value: member} }
