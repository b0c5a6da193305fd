package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv"
)

// Store is a Redis-backed implementation of the kv.Store interface
type Store struct {
	client *redis.Client
}

var connectionErrors = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"timeout",
	"connection closed",
	"EOF",
}

// IsConnectionError checks if an error is a connection-related error
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED, syscall.ETIMEDOUT:
			return true
		}
	}

	msg := err.Error()
	for _, connErr := range connectionErrors {
		if strings.Contains(msg, connErr) {
			return true
		}
	}
	return false
}

// wrap maps redis.Nil to kv.ErrNotFound and connection failures to
// kv.ErrBackendUnavailable.
func wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return kv.ErrNotFound
	case IsConnectionError(err):
		return fmt.Errorf("%w: %v", kv.ErrBackendUnavailable, err)
	default:
		return err
	}
}

// New creates a new Redis-backed store. Both redis:// URLs and bare
// host:port addresses are accepted.
func New(redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		if strings.Contains(redisURL, "://") {
			return nil, err
		}
		opt, err = redis.ParseURL("redis://" + redisURL)
		if err != nil {
			return nil, err
		}
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, wrap(err)
	}

	return &Store{client: client}, nil
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	var expiration time.Duration
	if len(ttl) > 0 {
		expiration = ttl[0]
	}
	return wrap(s.client.Set(ctx, key, value, expiration).Err())
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, wrap(err)
	}
	return result, nil
}

// Key operations

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Del(ctx, keys...).Result()
	return n, wrap(err)
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Exists(ctx, keys...).Result()
	return n, wrap(err)
}

// Hash operations

func (s *Store) HSet(ctx context.Context, key string, field string, value []byte) error {
	return wrap(s.client.HSet(ctx, key, field, value).Err())
}

func (s *Store) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	result, err := s.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		return nil, wrap(err)
	}
	return result, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	n, err := s.client.HDel(ctx, key, fields...).Result()
	return n, wrap(err)
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrap(err)
	}
	out := make(map[string][]byte, len(result))
	for field, value := range result {
		out[field] = []byte(value)
	}
	return out, nil
}

func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.HLen(ctx, key).Result()
	return n, wrap(err)
}

// Set operations

func (s *Store) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	n, err := s.client.SAdd(ctx, key, toArgs(members)...).Result()
	return n, wrap(err)
}

func (s *Store) SRem(ctx context.Context, key string, members ...[]byte) (int64, error) {
	n, err := s.client.SRem(ctx, key, toArgs(members)...).Result()
	return n, wrap(err)
}

// SMembers sorts the reply to match the memory backend's stable ordering.
func (s *Store) SMembers(ctx context.Context, key string) ([][]byte, error) {
	result, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrap(err)
	}
	sort.Strings(result)
	members := make([][]byte, len(result))
	for i, m := range result {
		members[i] = []byte(m)
	}
	return members, nil
}

func (s *Store) SIsMember(ctx context.Context, key string, member []byte) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	return ok, wrap(err)
}

// Apply queues the batch inside MULTI/EXEC.
func (s *Store) Apply(ctx context.Context, ops ...kv.Op) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, op := range ops {
			switch op.Kind {
			case kv.OpSet:
				pipe.Set(ctx, op.Key, op.Value, 0)
			case kv.OpDel:
				pipe.Del(ctx, op.Key)
			case kv.OpHSet:
				pipe.HSet(ctx, op.Key, op.Field, op.Value)
			case kv.OpHDel:
				pipe.HDel(ctx, op.Key, op.Field)
			case kv.OpSAdd:
				pipe.SAdd(ctx, op.Key, op.Value)
			case kv.OpSRem:
				pipe.SRem(ctx, op.Key, op.Value)
			default:
				return fmt.Errorf("apply: op %d has unknown kind %d", i, op.Kind)
			}
		}
		return nil
	})
	return wrap(err)
}

func (s *Store) Ping(ctx context.Context) error {
	return wrap(s.client.Ping(ctx).Err())
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func toArgs(members [][]byte) []interface{} {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}
