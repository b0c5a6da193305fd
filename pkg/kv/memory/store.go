package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv"
)

// Store is an in-memory implementation of the kv.Store interface
type Store struct {
	mu          sync.RWMutex
	strings     map[string][]byte
	hashes      map[string]map[string][]byte
	sets        map[string]map[string]struct{}
	expirations map[string]time.Time

	janitorInterval time.Duration
	janitorStop     chan struct{}
	janitorDone     chan struct{}
	closeOnce       sync.Once
}

// New creates a new in-memory store with optional janitor for TTL cleanup
func New(janitorInterval time.Duration) *Store {
	s := &Store{
		strings:         make(map[string][]byte),
		hashes:          make(map[string]map[string][]byte),
		sets:            make(map[string]map[string]struct{}),
		expirations:     make(map[string]time.Time),
		janitorInterval: janitorInterval,
		janitorStop:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}

	if janitorInterval > 0 {
		go s.janitor()
	} else {
		close(s.janitorDone)
	}

	return s
}

// janitor runs background expiration cleanup
func (s *Store) janitor() {
	defer close(s.janitorDone)
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, expiry := range s.expirations {
		if now.After(expiry) {
			s.deleteKeyUnsafe(key)
		}
	}
}

// expireUnsafe drops key if its TTL has passed (must hold write lock)
func (s *Store) expireUnsafe(key string) {
	if expiry, exists := s.expirations[key]; exists && time.Now().After(expiry) {
		s.deleteKeyUnsafe(key)
	}
}

// liveUnsafe reports whether key has not expired (must hold read lock)
func (s *Store) liveUnsafe(key string) bool {
	if expiry, exists := s.expirations[key]; exists {
		return !time.Now().After(expiry)
	}
	return true
}

func (s *Store) deleteKeyUnsafe(key string) {
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.sets, key)
	delete(s.expirations, key)
}

func (s *Store) existsUnsafe(key string) bool {
	if !s.liveUnsafe(key) {
		return false
	}
	if _, ok := s.strings[key]; ok {
		return true
	}
	if _, ok := s.hashes[key]; ok {
		return true
	}
	_, ok := s.sets[key]
	return ok
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setUnsafe(key, value)
	if len(ttl) > 0 && ttl[0] > 0 {
		s.expirations[key] = time.Now().Add(ttl[0])
	}
	return nil
}

func (s *Store) setUnsafe(key string, value []byte) {
	s.deleteKeyUnsafe(key)
	s.strings[key] = clone(value)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.liveUnsafe(key) {
		return nil, kv.ErrNotFound
	}
	value, exists := s.strings[key]
	if !exists {
		return nil, kv.ErrNotFound
	}
	return clone(value), nil
}

// Key operations

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if s.existsUnsafe(key) {
			deleted++
		}
		s.deleteKeyUnsafe(key)
	}
	return deleted, nil
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int64
	for _, key := range keys {
		if s.existsUnsafe(key) {
			exists++
		}
	}
	return exists, nil
}

// Hash operations

func (s *Store) HSet(ctx context.Context, key string, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hsetUnsafe(key, field, value)
	return nil
}

func (s *Store) hsetUnsafe(key, field string, value []byte) {
	s.expireUnsafe(key)
	if s.hashes[key] == nil {
		s.deleteKeyUnsafe(key)
		s.hashes[key] = make(map[string][]byte)
	}
	s.hashes[key][field] = clone(value)
}

func (s *Store) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.liveUnsafe(key) {
		return nil, kv.ErrNotFound
	}
	value, ok := s.hashes[key][field]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return clone(value), nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hdelUnsafe(key, fields...), nil
}

func (s *Store) hdelUnsafe(key string, fields ...string) int64 {
	s.expireUnsafe(key)
	hash, exists := s.hashes[key]
	if !exists {
		return 0
	}
	var deleted int64
	for _, field := range fields {
		if _, ok := hash[field]; ok {
			delete(hash, field)
			deleted++
		}
	}
	if len(hash) == 0 {
		delete(s.hashes, key)
	}
	return deleted
}

// HGetAll returns an empty map for a missing key, matching Redis.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]byte)
	if !s.liveUnsafe(key) {
		return result, nil
	}
	for field, value := range s.hashes[key] {
		result[field] = clone(value)
	}
	return result, nil
}

func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.liveUnsafe(key) {
		return 0, nil
	}
	return int64(len(s.hashes[key])), nil
}

// Set operations

func (s *Store) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saddUnsafe(key, members...), nil
}

func (s *Store) saddUnsafe(key string, members ...[]byte) int64 {
	s.expireUnsafe(key)
	if s.sets[key] == nil {
		s.deleteKeyUnsafe(key)
		s.sets[key] = make(map[string]struct{})
	}
	var added int64
	for _, member := range members {
		m := string(member)
		if _, exists := s.sets[key][m]; !exists {
			s.sets[key][m] = struct{}{}
			added++
		}
	}
	return added
}

func (s *Store) SRem(ctx context.Context, key string, members ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sremUnsafe(key, members...), nil
}

func (s *Store) sremUnsafe(key string, members ...[]byte) int64 {
	s.expireUnsafe(key)
	set, exists := s.sets[key]
	if !exists {
		return 0
	}
	var removed int64
	for _, member := range members {
		m := string(member)
		if _, ok := set[m]; ok {
			delete(set, m)
			removed++
		}
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return removed
}

// SMembers returns members in lexical order so callers see a stable listing.
func (s *Store) SMembers(ctx context.Context, key string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.liveUnsafe(key) {
		return [][]byte{}, nil
	}
	names := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		names = append(names, m)
	}
	sort.Strings(names)
	members := make([][]byte, len(names))
	for i, m := range names {
		members[i] = []byte(m)
	}
	return members, nil
}

func (s *Store) SIsMember(ctx context.Context, key string, member []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.liveUnsafe(key) {
		return false, nil
	}
	_, ok := s.sets[key][string(member)]
	return ok, nil
}

// Apply validates the whole batch before touching state, then applies it
// under a single write lock.
func (s *Store) Apply(ctx context.Context, ops ...kv.Op) error {
	for i, op := range ops {
		switch op.Kind {
		case kv.OpSet, kv.OpDel, kv.OpHSet, kv.OpHDel, kv.OpSAdd, kv.OpSRem:
		default:
			return fmt.Errorf("apply: op %d has unknown kind %d", i, op.Kind)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		switch op.Kind {
		case kv.OpSet:
			s.setUnsafe(op.Key, op.Value)
		case kv.OpDel:
			s.deleteKeyUnsafe(op.Key)
		case kv.OpHSet:
			s.hsetUnsafe(op.Key, op.Field, op.Value)
		case kv.OpHDel:
			s.hdelUnsafe(op.Key, op.Field)
		case kv.OpSAdd:
			s.saddUnsafe(op.Key, op.Value)
		case kv.OpSRem:
			s.sremUnsafe(op.Key, op.Value)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.janitorStop)
		<-s.janitorDone
	})
	return nil
}
