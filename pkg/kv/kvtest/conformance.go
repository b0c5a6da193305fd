// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	groups := []struct {
		name  string
		tests []namedTest
	}{
		{"StringOperations", []namedTest{
			{"SetGet", testSetGet},
			{"GetNonExistent", testGetNonExistent},
			{"Overwrite", testOverwrite},
		}},
		{"KeyOperations", []namedTest{
			{"Del", testDel},
			{"Exists", testExists},
		}},
		{"TTLOperations", []namedTest{
			{"SetWithTTL", testSetWithTTL},
		}},
		{"HashOperations", []namedTest{
			{"HSetGet", testHSetGet},
			{"HGetAll", testHGetAll},
			{"HDel", testHDel},
			{"HLen", testHLen},
		}},
		{"SetOperations", []namedTest{
			{"SAddMembers", testSAddMembers},
			{"SRem", testSRem},
			{"SIsMember", testSIsMember},
		}},
		{"Apply", []namedTest{
			{"MixedBatch", testApplyMixedBatch},
			{"EmptyBatch", testApplyEmptyBatch},
		}},
		{"HealthCheck", []namedTest{
			{"Ping", testPing},
		}},
	}

	for _, g := range groups {
		t.Run(g.name, func(t *testing.T) {
			for _, tt := range g.tests {
				t.Run(tt.name, func(t *testing.T) {
					store := factory(t)
					defer store.Close()
					tt.test(t, store)
				})
			}
		})
	}
}

type namedTest struct {
	name string
	test func(t *testing.T, store kv.Store)
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:string"
	value := []byte("hello world")

	if err := store.Set(ctx, key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !reflect.DeepEqual(result, value) {
		t.Fatalf("Expected %v, got %v", value, result)
	}
}

func testGetNonExistent(t *testing.T, store kv.Store) {
	_, err := store.Get(context.Background(), "test:nonexistent")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func testOverwrite(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:overwrite"

	if err := store.Set(ctx, key, []byte("one")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, key, []byte("two")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(result) != "two" {
		t.Fatalf("Expected %q, got %q", "two", result)
	}
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()

	if err := store.Set(ctx, "test:del1", []byte("a")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.HSet(ctx, "test:del2", "f", []byte("b")); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}

	deleted, err := store.Del(ctx, "test:del1", "test:del2", "test:missing")
	if err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("Expected 2 deleted keys, got %d", deleted)
	}
	if _, err := store.Get(ctx, "test:del1"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after Del, got %v", err)
	}
}

func testExists(t *testing.T, store kv.Store) {
	ctx := context.Background()

	if err := store.Set(ctx, "test:exists", []byte("a")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := store.SAdd(ctx, "test:exists:set", []byte("m")); err != nil {
		t.Fatalf("SAdd failed: %v", err)
	}

	count, err := store.Exists(ctx, "test:exists", "test:exists:set", "test:missing")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected 2 existing keys, got %d", count)
	}
}

func testSetWithTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:ttl"

	if err := store.Set(ctx, key, []byte("short"), 1*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("Expected key before expiry: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)

	if _, err := store.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after expiry, got %v", err)
	}
}

func testHSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hash"

	if err := store.HSet(ctx, key, "field1", []byte("value1")); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}

	result, err := store.HGet(ctx, key, "field1")
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}
	if string(result) != "value1" {
		t.Fatalf("Expected value1, got %q", result)
	}

	if _, err := store.HGet(ctx, key, "missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing field, got %v", err)
	}
	if _, err := store.HGet(ctx, "test:hash:missing", "field1"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing key, got %v", err)
	}
}

func testHGetAll(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hgetall"

	empty, err := store.HGetAll(ctx, key)
	if err != nil {
		t.Fatalf("HGetAll on missing key failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("Expected empty map, got %v", empty)
	}

	for field, value := range map[string]string{"a": "1", "b": "2"} {
		if err := store.HSet(ctx, key, field, []byte(value)); err != nil {
			t.Fatalf("HSet failed: %v", err)
		}
	}

	all, err := store.HGetAll(ctx, key)
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if len(all) != 2 || string(all["a"]) != "1" || string(all["b"]) != "2" {
		t.Fatalf("Unexpected HGetAll result: %v", all)
	}
}

func testHDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hdel"

	if err := store.HSet(ctx, key, "a", []byte("1")); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}
	deleted, err := store.HDel(ctx, key, "a", "missing")
	if err != nil {
		t.Fatalf("HDel failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Expected 1 deleted field, got %d", deleted)
	}
	if count, _ := store.Exists(ctx, key); count != 0 {
		t.Fatalf("Expected empty hash to be removed, Exists=%d", count)
	}
}

func testHLen(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hlen"

	n, err := store.HLen(ctx, key)
	if err != nil {
		t.Fatalf("HLen failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("Expected 0 for missing hash, got %d", n)
	}

	_ = store.HSet(ctx, key, "a", []byte("1"))
	_ = store.HSet(ctx, key, "b", []byte("2"))
	_ = store.HSet(ctx, key, "a", []byte("3"))

	n, err = store.HLen(ctx, key)
	if err != nil {
		t.Fatalf("HLen failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 fields, got %d", n)
	}
}

func testSAddMembers(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:set"

	added, err := store.SAdd(ctx, key, []byte("b"), []byte("a"), []byte("b"))
	if err != nil {
		t.Fatalf("SAdd failed: %v", err)
	}
	if added != 2 {
		t.Fatalf("Expected 2 added members, got %d", added)
	}

	members, err := store.SMembers(ctx, key)
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(members) != 2 || string(members[0]) != "a" || string(members[1]) != "b" {
		t.Fatalf("Expected sorted members [a b], got %q", members)
	}
}

func testSRem(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:srem"

	if _, err := store.SAdd(ctx, key, []byte("a"), []byte("b")); err != nil {
		t.Fatalf("SAdd failed: %v", err)
	}
	removed, err := store.SRem(ctx, key, []byte("a"), []byte("missing"))
	if err != nil {
		t.Fatalf("SRem failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Expected 1 removed member, got %d", removed)
	}
}

func testSIsMember(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:sismember"

	if _, err := store.SAdd(ctx, key, []byte("a")); err != nil {
		t.Fatalf("SAdd failed: %v", err)
	}
	ok, err := store.SIsMember(ctx, key, []byte("a"))
	if err != nil || !ok {
		t.Fatalf("Expected a to be a member: ok=%v err=%v", ok, err)
	}
	ok, err = store.SIsMember(ctx, key, []byte("z"))
	if err != nil || ok {
		t.Fatalf("Expected z not to be a member: ok=%v err=%v", ok, err)
	}
}

func testApplyMixedBatch(t *testing.T, store kv.Store) {
	ctx := context.Background()

	if err := store.HSet(ctx, "test:apply:hash", "gone", []byte("x")); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}
	if err := store.Set(ctx, "test:apply:old", []byte("x")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	err := store.Apply(ctx,
		kv.SetOp("test:apply:str", []byte("v")),
		kv.DelOp("test:apply:old"),
		kv.HSetOp("test:apply:hash", "kept", []byte("y")),
		kv.HDelOp("test:apply:hash", "gone"),
		kv.SAddOp("test:apply:set", []byte("m1")),
		kv.SAddOp("test:apply:set", []byte("m2")),
		kv.SRemOp("test:apply:set", []byte("m1")),
	)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if v, err := store.Get(ctx, "test:apply:str"); err != nil || string(v) != "v" {
		t.Fatalf("Expected str=v, got %q err=%v", v, err)
	}
	if _, err := store.Get(ctx, "test:apply:old"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected old key deleted, got %v", err)
	}
	all, err := store.HGetAll(ctx, "test:apply:hash")
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if len(all) != 1 || string(all["kept"]) != "y" {
		t.Fatalf("Unexpected hash after Apply: %v", all)
	}
	members, err := store.SMembers(ctx, "test:apply:set")
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(members) != 1 || string(members[0]) != "m2" {
		t.Fatalf("Unexpected set after Apply: %q", members)
	}
}

func testApplyEmptyBatch(t *testing.T, store kv.Store) {
	if err := store.Apply(context.Background()); err != nil {
		t.Fatalf("empty Apply failed: %v", err)
	}
}

func testPing(t *testing.T, store kv.Store) {
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
