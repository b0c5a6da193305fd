package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := NewCache(os.Getenv("YP_TEST_REDIS_URL"), zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func receive(t *testing.T, sub Subscription) *Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Channel():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pubsub message")
		return nil
	}
}

func TestCache_SetGetDelete(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	key := PositionKey(common.HexToAddress("0xA11CE"))

	var out map[string]string
	assert.ErrorIs(t, cache.Get(ctx, key, &out), ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, key, map[string]string{"principal": "1000"}, time.Minute))
	require.NoError(t, cache.Get(ctx, key, &out))
	assert.Equal(t, "1000", out["principal"])

	ok, err := cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, cache.Delete(ctx, key))
	assert.ErrorIs(t, cache.Get(ctx, key, &out), ErrCacheMiss)
	require.NoError(t, cache.Delete(ctx))
}

func TestCache_UnreachableRedisFallsBack(t *testing.T) {
	cache, err := NewCache("127.0.0.1:1", nil, nil)
	require.NoError(t, err)
	defer cache.Close()
	assert.True(t, cache.IsInMemoryMode())
	assert.NoError(t, cache.Ping(context.Background()))
}

func TestCache_PublishSubscribe(t *testing.T) {
	cache := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := cache.Subscribe(ctx, ChannelVaultPPS)
	defer sub.Close()
	if !cache.IsInMemoryMode() {
		time.Sleep(100 * time.Millisecond)
	}

	require.NoError(t, cache.Publish(ctx, ChannelVaultPPS, map[string]string{"pricePerShare": "1.1"}))

	msg := receive(t, sub)
	assert.Equal(t, ChannelVaultPPS, msg.Channel)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
	assert.Equal(t, "1.1", payload["pricePerShare"])
}

func TestEventPublisher(t *testing.T) {
	cache := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := cache.Subscribe(ctx, LedgerEventChannels()...)
	defer sub.Close()
	if !cache.IsInMemoryMode() {
		time.Sleep(100 * time.Millisecond)
	}

	ev := ledger.Event{
		ID:        uuid.New(),
		Type:      ledger.EventDeposited,
		Account:   common.HexToAddress("0xA11CE"),
		Timestamp: time.Now().UTC(),
		Fields:    map[string]string{"principal": "5"},
	}
	NewEventPublisher(cache, nil).Emit(ctx, ev)

	msg := receive(t, sub)
	assert.Equal(t, "yp:events:Deposited", msg.Channel)
	var got ledger.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "5", got.Fields["principal"])
}

func TestPubSubHub_CancelUnsubscribes(t *testing.T) {
	hub := NewPubSubHub()
	ctx, cancel := context.WithCancel(context.Background())

	sub := hub.Subscribe(ctx, "a", "b")
	assert.Equal(t, 1, hub.subscriberCount("a"))

	cancel()
	_, ok := <-sub.Channel()
	assert.False(t, ok)
	assert.Eventually(t, func() bool {
		return hub.subscriberCount("a") == 0 && hub.subscriberCount("b") == 0
	}, time.Second, 10*time.Millisecond)

	hub.Publish("a", "dropped")
}

func TestKeyLabel(t *testing.T) {
	assert.Equal(t, KeyPosition, keyLabel(PositionKey(common.HexToAddress("0x1"))))
	assert.Equal(t, KeyPending, keyLabel(PendingKey(common.HexToAddress("0x1"))))
	assert.Equal(t, KeyVault, keyLabel(KeyVault))
}
