package store

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is one pubsub delivery.
type Message struct {
	Channel string
	Payload string
}

// Subscription is satisfied by both the Redis and in-memory pubsub.
type Subscription interface {
	Channel() <-chan *Message
	Close() error
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan *Message
	once sync.Once
}

func newRedisSubscription(ctx context.Context, ps *redis.PubSub) *redisSubscription {
	s := &redisSubscription{ps: ps, out: make(chan *Message, 100)}
	go func() {
		defer close(s.out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				s.Close()
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case s.out <- &Message{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					s.Close()
					return
				}
			}
		}
	}()
	return s
}

func (s *redisSubscription) Channel() <-chan *Message { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}

// memSubscription is the in-memory counterpart of a redis.PubSub.
type memSubscription struct {
	channels map[string]bool
	msgChan  chan *Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newMemSubscription(channels []string) *memSubscription {
	channelMap := make(map[string]bool)
	for _, ch := range channels {
		channelMap[ch] = true
	}

	return &memSubscription{
		channels: channelMap,
		msgChan:  make(chan *Message, 100),
		closeCh:  make(chan struct{}),
	}
}

func (m *memSubscription) Channel() <-chan *Message {
	return m.msgChan
}

func (m *memSubscription) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.closeCh)
		close(m.msgChan)
	}
	return nil
}

// send drops the message when the subscriber's buffer is full.
func (m *memSubscription) send(msg *Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed || !m.channels[msg.Channel] {
		return
	}

	select {
	case m.msgChan <- msg:
	default:
	}
}

// PubSubHub fans in-memory publishes out to subscribers.
type PubSubHub struct {
	subscribers map[string][]*memSubscription
	mu          sync.RWMutex
}

func NewPubSubHub() *PubSubHub {
	return &PubSubHub{
		subscribers: make(map[string][]*memSubscription),
	}
}

func (h *PubSubHub) Subscribe(ctx context.Context, channels ...string) Subscription {
	sub := newMemSubscription(channels)

	h.mu.Lock()
	for _, channel := range channels {
		h.subscribers[channel] = append(h.subscribers[channel], sub)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}
		h.remove(sub, channels)
	}()

	return sub
}

func (h *PubSubHub) remove(sub *memSubscription, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, channel := range channels {
		subscribers := h.subscribers[channel]
		for i, s := range subscribers {
			if s == sub {
				h.subscribers[channel] = append(subscribers[:i:i], subscribers[i+1:]...)
				break
			}
		}
		if len(h.subscribers[channel]) == 0 {
			delete(h.subscribers, channel)
		}
	}
}

func (h *PubSubHub) Publish(channel, payload string) {
	h.mu.RLock()
	subscribers := make([]*memSubscription, len(h.subscribers[channel]))
	copy(subscribers, h.subscribers[channel])
	h.mu.RUnlock()

	msg := &Message{Channel: channel, Payload: payload}
	for _, sub := range subscribers {
		sub.send(msg)
	}
}

// subscriberCount is used by tests.
func (h *PubSubHub) subscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[channel])
}
