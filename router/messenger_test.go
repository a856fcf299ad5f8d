package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func TestMessenger_Ask(t *testing.T) {
	r := New()
	r.Register("expert", func(msg *core.Message) (*core.Message, error) {
		q := msg.Payload["question"]
		return msg.Response(map[string]any{"answer": q.(string) + "!"}), nil
	})

	m := NewMessenger("novice", r)
	payload, ok := m.Ask(context.Background(), "expert", "is it safe", nil, time.Second)

	require.True(t, ok)
	assert.Equal(t, "is it safe!", payload["answer"])
}

func TestMessenger_AskUnknownReceiver(t *testing.T) {
	r := New()
	m := NewMessenger("novice", r)

	payload, ok := m.Ask(context.Background(), "nobody", "hello", nil, time.Second)

	assert.False(t, ok)
	assert.Nil(t, payload)
	assert.Len(t, r.DeadLetters(), 1)
}

func TestMessenger_Tell(t *testing.T) {
	r := New()

	var got *core.Message
	r.Register("listener", func(msg *core.Message) (*core.Message, error) {
		got = msg
		return nil, nil
	})

	m := NewMessenger("talker", r)
	m.Tell(context.Background(), "listener", "done", map[string]any{"items": 3})

	require.NotNil(t, got)
	assert.Equal(t, core.KindNotification, got.Kind)
	assert.False(t, got.RequiresAck)
	assert.Equal(t, "done", got.Payload["notification"])
	assert.Empty(t, r.PendingAcks())
}

func TestMessenger_Bid(t *testing.T) {
	r := New()
	r.Register("auctioneer", func(msg *core.Message) (*core.Message, error) {
		reply := msg.Response(nil)
		if msg.Payload["task"] == "easy" {
			reply.Kind = core.KindAccept
		} else {
			reply.Kind = core.KindReject
		}
		return reply, nil
	})

	m := NewMessenger("bidder", r)

	outcome, ok := m.Bid(context.Background(), "auctioneer", "easy", map[string]any{"price": 1}, time.Second)
	require.True(t, ok)
	assert.Equal(t, BidAccepted, outcome)

	outcome, ok = m.Bid(context.Background(), "auctioneer", "hard", nil, time.Second)
	require.True(t, ok)
	assert.Equal(t, BidRejected, outcome)

	_, ok = m.Bid(context.Background(), "nobody", "any", nil, time.Second)
	assert.False(t, ok)
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(WithWorkers(2))
	defer b.Close()

	var mu sync.Mutex
	seen := map[string]int{}
	record := func(name string) Subscriber {
		return func(msg *core.Message) {
			mu.Lock()
			seen[name]++
			mu.Unlock()
		}
	}
	b.Subscribe("updates", record("a"))
	b.Subscribe("updates", record("b"))
	b.Subscribe("other", record("c"))

	msg := core.NewMessage(core.KindNotification, "publisher", "*", nil)
	n := b.Publish("updates", msg)
	assert.Equal(t, 2, n)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["a"] == 1 && seen["b"] == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Zero(t, seen["c"], "other topics must not receive the message")
	mu.Unlock()
}

func TestBroadcaster_SubscriberPanicIsolated(t *testing.T) {
	b := NewBroadcaster(WithWorkers(1))
	defer b.Close()

	delivered := make(chan struct{})
	b.Subscribe("t", func(msg *core.Message) { panic("bad subscriber") })
	b.Subscribe("t", func(msg *core.Message) { close(delivered) })

	msg := core.NewMessage(core.KindNotification, "p", "*", nil)
	assert.Equal(t, 2, b.Publish("t", msg))

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber should still receive the message")
	}
}

func TestBroadcaster_SubscribersGetClones(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	done := make(chan struct{})
	b.Subscribe("t", func(msg *core.Message) {
		msg.Payload["k"] = "mutated"
		close(done)
	})

	msg := core.NewMessage(core.KindNotification, "p", "*", map[string]any{"k": "v"})
	b.Publish("t", msg)
	<-done

	assert.Equal(t, "v", msg.Payload["k"], "subscriber mutations must not leak to the publisher")
}
