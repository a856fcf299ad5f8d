package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// newFastRouter keeps retry timing in the millisecond range so timeout paths
// are cheap to exercise.
func newFastRouter(optFns ...func(o *Options)) *Router {
	base := []func(o *Options){
		WithMaxRetries(3),
		WithRetryDelay(time.Millisecond),
		WithAckTimeout(10 * time.Millisecond),
	}
	return New(append(base, optFns...)...)
}

func TestSend_NotificationDelivered(t *testing.T) {
	r := New()
	r.Register("worker", func(msg *core.Message) (*core.Message, error) {
		return nil, nil
	})

	msg := core.NewMessage(core.KindNotification, "boss", "worker", nil)
	msg.RequiresAck = false

	reply := r.Send(context.Background(), msg)

	assert.Nil(t, reply)
	assert.Equal(t, core.StatusDelivered, msg.Status)
	assert.Empty(t, r.PendingAcks())
	assert.Empty(t, r.DeadLetters())
}

func TestSend_NoHandlerDeadLetters(t *testing.T) {
	r := New()

	msg := core.NewMessage(core.KindRequest, "boss", "ghost", nil)
	reply := r.Send(context.Background(), msg)

	assert.Nil(t, reply)
	assert.Equal(t, core.StatusFailed, msg.Status)

	letters := r.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, ReasonNoHandler, letters[0].Reason)
	assert.Equal(t, msg.ID, letters[0].Message.ID)
}

func TestSend_StructuredDeliveryLog(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := logging.DefaultLoggerConfig()
	cfg.Output = buf
	cfg.AddSource = false

	r := New(WithLogger(logging.NewLogger(cfg)))
	r.Register("worker", func(msg *core.Message) (*core.Message, error) {
		return nil, nil
	})

	ok := core.NewMessage(core.KindNotification, "boss", "worker", nil)
	ok.RequiresAck = false
	r.Send(context.Background(), ok)
	r.Send(context.Background(), core.NewMessage(core.KindRequest, "boss", "ghost", nil))

	assert.True(t, strings.Contains(buf.String(), "Message delivered"))
	assert.True(t, strings.Contains(buf.String(), "Message delivery failed"))
	assert.True(t, strings.Contains(buf.String(), ReasonNoHandler))
}

func TestSend_AckTimeoutRetriesExhaust(t *testing.T) {
	r := newFastRouter()

	var invocations atomic.Int32
	r.Register("worker", func(msg *core.Message) (*core.Message, error) {
		invocations.Add(1)
		return nil, nil // never acknowledges
	})

	msg := core.NewMessage(core.KindRequest, "boss", "worker", nil)
	reply := r.Send(context.Background(), msg)

	assert.Nil(t, reply)
	assert.Equal(t, core.StatusFailed, msg.Status)
	assert.Equal(t, int32(4), invocations.Load(), "initial delivery plus max retries")
	assert.Equal(t, 3, msg.Retries)

	letters := r.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, ReasonAckTimeout, letters[0].Reason)
	assert.Equal(t, 3, letters[0].Retries)
	assert.Empty(t, r.PendingAcks())
}

func TestSend_AcknowledgedFromHandler(t *testing.T) {
	r := newFastRouter()
	r.Register("worker", func(msg *core.Message) (*core.Message, error) {
		r.Acknowledge(msg.ID)
		return msg.Response(map[string]any{"ok": true}), nil
	})

	msg := core.NewMessage(core.KindRequest, "boss", "worker", nil)
	reply := r.Send(context.Background(), msg)

	require.NotNil(t, reply)
	assert.Equal(t, core.KindResponse, reply.Kind)
	assert.Equal(t, core.StatusAcknowledged, msg.Status)
	assert.Empty(t, r.DeadLetters())
}

func TestSend_AcknowledgedAfterRetry(t *testing.T) {
	r := newFastRouter()

	var invocations atomic.Int32
	r.Register("worker", func(msg *core.Message) (*core.Message, error) {
		if invocations.Add(1) == 2 {
			r.Acknowledge(msg.ID)
		}
		return nil, nil
	})

	msg := core.NewMessage(core.KindRequest, "boss", "worker", nil)
	r.Send(context.Background(), msg)

	assert.Equal(t, core.StatusAcknowledged, msg.Status)
	assert.Equal(t, 1, msg.Retries)
	assert.Empty(t, r.DeadLetters())
}

func TestSend_HandlerErrorDeadLetters(t *testing.T) {
	r := New()
	r.Register("worker", func(msg *core.Message) (*core.Message, error) {
		return nil, errors.New("downstream unavailable")
	})

	msg := core.NewMessage(core.KindRequest, "boss", "worker", nil)
	reply := r.Send(context.Background(), msg)

	assert.Nil(t, reply)
	assert.Equal(t, core.StatusFailed, msg.Status)

	letters := r.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, "downstream unavailable", letters[0].Reason)
	assert.Empty(t, r.PendingAcks(), "failed sends must not linger in the pending set")
}

func TestSend_HandlerPanicContained(t *testing.T) {
	r := New()
	r.Register("worker", func(msg *core.Message) (*core.Message, error) {
		panic("boom")
	})

	msg := core.NewMessage(core.KindRequest, "boss", "worker", nil)
	reply := r.Send(context.Background(), msg)

	assert.Nil(t, reply)
	letters := r.DeadLetters()
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].Reason, "boom")
}

func TestSend_ContextCancellationAbortsWait(t *testing.T) {
	r := New(WithAckTimeout(10*time.Second), WithRetryDelay(time.Millisecond))
	r.Register("worker", func(msg *core.Message) (*core.Message, error) {
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	msg := core.NewMessage(core.KindRequest, "boss", "worker", nil)
	start := time.Now()
	reply := r.Send(ctx, msg)

	assert.Nil(t, reply)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, core.StatusFailed, msg.Status)
}

func TestAcknowledge_UnknownIsNoOp(t *testing.T) {
	r := New()
	r.Acknowledge("never-sent")
	r.Acknowledge("never-sent")
	assert.Empty(t, r.PendingAcks())
}

func TestClearExpired(t *testing.T) {
	// A generous ack timeout keeps the message in the pending set long
	// enough for the sweep to observe it.
	r := New(WithAckTimeout(5*time.Second), WithRetryDelay(time.Millisecond))
	r.Register("worker", func(msg *core.Message) (*core.Message, error) {
		return nil, nil
	})

	msg := core.NewMessage(core.KindRequest, "boss", "worker", nil)
	msg.TTL = time.Nanosecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Send(ctx, msg)
		close(done)
	}()

	// Wait until the message is registered in the pending set, then sweep.
	require.Eventually(t, func() bool {
		return r.ClearExpired() == 1
	}, time.Second, time.Millisecond)

	// Release the waiting sender; the sweep already settled the message.
	cancel()
	<-done
	letters := r.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, ReasonExpired, letters[0].Reason)
	assert.Equal(t, core.StatusExpired, letters[0].Message.Status)
	assert.Empty(t, r.PendingAcks())
}

func TestRegister_ReplacesHandler(t *testing.T) {
	r := New()
	r.Register("worker", func(msg *core.Message) (*core.Message, error) {
		return msg.Response(map[string]any{"from": "old"}), nil
	})
	r.Register("worker", func(msg *core.Message) (*core.Message, error) {
		return msg.Response(map[string]any{"from": "new"}), nil
	})

	msg := core.NewMessage(core.KindRequest, "boss", "worker", nil)
	msg.RequiresAck = false
	reply := r.Send(context.Background(), msg)

	require.NotNil(t, reply)
	assert.Equal(t, "new", reply.Payload["from"])
}

func TestUnregister(t *testing.T) {
	r := New()
	r.Register("worker", func(msg *core.Message) (*core.Message, error) { return nil, nil })
	r.Unregister("worker")

	msg := core.NewMessage(core.KindNotification, "boss", "worker", nil)
	msg.RequiresAck = false
	r.Send(context.Background(), msg)

	require.Len(t, r.DeadLetters(), 1)
}

func TestDeadLetters_CapEvictsOldest(t *testing.T) {
	r := New(WithMaxDeadLetters(5))

	for i := 0; i < 8; i++ {
		msg := core.NewMessage(core.KindNotification, "boss", fmt.Sprintf("ghost-%d", i), nil)
		msg.RequiresAck = false
		r.Send(context.Background(), msg)
	}

	letters := r.DeadLetters()
	require.Len(t, letters, 5)
	assert.Equal(t, "ghost-3", letters[0].Message.Receiver, "oldest entries are evicted first")
}

func TestHistory_CapAndLimit(t *testing.T) {
	r := New(WithMaxHistory(10))
	r.Register("worker", func(msg *core.Message) (*core.Message, error) { return nil, nil })

	for i := 0; i < 15; i++ {
		msg := core.NewMessage(core.KindNotification, "boss", "worker", map[string]any{"i": i})
		msg.RequiresAck = false
		r.Send(context.Background(), msg)
	}

	assert.Len(t, r.History(0), 10)
	recent := r.History(3)
	require.Len(t, recent, 3)
	assert.Equal(t, 14, recent[2].Payload["i"])
}
