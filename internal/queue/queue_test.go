package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, RepairProducer{Q: q}.EnqueueRepair(ctx, "S1"))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-msgs:
		assert.Equal(t, TypeRepair, msg.Type)
		assert.Equal(t, "S1", msg.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestInMemoryPublishBlockedByFullQueue(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: TypeRepair, Body: "S1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Publish(ctx, Message{Type: TypeRepair, Body: "S2"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeRepair, Body: "S1"}))
	require.NoError(t, q.Publish(ctx, Message{Type: TypeRepair, Body: "S2"}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	// Cancel without draining: the forwarder must shut down and close the
	// channel instead of parking on the undelivered message.
	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-msgs:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("consume channel not closed after cancel")
		}
	}
}
