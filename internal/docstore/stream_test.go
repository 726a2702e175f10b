package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaitSet(t *testing.T, ch <-chan []note) []note {
	t.Helper()
	select {
	case docs := <-ch:
		return docs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream delivery")
		return nil
	}
}

func TestStreamInitialDelivery(t *testing.T) {
	ctx := context.Background()
	notes := NewCollection[note](newTestStore(), "notes")
	_, err := notes.Create(ctx, note{Key: "n1", Title: "existing"})
	require.NoError(t, err)

	deliveries := make(chan []note, 4)
	cancel, err := notes.Stream(ctx, nil, func(docs []note) { deliveries <- docs })
	require.NoError(t, err)
	defer cancel()

	first := awaitSet(t, deliveries)
	require.Len(t, first, 1)
	assert.Equal(t, "n1", first[0].Key)
}

func TestStreamFiresOnMatchingWrite(t *testing.T) {
	ctx := context.Background()
	notes := NewCollection[note](newTestStore(), "notes")

	deliveries := make(chan []note, 4)
	cancel, err := notes.Stream(ctx, Condition{{"title": {OpEq: "wanted"}}}, func(docs []note) { deliveries <- docs })
	require.NoError(t, err)
	defer cancel()

	assert.Empty(t, awaitSet(t, deliveries), "initial set is empty")

	_, err = notes.Create(ctx, note{Key: "n1", Title: "wanted"})
	require.NoError(t, err)
	got := awaitSet(t, deliveries)
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].Key)

	// A write that does not change the matched set stays silent.
	_, err = notes.Create(ctx, note{Key: "n2", Title: "other"})
	require.NoError(t, err)

	require.NoError(t, notes.Delete(ctx, "n1"))
	assert.Empty(t, awaitSet(t, deliveries), "delete empties the matched set")
}

func TestStreamCancelStopsCallbacks(t *testing.T) {
	ctx := context.Background()
	notes := NewCollection[note](newTestStore(), "notes")

	deliveries := make(chan []note, 16)
	cancel, err := notes.Stream(ctx, nil, func(docs []note) { deliveries <- docs })
	require.NoError(t, err)
	awaitSet(t, deliveries)

	cancel()
	delivered := len(deliveries)

	_, err = notes.Create(ctx, note{Key: "n1"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, delivered, len(deliveries), "no callbacks after cancel returns")

	// Cancelling twice is fine.
	cancel()
}

func TestStreamScopedToParent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	notes := NewCollection[note](store, "notes")

	deliveries := make(chan []note, 4)
	cancel, err := notes.Under("/folders/f1").Stream(ctx, nil, func(docs []note) { deliveries <- docs })
	require.NoError(t, err)
	defer cancel()
	awaitSet(t, deliveries)

	// Top-level writes never reach a subscription under a parent.
	_, err = notes.Create(ctx, note{Key: "top"})
	require.NoError(t, err)

	_, err = notes.Under("/folders/f1").Create(ctx, note{Key: "nested"})
	require.NoError(t, err)

	got := awaitSet(t, deliveries)
	require.Len(t, got, 1)
	assert.Equal(t, "nested", got[0].Key)
}
