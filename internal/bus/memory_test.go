package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pull(t *testing.T, sub Subscription) *Message {
	t.Helper()
	msg, err := sub.Pull(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	return msg
}

func TestMemoryPublishFiltering(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(0)

	created, err := b.Subscribe(ctx, "intake", "invoice.created")
	require.NoError(t, err)
	all, err := b.Subscribe(ctx, "tap", MatchAll)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "invoice.created", []byte(`{"n":1}`)))
	require.NoError(t, b.Publish(ctx, "invoice.validated", []byte(`{"n":2}`)))

	msg := pull(t, created)
	assert.Equal(t, "invoice.created", msg.Subject)
	assert.Equal(t, 1, msg.Deliveries)
	_, err = created.Pull(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage, "filtered subscription must not see other subjects")

	assert.Equal(t, "invoice.created", pull(t, all).Subject)
	assert.Equal(t, "invoice.validated", pull(t, all).Subject)
}

func TestMemoryReplaysStreamToLateSubscription(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(0)

	// Published before anyone subscribed; a durable consumer attaching
	// later must still receive it.
	require.NoError(t, b.Publish(ctx, "invoice.created", []byte(`{"n":1}`)))
	require.NoError(t, b.Publish(ctx, "invoice.validated", []byte(`{"n":2}`)))

	late, err := b.Subscribe(ctx, "intake", "invoice.created")
	require.NoError(t, err)
	msg := pull(t, late)
	assert.Equal(t, "invoice.created", msg.Subject)
	assert.Equal(t, `{"n":1}`, string(msg.Data))
	require.NoError(t, late.Ack(ctx, msg))

	_, err = late.Pull(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage, "replay is filtered like live delivery")

	// Reattaching to the durable subscription does not replay again.
	same, err := b.Subscribe(ctx, "intake", "invoice.created")
	require.NoError(t, err)
	_, err = same.Pull(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage)

	tap, err := b.Subscribe(ctx, "tap", MatchAll)
	require.NoError(t, err)
	assert.Equal(t, "invoice.created", pull(t, tap).Subject)
	assert.Equal(t, "invoice.validated", pull(t, tap).Subject)
}

func TestMemoryNakRedeliversInOrder(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(0)
	sub, err := b.Subscribe(ctx, "w", "invoice.created")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "invoice.created", []byte("first")))
	require.NoError(t, b.Publish(ctx, "invoice.created", []byte("second")))

	msg := pull(t, sub)
	assert.Equal(t, "first", string(msg.Data))
	require.NoError(t, sub.Nak(ctx, msg))

	// The nacked message comes back before anything published after it.
	redelivered := pull(t, sub)
	assert.Equal(t, "first", string(redelivered.Data))
	assert.Equal(t, 2, redelivered.Deliveries)
	require.NoError(t, sub.Ack(ctx, redelivered))
	assert.Equal(t, "second", string(pull(t, sub).Data))
}

func TestMemoryMaxDeliverDeadLetters(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(3)
	sub, err := b.Subscribe(ctx, "w", "invoice.created")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "invoice.created", []byte("poison")))

	for i := 0; i < 3; i++ {
		msg := pull(t, sub)
		require.NoError(t, sub.Nak(ctx, msg))
	}

	_, err = sub.Pull(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage)

	letters := b.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, "max delivery count exceeded", letters[0].Reason)
}

func TestMemoryQuarantineAndRequeue(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(0)
	sub, err := b.Subscribe(ctx, "w", "invoice.extracted")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "invoice.extracted", []byte("odd")))

	msg := pull(t, sub)
	require.NoError(t, sub.Quarantine(ctx, msg, "precondition mismatch"))

	letters := b.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, "precondition mismatch", letters[0].Reason)

	require.NoError(t, b.Requeue(ctx, letters[0].Message.ID))
	assert.Empty(t, b.DeadLetters())

	back := pull(t, sub)
	assert.Equal(t, "odd", string(back.Data))
	assert.Equal(t, 1, back.Deliveries, "requeue starts a fresh delivery count")

	assert.Error(t, b.Requeue(ctx, "missing"))
}
