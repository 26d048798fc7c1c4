package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/pickscrape/internal/browser/browsertest"
	"github.com/adityalohuni/pickscrape/internal/protocol"
)

func delivered(b *Bridge) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delivered
}

func TestDeliverOnce(t *testing.T) {
	b := New(nil)
	first := protocol.Delivery{Reason: protocol.ReasonCommit, Elements: []protocol.SelectedElement{{Tag: "h1", Text: "Title"}}}

	require.NoError(t, b.Deliver(first))
	err := b.Deliver(protocol.Delivery{Reason: protocol.ReasonCancel})
	assert.ErrorIs(t, err, ErrAlreadyDelivered)

	got, err := b.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, got)

	// a second Wait sees the same result
	again, err := b.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestWaitHonoursContext(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, delivered(b))
}

func TestAcknowledgeIdempotent(t *testing.T) {
	b := New(nil)
	assert.False(t, b.WaitAck(context.Background(), 0))

	b.Acknowledge()
	b.Acknowledge()
	assert.True(t, b.WaitAck(context.Background(), 0))
	assert.True(t, b.WaitAck(context.Background(), time.Second))
}

func TestWaitAckTimesOut(t *testing.T) {
	b := New(nil)
	start := time.Now()
	assert.False(t, b.WaitAck(context.Background(), 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestBindExposesEntryPoints(t *testing.T) {
	page := browsertest.NewPage()
	b := New(nil)

	require.NoError(t, b.Bind(page))
	assert.True(t, page.Exposed(protocol.DeliverFunc))
	assert.True(t, page.Exposed(protocol.AckFunc))
	assert.ErrorIs(t, b.Bind(page), ErrAlreadyBound)

	require.NoError(t, page.Call(protocol.DeliverFunc, map[string]any{
		"reason":   "cancel",
		"elements": []any{},
	}))
	require.NoError(t, page.Call(protocol.AckFunc, nil))

	got, err := b.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Cancelled())
	assert.Empty(t, got.Elements)
	assert.True(t, b.WaitAck(context.Background(), 0))

	// the page cannot deliver a second time
	err = page.Call(protocol.DeliverFunc, map[string]any{"reason": "commit"})
	assert.ErrorIs(t, err, ErrAlreadyDelivered)

	require.NoError(t, b.Unbind())
	assert.False(t, page.Exposed(protocol.DeliverFunc))
	assert.False(t, page.Exposed(protocol.AckFunc))
}

func TestBindFailureLeavesBridgeUnbound(t *testing.T) {
	page := browsertest.NewPage()
	page.ExposeErr = errors.New("target closed")
	b := New(nil)

	assert.Error(t, b.Bind(page))
	assert.ErrorIs(t, b.Unbind(), ErrNotBound)

	page.ExposeErr = nil
	assert.NoError(t, b.Bind(page))
}

func TestBadPayloadRejected(t *testing.T) {
	page := browsertest.NewPage()
	b := New(nil)
	require.NoError(t, b.Bind(page))

	assert.Error(t, page.Call(protocol.DeliverFunc, "not a delivery"))
	assert.False(t, delivered(b))
}
