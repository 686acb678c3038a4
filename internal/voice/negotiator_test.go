package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/wire"
)

func TestNegotiatorDeliverByRef(t *testing.T) {
	n := newNegotiator(time.Second)
	waiter := n.expect("r1")

	ok := n.deliver(wire.SignalDescription{Type: "answer", SDP: "a", Ref: "r1"})
	require.True(t, ok)

	desc, err := n.await("r1", waiter)
	require.NoError(t, err)
	assert.Equal(t, "a", desc.SDP)
}

func TestNegotiatorNoRefFallsBackToSinglePending(t *testing.T) {
	n := newNegotiator(time.Second)
	waiter := n.expect("r1")

	ok := n.deliver(wire.SignalDescription{Type: "answer", SDP: "a"})
	require.True(t, ok)

	desc, err := n.await("r1", waiter)
	require.NoError(t, err)
	assert.Equal(t, "a", desc.SDP)
}

func TestNegotiatorNoRefAmbiguousDropped(t *testing.T) {
	n := newNegotiator(time.Second)
	n.expect("r1")
	n.expect("r2")

	assert.False(t, n.deliver(wire.SignalDescription{Type: "answer", SDP: "a"}))
}

func TestNegotiatorUnknownRefDropped(t *testing.T) {
	n := newNegotiator(time.Second)
	n.expect("r1")

	assert.False(t, n.deliver(wire.SignalDescription{Type: "answer", SDP: "a", Ref: "r9"}))
}

func TestNegotiatorAwaitTimeout(t *testing.T) {
	n := newNegotiator(20 * time.Millisecond)
	waiter := n.expect("r1")

	_, err := n.await("r1", waiter)
	assert.ErrorIs(t, err, ErrNegotiationTimeout)

	// The timed-out exchange was cleaned up; a late answer has nowhere
	// to go.
	assert.False(t, n.deliver(wire.SignalDescription{Type: "answer", SDP: "a", Ref: "r1"}))
}

func TestNegotiatorCancel(t *testing.T) {
	n := newNegotiator(time.Second)
	n.expect("r1")
	n.cancel("r1")

	assert.False(t, n.deliver(wire.SignalDescription{Type: "answer", SDP: "a", Ref: "r1"}))
}

func TestNegotiatorDefaultTimeout(t *testing.T) {
	n := newNegotiator(0)
	assert.Equal(t, 10*time.Second, n.timeout)
}
