package client

import (
	"testing"

	"github.com/mbocsi/teamhub/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundQueue_FIFO(t *testing.T) {
	q := newOutboundQueue(3, DropOldest)
	msgs := []proto.Message{chatMessage(t, "a"), chatMessage(t, "b"), chatMessage(t, "c")}
	for _, m := range msgs {
		evicted, err := q.push(m)
		require.NoError(t, err)
		assert.Nil(t, evicted)
	}
	assert.Equal(t, 3, q.len())

	head, ok := q.peek()
	require.True(t, ok)
	assert.Equal(t, msgs[0].ID, head.msg.ID)
	assert.Equal(t, 3, q.len(), "peek must not remove")

	for _, want := range msgs {
		got, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, want.ID, got.msg.ID)
	}
	_, ok = q.pop()
	assert.False(t, ok)
	_, ok = q.peek()
	assert.False(t, ok)
}

func TestOutboundQueue_DropOldestWrapsAround(t *testing.T) {
	q := newOutboundQueue(2, DropOldest)
	a, b, c, d := chatMessage(t, "a"), chatMessage(t, "b"), chatMessage(t, "c"), chatMessage(t, "d")

	_, _ = q.push(a)
	_, _ = q.push(b)
	evicted, err := q.push(c)
	require.NoError(t, err)
	require.NotNil(t, evicted)
	assert.Equal(t, a.ID, evicted.msg.ID)

	got, _ := q.pop()
	assert.Equal(t, b.ID, got.msg.ID)

	evicted, err = q.push(d)
	require.NoError(t, err)
	assert.Nil(t, evicted)

	got, _ = q.pop()
	assert.Equal(t, c.ID, got.msg.ID)
	got, _ = q.pop()
	assert.Equal(t, d.ID, got.msg.ID)
	assert.Equal(t, 0, q.len())
}

func TestOutboundQueue_Reject(t *testing.T) {
	q := newOutboundQueue(1, Reject)
	_, err := q.push(chatMessage(t, "a"))
	require.NoError(t, err)

	_, err = q.push(chatMessage(t, "b"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, q.len())
}

func TestOutboundQueue_Clear(t *testing.T) {
	q := newOutboundQueue(4, DropOldest)
	for range 3 {
		_, _ = q.push(chatMessage(t, "x"))
	}
	assert.Equal(t, 3, q.clear())
	assert.Equal(t, 0, q.len())
	assert.Equal(t, 0, q.clear())

	// Still usable after clearing.
	m := chatMessage(t, "after")
	_, _ = q.push(m)
	got, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, m.ID, got.msg.ID)
}

func TestParseOverflowPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    OverflowPolicy
		wantErr bool
	}{
		{"", DropOldest, false},
		{"drop_oldest", DropOldest, false},
		{"reject", Reject, false},
		{"drop_newest", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOverflowPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOutboundQueue_PopSeqSkipsEvictedHead(t *testing.T) {
	q := newOutboundQueue(2, DropOldest)
	a, b, c := chatMessage(t, "a"), chatMessage(t, "b"), chatMessage(t, "c")
	_, _ = q.push(a)
	_, _ = q.push(b)

	inFlight, ok := q.peek()
	require.True(t, ok)
	assert.Equal(t, a.ID, inFlight.msg.ID)

	// a is evicted while it is being written.
	evicted, err := q.push(c)
	require.NoError(t, err)
	require.NotNil(t, evicted)
	assert.Equal(t, inFlight.seq, evicted.seq)

	assert.False(t, q.popSeq(inFlight.seq), "b must not be popped in place of a")
	assert.Equal(t, 2, q.len())

	head, _ := q.peek()
	assert.True(t, q.popSeq(head.seq))
	assert.Equal(t, 1, q.len())
}
