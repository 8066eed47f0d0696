package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOf(i uint64, b byte) Frame {
	return Frame{Index: i, PCM: []byte{b}}
}

func TestRingBufferPushAndPop(t *testing.T) {
	rb := NewRingBuffer(4)

	assert.Equal(t, 0, rb.Push(frameOf(1, 1)))
	assert.Equal(t, 0, rb.Push(frameOf(2, 2)))
	assert.Equal(t, 2, rb.Len())

	ctx := context.Background()
	f, err := rb.PopOrWait(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Index)

	f, err = rb.PopOrWait(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Index)
}

func TestRingBufferOverwritesOldestAndCounts(t *testing.T) {
	rb := NewRingBuffer(2)

	assert.Equal(t, 0, rb.Push(frameOf(1, 1)))
	assert.Equal(t, 0, rb.Push(frameOf(2, 2)))
	assert.Equal(t, 1, rb.Push(frameOf(3, 3))) // overwrites frame 1

	assert.Equal(t, uint64(1), rb.Overwritten())

	ctx := context.Background()
	f, err := rb.PopOrWait(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Index, "oldest surviving frame should be index 2")
}

func TestRingBufferSnapshotLastDoesNotConsume(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Push(frameOf(1, 1))
	rb.Push(frameOf(2, 2))
	rb.Push(frameOf(3, 3))

	snap := rb.SnapshotLast(2)
	require.Len(t, snap, 2)
	assert.Equal(t, uint64(2), snap[0].Index)
	assert.Equal(t, uint64(3), snap[1].Index)
	assert.Equal(t, 3, rb.Len(), "snapshot must not remove frames")
}

func TestRingBufferSnapshotLastClampsToAvailable(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Push(frameOf(1, 1))

	snap := rb.SnapshotLast(10)
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(1), snap[0].Index)
}

func TestRingBufferPopOrWaitTimesOut(t *testing.T) {
	rb := NewRingBuffer(4)
	ctx := context.Background()

	_, err := rb.PopOrWait(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRingBufferPopOrWaitRespectsCancellation(t *testing.T) {
	rb := NewRingBuffer(4)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := rb.PopOrWait(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRingBufferPopOrWaitUnblocksOnPush(t *testing.T) {
	rb := NewRingBuffer(4)
	ctx := context.Background()

	done := make(chan Frame, 1)
	go func() {
		f, err := rb.PopOrWait(ctx, time.Second)
		if err == nil {
			done <- f
		}
	}()

	time.Sleep(10 * time.Millisecond)
	rb.Push(frameOf(42, 9))

	select {
	case f := <-done:
		assert.Equal(t, uint64(42), f.Index)
	case <-time.After(time.Second):
		t.Fatal("PopOrWait did not unblock on Push")
	}
}
