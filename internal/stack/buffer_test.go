package stack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T, w, h, d int) *DoubleBuffer {
	t.Helper()
	b, err := Allocate(w, h, d,
		WithPollInterval(time.Millisecond),
		WithFillPollInterval(time.Millisecond))
	require.NoError(t, err)
	return b
}

// fill writes value into every sample and timestamp of the active stack and
// publishes it.
func fill(t *testing.T, b *DoubleBuffer, value byte) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	slot, s, err := b.BeginFill(ctx)
	require.NoError(t, err)
	for i := range s.Pixels {
		s.Pixels[i] = value
	}
	for i := range s.Timestamps {
		s.Timestamps[i] = float64(value)
	}
	require.NoError(t, b.MarkReady(ctx, slot))
	return slot
}

func TestAllocate(t *testing.T) {
	b := newTestBuffer(t, 4, 3, 5)

	assert.Equal(t, 4, b.Width())
	assert.Equal(t, 3, b.Height())
	assert.Equal(t, 5, b.Depth())
	assert.Equal(t, StateNone, b.State())
	assert.Equal(t, 0, b.ActiveSlot())
	assert.Equal(t, uint64(0), b.Generation())

	s, err := NewFrameStack(4, 3, 5)
	require.NoError(t, err)
	assert.Len(t, s.Pixels, 60)
	assert.Len(t, s.Timestamps, 5)
	assert.Len(t, s.Frame(4), 12)
}

func TestAllocateRejectsEmptyShape(t *testing.T) {
	_, err := Allocate(0, 3, 5)
	assert.Error(t, err)
	_, err = Allocate(4, 3, 0)
	assert.Error(t, err)
}

func TestFrameStackIndexing(t *testing.T) {
	s, err := NewFrameStack(3, 2, 2)
	require.NoError(t, err)
	s.Frame(1)[1*3+2] = 42 // z=1, y=1, x=2

	assert.Equal(t, byte(42), s.At(1, 1, 2))
	assert.Equal(t, byte(42), s.Pixels[(1*2+1)*3+2])
}

func TestMarkReadyAlternatesSlots(t *testing.T) {
	b := newTestBuffer(t, 2, 2, 3)

	assert.Equal(t, 0, fill(t, b, 1))
	assert.Equal(t, StateAReady, b.State())
	assert.Equal(t, 1, b.ActiveSlot())

	ctx := context.Background()
	l, err := b.WaitAndTakeReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Slot)
	assert.Equal(t, uint64(1), l.Generation)
	assert.Equal(t, byte(1), l.Stack.Pixels[0])
	// Taking leaves the flag untouched.
	assert.Equal(t, StateAReady, b.State())
	l.Release()

	assert.Equal(t, 1, fill(t, b, 2))
	assert.Equal(t, StateBReady, b.State())
	assert.Equal(t, 0, b.ActiveSlot())

	l, err = b.WaitAndTakeReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Slot)
	assert.Equal(t, byte(2), l.Stack.Pixels[0])
	l.Release()
	l.Release() // idempotent
}

func TestWaitAndTakeReadyDoesNotRetakeSameStack(t *testing.T) {
	b := newTestBuffer(t, 2, 2, 3)
	fill(t, b, 7)

	l, err := b.WaitAndTakeReady(context.Background())
	require.NoError(t, err)
	l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.WaitAndTakeReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMarkReadyRejectsInactiveSlot(t *testing.T) {
	b := newTestBuffer(t, 2, 2, 3)
	err := b.MarkReady(context.Background(), 1)
	assert.Error(t, err)
	assert.Equal(t, StateNone, b.State())
}

func TestBeginFillWaitsForLeaseRelease(t *testing.T) {
	b := newTestBuffer(t, 2, 2, 3)
	fill(t, b, 1) // slot 0

	lease, err := b.WaitAndTakeReady(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, lease.Slot)

	fill(t, b, 2) // slot 1, previous stack already taken so no wait

	started := make(chan int, 1)
	go func() {
		slot, _, err := b.BeginFill(context.Background())
		if err == nil {
			started <- slot
		}
	}()

	select {
	case <-started:
		t.Fatal("BeginFill must not hand out a slot that is still leased")
	case <-time.After(30 * time.Millisecond):
	}

	lease.Release()
	select {
	case slot := <-started:
		assert.Equal(t, 0, slot)
	case <-time.After(time.Second):
		t.Fatal("BeginFill did not resume after Release")
	}
	assert.Equal(t, uint64(1), b.Overruns())
}

func TestMarkReadyWaitsForUntakenStack(t *testing.T) {
	b := newTestBuffer(t, 2, 2, 3)
	fill(t, b, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	slot, _, err := b.BeginFill(ctx)
	require.NoError(t, err)
	err = b.MarkReady(ctx, slot)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateAReady, b.State(), "untaken stack must not be overwritten")
	assert.Equal(t, uint64(1), b.Overruns())
}

func TestCloseUnblocksReader(t *testing.T) {
	b := newTestBuffer(t, 2, 2, 3)
	cause := errors.New("camera unplugged")

	done := make(chan error, 1)
	go func() {
		_, err := b.WaitAndTakeReady(context.Background())
		done <- err
	}()

	b.Close(cause)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("reader still waiting after Close")
	}
	assert.True(t, b.Closed())
	assert.ErrorIs(t, b.Err(), cause)

	b.Close(errors.New("second cause ignored"))
	assert.ErrorIs(t, b.Err(), cause)
}

func TestCloseDrainsPendingStack(t *testing.T) {
	b := newTestBuffer(t, 2, 2, 3)
	fill(t, b, 9)
	b.Close(nil)

	l, err := b.WaitAndTakeReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(9), l.Stack.Pixels[0])
	l.Release()

	_, err = b.WaitAndTakeReady(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, b.Err())
}

func TestWaitAndTakeReadyHonoursCancel(t *testing.T) {
	b := newTestBuffer(t, 2, 2, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.WaitAndTakeReady(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestSlowReaderNeverSeesTornStack writes a canary value into every sample
// of each stack and has a deliberately slow reader verify the canary at the
// start and the end of its read. Every stack must arrive whole and in order.
func TestSlowReaderNeverSeesTornStack(t *testing.T) {
	const stacks = 25
	b := newTestBuffer(t, 8, 6, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for g := 1; g <= stacks; g++ {
			slot, s, err := b.BeginFill(ctx)
			if err != nil {
				b.Close(err)
				return
			}
			for i := range s.Pixels {
				s.Pixels[i] = byte(g)
			}
			for i := range s.Timestamps {
				s.Timestamps[i] = float64(g)
			}
			if err := b.MarkReady(ctx, slot); err != nil {
				b.Close(err)
				return
			}
		}
		b.Close(nil)
	}()

	var seen []byte
	corrupted := 0
	for {
		l, err := b.WaitAndTakeReady(ctx)
		if errors.Is(err, ErrClosed) {
			break
		}
		require.NoError(t, err)

		canary := l.Stack.Pixels[0]
		time.Sleep(3 * time.Millisecond)
		for _, v := range l.Stack.Pixels {
			if v != canary {
				corrupted++
				break
			}
		}
		if l.Stack.Last() != float64(canary) {
			corrupted++
		}
		seen = append(seen, canary)
		l.Release()
	}
	wg.Wait()

	require.NoError(t, b.Err())
	assert.Zero(t, corrupted, "reader observed a stack being rewritten")
	require.Len(t, seen, stacks, "every published stack must be consumed")
	for i, v := range seen {
		assert.Equal(t, byte(i+1), v)
	}
	assert.Positive(t, b.Overruns(), "slow reader should have held the writer back")
}

func TestBufferStateString(t *testing.T) {
	assert.Equal(t, "none", StateNone.String())
	assert.Equal(t, "A ready", StateAReady.String())
	assert.Equal(t, "B ready", StateBReady.String())
	assert.Equal(t, -1, StateNone.Slot())
	assert.Equal(t, 1, StateBReady.Slot())
}
