package stack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/skystack/internal/timeutil"
)

// ErrClosed is returned by WaitAndTakeReady once the writer has closed the
// buffer and no unconsumed stack remains.
var ErrClosed = errors.New("double buffer closed")

// BufferState names which stack, if any, was most recently completed.
type BufferState uint8

const (
	StateNone BufferState = iota
	StateAReady
	StateBReady
)

func (s BufferState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateAReady:
		return "A ready"
	case StateBReady:
		return "B ready"
	}
	return fmt.Sprintf("BufferState(%d)", uint8(s))
}

// Slot returns the stack index named by the state, or -1 for StateNone.
func (s BufferState) Slot() int {
	return int(s) - 1
}

func readyState(slot int) BufferState {
	return BufferState(slot + 1)
}

// The ready flag is packed with a generation counter so a reader can tell a
// fresh MarkReady from one it has already consumed, even when the same slot
// is named twice.
func pack(gen uint64, s BufferState) uint64 { return gen<<2 | uint64(s) }
func unpack(v uint64) (uint64, BufferState) { return v >> 2, BufferState(v & 3) }

const (
	// DefaultPollInterval is the reader's retry interval while waiting for a
	// ready stack.
	DefaultPollInterval = time.Second
	// DefaultFillPollInterval is the writer's retry interval while waiting for
	// the reader to let go of a slot.
	DefaultFillPollInterval = 5 * time.Millisecond
)

// Option configures a DoubleBuffer.
type Option func(*DoubleBuffer)

// WithClock sets the clock used for polling waits.
func WithClock(c timeutil.Clock) Option {
	return func(b *DoubleBuffer) { b.clock = c }
}

// WithPollInterval sets the reader poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(b *DoubleBuffer) { b.pollInterval = d }
}

// WithFillPollInterval sets the writer poll interval.
func WithFillPollInterval(d time.Duration) Option {
	return func(b *DoubleBuffer) { b.fillPollInterval = d }
}

// DoubleBuffer holds two FrameStacks and the ready flag that hands them from
// one writer to one reader.
//
// The writer calls BeginFill, writes every frame and timestamp of the
// returned stack, then MarkReady. The reader calls WaitAndTakeReady, reads
// the leased stack and calls Release. A slot is never written while it is
// leased, and a new stack is never published over one the reader has not
// taken yet.
type DoubleBuffer struct {
	stacks [2]*FrameStack

	state  atomic.Uint64 // pack(generation, BufferState)
	taken  atomic.Uint64 // last generation taken by the reader
	leased [2]atomic.Bool
	active atomic.Int32 // writer-owned; atomic so observers stay race-free

	closed atomic.Bool
	errMu  sync.Mutex
	err    error

	overruns atomic.Uint64

	clock            timeutil.Clock
	pollInterval     time.Duration
	fillPollInterval time.Duration
}

// Allocate reserves two stacks of shape (depth, height, width) and a ready
// flag set to StateNone.
func Allocate(width, height, depth int, opts ...Option) (*DoubleBuffer, error) {
	b := &DoubleBuffer{
		clock:            timeutil.RealClock{},
		pollInterval:     DefaultPollInterval,
		fillPollInterval: DefaultFillPollInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	for i := range b.stacks {
		s, err := NewFrameStack(width, height, depth)
		if err != nil {
			return nil, err
		}
		b.stacks[i] = s
	}
	return b, nil
}

// Width, Height and Depth report the stack shape.
func (b *DoubleBuffer) Width() int  { return b.stacks[0].Width }
func (b *DoubleBuffer) Height() int { return b.stacks[0].Height }
func (b *DoubleBuffer) Depth() int  { return b.stacks[0].Depth }

// State returns the current ready flag.
func (b *DoubleBuffer) State() BufferState {
	_, s := unpack(b.state.Load())
	return s
}

// Generation returns the number of stacks published so far.
func (b *DoubleBuffer) Generation() uint64 {
	g, _ := unpack(b.state.Load())
	return g
}

// ActiveSlot returns the slot the writer should fill next.
func (b *DoubleBuffer) ActiveSlot() int {
	return int(b.active.Load())
}

// Overruns counts the writer waits caused by a reader that fell behind.
func (b *DoubleBuffer) Overruns() uint64 {
	return b.overruns.Load()
}

// BeginFill returns the active slot and its stack once the reader has
// released that slot's previous contents. It blocks, polling, while the slot
// is still leased.
func (b *DoubleBuffer) BeginFill(ctx context.Context) (int, *FrameStack, error) {
	slot := b.ActiveSlot()
	if err := b.writerWait(ctx, func() bool { return !b.leased[slot].Load() }); err != nil {
		return 0, nil, err
	}
	return slot, b.stacks[slot], nil
}

// MarkReady publishes a completed slot and flips the active slot. It must
// only be called after every frame and timestamp of the slot is written. If
// the reader has not yet taken the previously published stack, MarkReady
// waits for it rather than overwrite the flag.
func (b *DoubleBuffer) MarkReady(ctx context.Context, slot int) error {
	if slot != b.ActiveSlot() {
		return fmt.Errorf("mark ready: slot %d is not the active slot %d", slot, b.ActiveSlot())
	}
	gen, _ := unpack(b.state.Load())
	if err := b.writerWait(ctx, func() bool { return b.taken.Load() >= gen }); err != nil {
		return err
	}
	b.state.Store(pack(gen+1, readyState(slot)))
	b.active.Store(int32(1 - slot))
	return nil
}

func (b *DoubleBuffer) writerWait(ctx context.Context, ok func() bool) error {
	if ok() {
		return nil
	}
	b.overruns.Add(1)
	for !ok() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.clock.After(b.fillPollInterval):
		}
	}
	return nil
}

// Lease grants the reader exclusive access to one published stack until
// Release is called.
type Lease struct {
	Slot       int
	Generation uint64
	Stack      *FrameStack

	buf      *DoubleBuffer
	released atomic.Bool
}

// Release hands the slot back to the writer. It is safe to call more than
// once.
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.buf.leased[l.Slot].Store(false)
	}
}

// WaitAndTakeReady polls the ready flag until it names a stack newer than
// the last one taken, then leases that stack. The flag itself is left
// unchanged. It returns ErrClosed when the writer has closed the buffer and
// nothing is pending, or the context error on cancellation.
func (b *DoubleBuffer) WaitAndTakeReady(ctx context.Context) (*Lease, error) {
	for {
		if l := b.tryTake(); l != nil {
			return l, nil
		}
		if b.closed.Load() {
			// A final MarkReady may have landed between tryTake and Close.
			if l := b.tryTake(); l != nil {
				return l, nil
			}
			return nil, ErrClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.clock.After(b.pollInterval):
		}
	}
}

func (b *DoubleBuffer) tryTake() *Lease {
	gen, s := unpack(b.state.Load())
	if s == StateNone || gen <= b.taken.Load() {
		return nil
	}
	slot := s.Slot()
	// Lease before recording the take: the writer checks the take first
	// and the lease second, so it can never see neither.
	b.leased[slot].Store(true)
	b.taken.Store(gen)
	return &Lease{Slot: slot, Generation: gen, Stack: b.stacks[slot], buf: b}
}

// Close marks the writer as finished. cause, if non-nil, is reported by Err
// so the reader can surface why acquisition stopped. Only the first call
// has an effect.
func (b *DoubleBuffer) Close(cause error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.closed.Load() {
		return
	}
	b.err = cause
	b.closed.Store(true)
}

// Closed reports whether Close has been called.
func (b *DoubleBuffer) Closed() bool {
	return b.closed.Load()
}

// Err returns the cause passed to Close.
func (b *DoubleBuffer) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}
