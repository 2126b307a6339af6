package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/skystack/internal/config"
	"github.com/banshee-data/skystack/internal/framesource"
	"github.com/banshee-data/skystack/internal/stack"
	"github.com/banshee-data/skystack/internal/timeutil"
)

// ErrSourceFailed is returned when the frame source stops producing frames:
// any error other than framesource.ErrFrameUnavailable, or too many
// unavailable frames in a row.
var ErrSourceFailed = errors.New("frame source failed")

// DefaultMaxConsecutiveDrops bounds the run of unavailable frames tolerated
// before the source is declared dead.
const DefaultMaxConsecutiveDrops = 100

// AcquirerConfig holds the dependencies of an Acquirer.
type AcquirerConfig struct {
	Source framesource.Source
	Buffer *stack.DoubleBuffer

	// EndTime is checked before each new stack is started, so the last
	// stack may run past it by up to one stack's acquisition time.
	EndTime time.Time

	// MaxConsecutiveDrops is the longest run of unavailable frames that is
	// retried. Zero means DefaultMaxConsecutiveDrops.
	MaxConsecutiveDrops int

	// TimestampMode is config.TimestampMidpoint (default) or
	// config.TimestampSource.
	TimestampMode string

	// Clock stamps frames and decides when EndTime has passed.
	Clock timeutil.Clock
}

// Acquirer fills the double buffer from a frame source.
type Acquirer struct {
	cfg AcquirerConfig

	frames atomic.Uint64
	drops  atomic.Uint64
	stacks atomic.Uint64
}

// NewAcquirer checks cfg and returns an Acquirer.
func NewAcquirer(cfg AcquirerConfig) (*Acquirer, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("acquirer: nil frame source")
	}
	if cfg.Buffer == nil {
		return nil, fmt.Errorf("acquirer: nil buffer")
	}
	if cfg.MaxConsecutiveDrops <= 0 {
		cfg.MaxConsecutiveDrops = DefaultMaxConsecutiveDrops
	}
	switch cfg.TimestampMode {
	case "":
		cfg.TimestampMode = config.TimestampMidpoint
	case config.TimestampMidpoint, config.TimestampSource:
	default:
		return nil, fmt.Errorf("acquirer: unknown timestamp mode %q", cfg.TimestampMode)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Acquirer{cfg: cfg}, nil
}

// Frames returns the number of frames stored so far.
func (a *Acquirer) Frames() uint64 { return a.frames.Load() }

// Drops returns the number of unavailable frames that were retried.
func (a *Acquirer) Drops() uint64 { return a.drops.Load() }

// Stacks returns the number of stacks published.
func (a *Acquirer) Stacks() uint64 { return a.stacks.Load() }

// Run acquires stacks until EndTime has passed, the source fails or ctx is
// cancelled. On return the source is closed and the buffer is closed with
// the returned error as its cause, so a waiting Reducer wakes up. A stack
// that was not completed is never published.
func (a *Acquirer) Run(ctx context.Context) (err error) {
	buf := a.cfg.Buffer
	defer func() {
		if cerr := a.cfg.Source.Close(); cerr != nil {
			opsf("closing frame source: %v", cerr)
		}
		buf.Close(err)
	}()

	diagf("acquiring %dx%dx%d stacks until %s", buf.Width(), buf.Height(), buf.Depth(),
		a.cfg.EndTime.UTC().Format(time.RFC3339))

	for a.cfg.Clock.Now().Before(a.cfg.EndTime) {
		slot, s, err := buf.BeginFill(ctx)
		if err != nil {
			return err
		}
		if err := a.fill(ctx, s); err != nil {
			return err
		}
		if err := buf.MarkReady(ctx, slot); err != nil {
			return err
		}
		n := a.stacks.Add(1)
		tracef("stack %d ready in slot %d, %.3fs to %.3fs", n, slot, s.First(), s.Last())
	}

	diagf("acquisition finished after %d stacks, %d frames, %d dropped",
		a.Stacks(), a.Frames(), a.Drops())
	return nil
}

// fill writes Depth frames into s. Unavailable frames are retried at the same
// index.
func (a *Acquirer) fill(ctx context.Context, s *stack.FrameStack) error {
	consecutive := 0
	for z := 0; z < s.Depth; {
		if err := ctx.Err(); err != nil {
			return err
		}

		t0 := a.cfg.Clock.Now()
		captured, err := a.cfg.Source.ReadFrame(s.Frame(z))
		t1 := a.cfg.Clock.Now()

		if err != nil {
			if !errors.Is(err, framesource.ErrFrameUnavailable) {
				opsf("frame source error at frame %d: %v", z, err)
				return fmt.Errorf("%w: %w", ErrSourceFailed, err)
			}
			a.drops.Add(1)
			consecutive++
			tracef("frame %d unavailable (%d in a row): %v", z, consecutive, err)
			if consecutive > a.cfg.MaxConsecutiveDrops {
				opsf("frame source produced no frame in %d attempts", consecutive)
				return fmt.Errorf("%w: %d consecutive frames unavailable", ErrSourceFailed, consecutive)
			}
			continue
		}
		consecutive = 0

		ts := t0.Add(t1.Sub(t0) / 2)
		if a.cfg.TimestampMode == config.TimestampSource && !captured.IsZero() {
			ts = captured
		}
		s.Timestamps[z] = timeutil.UnixSeconds(ts)
		a.frames.Add(1)
		z++
	}
	return nil
}
