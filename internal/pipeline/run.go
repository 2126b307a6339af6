package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/skystack/internal/config"
	"github.com/banshee-data/skystack/internal/framesource"
	"github.com/banshee-data/skystack/internal/stack"
	"github.com/banshee-data/skystack/internal/timeutil"
)

// Config describes one acquisition run.
type Config struct {
	Source framesource.Source
	Sink   RecordSink

	Width  int
	Height int
	Depth  int

	EndTime time.Time

	MaxConsecutiveDrops int
	TimestampMode       string
	ReduceWorkers       int

	// PollInterval is the Reducer's wait between checks of the ready flag.
	// Zero means stack.DefaultPollInterval.
	PollInterval time.Duration

	// Clock stamps frames and decides the end of the run. Buffer polling
	// always uses real time.
	Clock timeutil.Clock
}

// Stats summarises a finished run.
type Stats struct {
	Frames       uint64
	Drops        uint64
	Stacks       uint64
	Records      uint64
	SinkFailures uint64
	Overruns     uint64
}

func (s Stats) String() string {
	return fmt.Sprintf("%d stacks, %d records (%d lost), %d frames, %d dropped, %d overruns",
		s.Stacks, s.Records, s.SinkFailures, s.Frames, s.Drops, s.Overruns)
}

// Validate reports configuration errors that must stop a run before any
// frame is read.
func (c *Config) Validate() error {
	if c.Depth < config.MinFramesPerStack {
		return fmt.Errorf("%w: depth %d", config.ErrInvalidDepth, c.Depth)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", config.ErrInvalidDimensions, c.Width, c.Height)
	}
	if c.Source == nil || c.Sink == nil {
		return fmt.Errorf("pipeline: source and sink are required")
	}
	return nil
}

// Run allocates the double buffer and runs an Acquirer and a Reducer over it
// until the Reducer has processed the stack that crosses EndTime.
//
// A source failure stops the Acquirer; the Reducer drains what was already
// published and Run returns an error wrapping ErrSourceFailed. Cancelling
// ctx stops both workers without publishing the stack in progress and is
// not reported as an error. The source is always closed on return.
func Run(ctx context.Context, cfg Config) (Stats, error) {
	if err := cfg.Validate(); err != nil {
		closeSource(cfg.Source)
		return Stats{}, err
	}

	opts := []stack.Option{}
	if cfg.PollInterval > 0 {
		opts = append(opts, stack.WithPollInterval(cfg.PollInterval))
	}
	buf, err := stack.Allocate(cfg.Width, cfg.Height, cfg.Depth, opts...)
	if err != nil {
		closeSource(cfg.Source)
		return Stats{}, err
	}

	acq, err := NewAcquirer(AcquirerConfig{
		Source:              cfg.Source,
		Buffer:              buf,
		EndTime:             cfg.EndTime,
		MaxConsecutiveDrops: cfg.MaxConsecutiveDrops,
		TimestampMode:       cfg.TimestampMode,
		Clock:               cfg.Clock,
	})
	if err != nil {
		closeSource(cfg.Source)
		return Stats{}, err
	}
	red, err := NewReducer(ReducerConfig{
		Buffer:  buf,
		Sink:    cfg.Sink,
		EndTime: cfg.EndTime,
		Workers: cfg.ReduceWorkers,
	})
	if err != nil {
		closeSource(cfg.Source)
		return Stats{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	acqCtx, stopAcq := context.WithCancel(gctx)
	defer stopAcq()
	var reducerDone atomic.Bool

	g.Go(func() error {
		err := acq.Run(acqCtx)
		if errors.Is(err, context.Canceled) && reducerDone.Load() {
			return nil
		}
		return err
	})
	// The Reducer waits on the caller's context so it can drain the buffer
	// after the Acquirer fails; it wakes up through buf.Close. Once it has
	// seen the final stack nothing would take another, so the Acquirer is
	// stopped.
	g.Go(func() error {
		err := red.Run(ctx)
		reducerDone.Store(true)
		stopAcq()
		return err
	})
	err = g.Wait()

	stats := Stats{
		Frames:       acq.Frames(),
		Drops:        acq.Drops(),
		Stacks:       acq.Stacks(),
		Records:      red.Records(),
		SinkFailures: red.SinkFailures(),
		Overruns:     buf.Overruns(),
	}
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		diagf("run interrupted: %s", stats)
		return stats, nil
	}
	if err != nil {
		opsf("run failed: %v (%s)", err, stats)
		return stats, err
	}
	diagf("run complete: %s", stats)
	return stats, nil
}

// closeSource releases a source that never reached the Acquirer.
func closeSource(src framesource.Source) {
	if src == nil {
		return
	}
	if err := src.Close(); err != nil {
		opsf("closing frame source: %v", err)
	}
}
