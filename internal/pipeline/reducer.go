package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/skystack/internal/config"
	"github.com/banshee-data/skystack/internal/reduce"
	"github.com/banshee-data/skystack/internal/stack"
	"github.com/banshee-data/skystack/internal/timeutil"
)

// RecordSink receives every finished summary record. A failed write loses
// that record but does not stop the Reducer.
type RecordSink interface {
	WriteRecord(rec *reduce.SummaryRecord) error
}

// RecordSinkFunc adapts a function to RecordSink.
type RecordSinkFunc func(rec *reduce.SummaryRecord) error

func (f RecordSinkFunc) WriteRecord(rec *reduce.SummaryRecord) error { return f(rec) }

// ReducerConfig holds the dependencies of a Reducer.
type ReducerConfig struct {
	Buffer *stack.DoubleBuffer
	Sink   RecordSink

	// EndTime stops the Reducer after the first stack whose last frame was
	// captured after it.
	EndTime time.Time

	// Workers bounds the goroutines used per reduction; zero uses
	// GOMAXPROCS.
	Workers int
}

// Reducer turns completed stacks into summary records.
type Reducer struct {
	cfg ReducerConfig

	records      atomic.Uint64
	sinkFailures atomic.Uint64
	lastOverruns uint64
}

// NewReducer checks cfg and returns a Reducer. A buffer shallower than
// config.MinFramesPerStack is a configuration error.
func NewReducer(cfg ReducerConfig) (*Reducer, error) {
	if cfg.Buffer == nil {
		return nil, fmt.Errorf("reducer: nil buffer")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("reducer: nil sink")
	}
	if d := cfg.Buffer.Depth(); d < config.MinFramesPerStack {
		return nil, fmt.Errorf("reducer: %w: depth %d", config.ErrInvalidDepth, d)
	}
	return &Reducer{cfg: cfg}, nil
}

// Records returns the number of stacks reduced.
func (r *Reducer) Records() uint64 { return r.records.Load() }

// SinkFailures returns the number of records the sink rejected.
func (r *Reducer) SinkFailures() uint64 { return r.sinkFailures.Load() }

// Run reduces stacks until one ends after EndTime, the Acquirer closes the
// buffer with nothing left to take, or ctx is cancelled.
func (r *Reducer) Run(ctx context.Context) error {
	end := timeutil.UnixSeconds(r.cfg.EndTime)
	for {
		lease, err := r.cfg.Buffer.WaitAndTakeReady(ctx)
		if errors.Is(err, stack.ErrClosed) {
			if cause := r.cfg.Buffer.Err(); cause != nil {
				diagf("reducer stopping, acquisition ended: %v", cause)
			} else {
				diagf("reducer stopping, acquisition complete")
			}
			return nil
		}
		if err != nil {
			return err
		}

		start := time.Now()
		rec, err := reduce.Reduce(lease.Stack, r.cfg.Workers)
		lease.Release()
		if err != nil {
			return fmt.Errorf("reduce stack %d: %w", lease.Generation, err)
		}
		rec.Quality = reduce.Summarize(rec)
		r.records.Add(1)
		r.checkOverruns()

		q := rec.Quality
		diagf("stack %d reduced in %s: start %s, exposure %.3fs, sky %.1f, noise %.2f, peak %.0f, %d transient pixels",
			lease.Generation, time.Since(start).Round(time.Millisecond),
			rec.ObsStart.Format("2006-01-02T15:04:05.000"), rec.Exposure.Seconds(),
			q.SkyMedian, q.NoiseMedian, q.PeakMax, q.TransientPixels)

		if err := r.cfg.Sink.WriteRecord(rec); err != nil {
			r.sinkFailures.Add(1)
			opsf("record for stack %d lost: %v", lease.Generation, err)
		}

		if rec.LastTimestamp() > end {
			diagf("reducer finished after %d records", r.Records())
			return nil
		}
	}
}

func (r *Reducer) checkOverruns() {
	n := r.cfg.Buffer.Overruns()
	if n > r.lastOverruns {
		opsf("reducer fell behind: acquirer has waited %d times (+%d)", n, n-r.lastOverruns)
		r.lastOverruns = n
	}
}
