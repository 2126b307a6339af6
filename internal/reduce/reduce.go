// Package reduce turns a completed FrameStack into a SummaryRecord: four
// per-pixel planes (maximum, arg-max index, mean and standard deviation of
// the samples that remain once the maximum is excluded) plus the timing of
// the stack.
package reduce

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/skystack/internal/stack"
	"github.com/banshee-data/skystack/internal/timeutil"
)

// ErrStackTooShallow is returned for stacks with fewer than three frames,
// for which the trimmed standard deviation is undefined.
var ErrStackTooShallow = errors.New("stack depth must be at least 3")

// SummaryRecord is the reduction of one FrameStack. Planes are Height rows of
// Width samples, row-major, with row order mirrored relative to the source
// frames (row 0 of a plane is the last row of a frame).
type SummaryRecord struct {
	Width  int
	Height int
	Depth  int

	Max    []float32
	ArgMax []float32
	Mean   []float32
	StdDev []float32

	// Timestamps are the capture times of the source frames, fractional Unix
	// seconds, in frame order.
	Timestamps []float64

	// ObsStart is the first timestamp truncated to the millisecond.
	ObsStart time.Time
	// Exposure is the elapsed time from the first to the last frame.
	Exposure time.Duration

	// Quality is filled in by the caller once the planes are complete.
	Quality Quality
}

// Offsets returns each timestamp relative to the first, in seconds.
func (r *SummaryRecord) Offsets() []float64 {
	dt := make([]float64, len(r.Timestamps))
	for i, t := range r.Timestamps {
		dt[i] = t - r.Timestamps[0]
	}
	return dt
}

// LastTimestamp returns the capture time of the final frame.
func (r *SummaryRecord) LastTimestamp() float64 {
	return r.Timestamps[len(r.Timestamps)-1]
}

// Reduce computes the summary planes of s. workers bounds the number of
// goroutines sharing the rows; values below 1 use GOMAXPROCS. The stack is
// only read.
func Reduce(s *stack.FrameStack, workers int) (*SummaryRecord, error) {
	if s.Depth < 3 {
		return nil, fmt.Errorf("%w: got %d", ErrStackTooShallow, s.Depth)
	}
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > s.Height {
		workers = s.Height
	}

	n := s.Width * s.Height
	rec := &SummaryRecord{
		Width:      s.Width,
		Height:     s.Height,
		Depth:      s.Depth,
		Max:        make([]float32, n),
		ArgMax:     make([]float32, n),
		Mean:       make([]float32, n),
		StdDev:     make([]float32, n),
		Timestamps: append([]float64(nil), s.Timestamps...),
	}

	var g errgroup.Group
	band := (s.Height + workers - 1) / workers
	for y0 := 0; y0 < s.Height; y0 += band {
		y0 := y0 // per-iteration copy; go 1.21 loop semantics share y0
		y1 := min(y0+band, s.Height)
		g.Go(func() error {
			reduceRows(s, rec, y0, y1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	first := s.First()
	rec.ObsStart = timeutil.FromUnixSeconds(first).Truncate(time.Millisecond)
	rec.Exposure = time.Duration(math.Round((s.Last() - first) * 1e9))
	return rec, nil
}

// reduceRows fills source rows [y0, y1) of rec. Source row y lands in plane
// row Height-1-y.
func reduceRows(s *stack.FrameStack, rec *SummaryRecord, y0, y1 int) {
	frame := s.FrameSize()
	trimmed := float64(s.Depth - 1)
	dof := float64(s.Depth - 2)

	for y := y0; y < y1; y++ {
		src := y * s.Width
		dst := (s.Height - 1 - y) * s.Width
		for x := 0; x < s.Width; x++ {
			var (
				maxV   float64 = -1
				argMax int
				sum1   float64
				sum2   float64
			)
			for z, i := 0, src+x; z < s.Depth; z, i = z+1, i+frame {
				v := float64(s.Pixels[i])
				sum1 += v
				sum2 += v * v
				// Strict comparison keeps the first occurrence on ties.
				if v > maxV {
					maxV = v
					argMax = z
				}
			}
			sum1 -= maxV
			sum2 -= maxV * maxV
			mean := sum1 / trimmed
			variance := (sum2 - sum1*mean) / dof
			if variance < 0 {
				variance = 0
			}

			o := dst + x
			rec.Max[o] = float32(maxV)
			rec.ArgMax[o] = float32(argMax)
			rec.Mean[o] = float32(mean)
			rec.StdDev[o] = float32(math.Sqrt(variance))
		}
	}
}
