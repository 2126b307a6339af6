package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/skystack/internal/config"
	"github.com/banshee-data/skystack/internal/framesource"
	"github.com/banshee-data/skystack/internal/reduce"
	"github.com/banshee-data/skystack/internal/stack"
	"github.com/banshee-data/skystack/internal/timeutil"
)

var runStart = time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

// clockedSource advances a mock clock by step on every read, so midpoint
// timestamps land at step/2 into each read.
type clockedSource struct {
	framesource.Source
	clock *timeutil.MockClock
	step  time.Duration
}

func (s clockedSource) ReadFrame(dst []byte) (time.Time, error) {
	s.clock.Advance(s.step)
	return s.Source.ReadFrame(dst)
}

type recordingSink struct {
	mu      sync.Mutex
	records []*reduce.SummaryRecord
	calls   int
	fail    func(call int) error
	onWrite func(rec *reduce.SummaryRecord)
}

func (s *recordingSink) WriteRecord(rec *reduce.SummaryRecord) error {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()

	if s.onWrite != nil {
		s.onWrite(rec)
	}
	if s.fail != nil {
		if err := s.fail(call); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Records() []*reduce.SummaryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*reduce.SummaryRecord(nil), s.records...)
}

// seriesSource returns frames whose value cycles through series.
func seriesSource(w, h int, series []byte) *framesource.Scripted {
	return &framesource.Scripted{
		Width:  w,
		Height: h,
		Then: func(call int, dst []byte) (time.Time, error) {
			v := series[call%len(series)]
			for i := range dst {
				dst[i] = v
			}
			return time.Time{}, nil
		},
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func baseConfig(src framesource.Source, sink RecordSink, clock timeutil.Clock) Config {
	return Config{
		Source:       src,
		Sink:         sink,
		Width:        2,
		Height:       2,
		Depth:        5,
		PollInterval: time.Millisecond,
		Clock:        clock,
	}
}

func TestRunEndToEnd(t *testing.T) {
	clock := timeutil.NewMockClock(runStart)
	scripted := seriesSource(2, 2, []byte{10, 20, 15, 5, 255})
	sink := &recordingSink{}

	cfg := baseConfig(clockedSource{scripted, clock, 40 * time.Millisecond}, sink, clock)
	cfg.EndTime = runStart.Add(300 * time.Millisecond)

	stats, err := Run(testContext(t), cfg)
	require.NoError(t, err)

	records := sink.Records()
	require.Len(t, records, 2, "two stacks fit before the end time")
	if diff := cmp.Diff(Stats{Frames: 10, Stacks: 2, Records: 2}, stats, cmpopts.IgnoreFields(Stats{}, "Overruns")); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, scripted.Closed())

	wantStd := float32(math.Sqrt(125.0 / 3.0))
	for n, rec := range records {
		assert.Equal(t, 5, rec.Depth)
		for i := 0; i < 4; i++ {
			assert.Equal(t, float32(255), rec.Max[i], "record %d pixel %d", n, i)
			assert.Equal(t, float32(4), rec.ArgMax[i], "record %d pixel %d", n, i)
			assert.Equal(t, float32(12.5), rec.Mean[i], "record %d pixel %d", n, i)
			assert.InDelta(t, wantStd, rec.StdDev[i], 1e-6, "record %d pixel %d", n, i)
		}
		assert.InDelta(t, 0.16, rec.Exposure.Seconds(), 1e-6)
	}

	// Midpoint timestamps: each read spans 40ms.
	base := timeutil.UnixSeconds(runStart)
	assert.InDelta(t, base+0.020, records[0].Timestamps[0], 1e-6)
	assert.InDelta(t, base+0.180, records[0].LastTimestamp(), 1e-6)
	assert.InDelta(t, base+0.220, records[1].Timestamps[0], 1e-6)
	assert.InDelta(t, base+0.380, records[1].LastTimestamp(), 1e-6)
}

func TestRunRejectsShallowDepth(t *testing.T) {
	scripted := seriesSource(2, 2, []byte{1})
	cfg := baseConfig(scripted, &recordingSink{}, timeutil.NewMockClock(runStart))
	cfg.Depth = 2
	cfg.EndTime = runStart.Add(time.Hour)

	_, err := Run(testContext(t), cfg)
	require.ErrorIs(t, err, config.ErrInvalidDepth)
	assert.Zero(t, scripted.Calls(), "no frame may be read before the configuration is accepted")
	assert.True(t, scripted.Closed())
}

func TestRunRejectsBadDimensions(t *testing.T) {
	cfg := baseConfig(seriesSource(2, 2, []byte{1}), &recordingSink{}, timeutil.NewMockClock(runStart))
	cfg.Width = 0
	_, err := Run(testContext(t), cfg)
	assert.ErrorIs(t, err, config.ErrInvalidDimensions)
}

func TestNewReducerRejectsShallowBuffer(t *testing.T) {
	buf, err := stack.Allocate(2, 2, 2)
	require.NoError(t, err)
	_, err = NewReducer(ReducerConfig{Buffer: buf, Sink: &recordingSink{}})
	assert.ErrorIs(t, err, config.ErrInvalidDepth)
}

func TestRunRetriesUnavailableFrameAtSameIndex(t *testing.T) {
	clock := timeutil.NewMockClock(runStart)
	scripted := &framesource.Scripted{
		Width:  2,
		Height: 2,
		Steps: []framesource.Step{
			{Value: 1},
			{Err: framesource.ErrFrameUnavailable},
			{Value: 2},
			{Value: 3},
		},
	}
	sink := &recordingSink{}
	cfg := baseConfig(clockedSource{scripted, clock, 10 * time.Millisecond}, sink, clock)
	cfg.Depth = 3
	cfg.EndTime = runStart.Add(25 * time.Millisecond)

	stats, err := Run(testContext(t), cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.Frames)
	assert.Equal(t, uint64(1), stats.Drops)
	assert.Equal(t, uint64(1), stats.Stacks)

	records := sink.Records()
	require.Len(t, records, 1)
	rec := records[0]
	for i := 0; i < 4; i++ {
		assert.Equal(t, float32(3), rec.Max[i])
		assert.Equal(t, float32(2), rec.ArgMax[i], "the retried frame keeps its index")
		assert.Equal(t, float32(1.5), rec.Mean[i])
		assert.InDelta(t, math.Sqrt(0.5), rec.StdDev[i], 1e-6)
	}
	base := timeutil.UnixSeconds(runStart)
	require.Len(t, rec.Timestamps, 3)
	assert.InDelta(t, base+0.005, rec.Timestamps[0], 1e-6)
	assert.InDelta(t, base+0.025, rec.Timestamps[1], 1e-6)
	assert.InDelta(t, base+0.035, rec.Timestamps[2], 1e-6)
}

func TestRunSurfacesPersistentSourceFailure(t *testing.T) {
	scripted := &framesource.Scripted{
		Width:  2,
		Height: 2,
		Steps: []framesource.Step{
			{Value: 1}, {Value: 2}, {Value: 3}, // one complete stack
			{Value: 4},
			{Err: errors.New("usb disconnected")},
		},
	}
	sink := &recordingSink{}
	cfg := baseConfig(scripted, sink, timeutil.NewMockClock(runStart))
	cfg.Depth = 3
	cfg.EndTime = runStart.Add(time.Hour)

	stats, err := Run(testContext(t), cfg)
	require.ErrorIs(t, err, ErrSourceFailed)
	assert.ErrorContains(t, err, "usb disconnected")
	assert.True(t, scripted.Closed())

	// The completed stack is still reduced; the partial one is not.
	assert.Len(t, sink.Records(), 1)
	assert.Equal(t, uint64(1), stats.Stacks)
	assert.Equal(t, uint64(1), stats.Records)
}

func TestRunTooManyConsecutiveDrops(t *testing.T) {
	scripted := &framesource.Scripted{
		Width:  2,
		Height: 2,
		Then: func(int, []byte) (time.Time, error) {
			return time.Time{}, framesource.ErrFrameUnavailable
		},
	}
	cfg := baseConfig(scripted, &recordingSink{}, timeutil.NewMockClock(runStart))
	cfg.Depth = 3
	cfg.EndTime = runStart.Add(time.Hour)
	cfg.MaxConsecutiveDrops = 3

	stats, err := Run(testContext(t), cfg)
	require.ErrorIs(t, err, ErrSourceFailed)
	assert.Equal(t, 4, scripted.Calls())
	assert.Equal(t, uint64(4), stats.Drops)
	assert.Zero(t, stats.Records)
}

func TestRunSinkFailureIsNotFatal(t *testing.T) {
	clock := timeutil.NewMockClock(runStart)
	scripted := seriesSource(2, 2, []byte{10, 20, 15, 5, 255})
	sink := &recordingSink{fail: func(call int) error {
		if call == 0 {
			return errors.New("disk full")
		}
		return nil
	}}
	cfg := baseConfig(clockedSource{scripted, clock, 40 * time.Millisecond}, sink, clock)
	cfg.EndTime = runStart.Add(300 * time.Millisecond)

	stats, err := Run(testContext(t), cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Records)
	assert.Equal(t, uint64(1), stats.SinkFailures)
	require.Len(t, sink.Records(), 1, "only the second record was accepted")
	assert.InDelta(t, timeutil.UnixSeconds(runStart)+0.220, sink.Records()[0].Timestamps[0], 1e-6)
}

func TestRunCancellationIsCleanStop(t *testing.T) {
	clock := timeutil.NewMockClock(runStart)
	scripted := seriesSource(2, 2, []byte{3, 1, 4, 1, 5, 9, 2})

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	sink := &recordingSink{onWrite: func(*reduce.SummaryRecord) { cancel() }}

	cfg := baseConfig(clockedSource{scripted, clock, time.Millisecond}, sink, clock)
	cfg.EndTime = runStart.Add(24 * time.Hour)

	stats, err := Run(ctx, cfg)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Records, uint64(1))
	assert.Equal(t, stats.Records, uint64(len(sink.Records())))
	assert.True(t, scripted.Closed())
}

func TestRunStopsAcquirerAfterFinalStack(t *testing.T) {
	clock := timeutil.NewMockClock(runStart)
	future := runStart.Add(48 * time.Hour)
	scripted := &framesource.Scripted{
		Width:  2,
		Height: 2,
		Then: func(call int, dst []byte) (time.Time, error) {
			dst[0] = byte(call)
			return future.Add(time.Duration(call) * time.Millisecond), nil
		},
	}
	sink := &recordingSink{}
	cfg := baseConfig(clockedSource{scripted, clock, time.Millisecond}, sink, clock)
	cfg.Depth = 3
	cfg.EndTime = runStart.Add(time.Hour)
	cfg.TimestampMode = config.TimestampSource

	// Source timestamps are past the end time while the clock is not, so
	// the Reducer finishes first and the Acquirer must be told to stop.
	_, err := Run(testContext(t), cfg)
	require.NoError(t, err)
	require.Len(t, sink.Records(), 1)
	assert.InDelta(t, timeutil.UnixSeconds(future), sink.Records()[0].Timestamps[0], 1e-6)
	assert.True(t, scripted.Closed())
}

func TestAcquirerStopsAtEndTimeWithoutStacks(t *testing.T) {
	buf, err := stack.Allocate(2, 2, 3)
	require.NoError(t, err)
	scripted := seriesSource(2, 2, []byte{1})
	acq, err := NewAcquirer(AcquirerConfig{
		Source:  scripted,
		Buffer:  buf,
		EndTime: runStart,
		Clock:   timeutil.NewMockClock(runStart),
	})
	require.NoError(t, err)

	require.NoError(t, acq.Run(testContext(t)))
	assert.Zero(t, scripted.Calls())
	assert.True(t, buf.Closed())
	assert.NoError(t, buf.Err())

	_, err = buf.WaitAndTakeReady(testContext(t))
	assert.ErrorIs(t, err, stack.ErrClosed)
}

func TestNewAcquirerValidation(t *testing.T) {
	buf, err := stack.Allocate(2, 2, 3)
	require.NoError(t, err)
	src := seriesSource(2, 2, []byte{1})

	_, err = NewAcquirer(AcquirerConfig{Buffer: buf})
	assert.Error(t, err)
	_, err = NewAcquirer(AcquirerConfig{Source: src})
	assert.Error(t, err)
	_, err = NewAcquirer(AcquirerConfig{Source: src, Buffer: buf, TimestampMode: "exposure-start"})
	assert.Error(t, err)

	acq, err := NewAcquirer(AcquirerConfig{Source: src, Buffer: buf})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxConsecutiveDrops, acq.cfg.MaxConsecutiveDrops)
	assert.Equal(t, config.TimestampMidpoint, acq.cfg.TimestampMode)
}

func TestStatsString(t *testing.T) {
	s := Stats{Frames: 500, Drops: 2, Stacks: 2, Records: 2, SinkFailures: 1, Overruns: 3}
	assert.Equal(t, "2 stacks, 2 records (1 lost), 500 frames, 2 dropped, 3 overruns", s.String())
}
