package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/skystack/internal/db"
	"github.com/banshee-data/skystack/internal/reduce"
	"github.com/banshee-data/skystack/internal/timeutil"
)

// RecordStore persists index rows. *db.DB implements it.
type RecordStore interface {
	InsertRecord(ctx context.Context, r *db.Record) error
}

// Index adds a row per record to the observation index.
type Index struct {
	Store   RecordStore
	RunID   string
	Timeout time.Duration
}

// NewIndex returns an Index for the given run.
func NewIndex(store RecordStore, runID string) *Index {
	return &Index{Store: store, RunID: runID, Timeout: 5 * time.Second}
}

func (x *Index) WriteRecord(rec *reduce.SummaryRecord) error {
	ctx := context.Background()
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}
	row := &db.Record{
		RunID:           x.RunID,
		FileName:        FileName(rec),
		DateObs:         DateObs(rec),
		MJDObs:          timeutil.ModifiedJulianDate(rec.ObsStart),
		ExpTime:         rec.Exposure.Seconds(),
		NFrames:         rec.Depth,
		SkyMedian:       rec.Quality.SkyMedian,
		NoiseMedian:     rec.Quality.NoiseMedian,
		PeakMax:         rec.Quality.PeakMax,
		TransientPixels: rec.Quality.TransientPixels,
	}
	if err := x.Store.InsertRecord(ctx, row); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	return nil
}
