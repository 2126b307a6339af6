package db

import (
	"context"
	"fmt"
)

// Record indexes one summary file written during a run.
type Record struct {
	ID              int64
	RunID           string
	FileName        string
	DateObs         string
	MJDObs          float64
	ExpTime         float64
	NFrames         int
	SkyMedian       float64
	NoiseMedian     float64
	PeakMax         float64
	TransientPixels int
}

// InsertRecord adds r to the index and sets r.ID.
func (db *DB) InsertRecord(ctx context.Context, r *Record) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO records (run_id, file_name, date_obs, mjd_obs, exptime, nframes,
			sky_median, noise_median, peak_max, transient_pixels)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.FileName, r.DateObs, r.MJDObs, r.ExpTime, r.NFrames,
		r.SkyMedian, r.NoiseMedian, r.PeakMax, r.TransientPixels)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert record id: %w", err)
	}
	r.ID = id
	return nil
}

// Records returns the records of a run in observation order.
func (db *DB) Records(ctx context.Context, runID string) ([]Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT record_id, run_id, file_name, date_obs, mjd_obs, exptime, nframes,
			sky_median, noise_median, peak_max, transient_pixels
		FROM records WHERE run_id = ? ORDER BY mjd_obs, record_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.RunID, &r.FileName, &r.DateObs, &r.MJDObs, &r.ExpTime, &r.NFrames,
			&r.SkyMedian, &r.NoiseMedian, &r.PeakMax, &r.TransientPixels); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
