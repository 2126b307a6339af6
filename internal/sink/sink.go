// Package sink writes summary records out of the pipeline: FITS files, PNG
// quicklooks and rows in the observation index.
package sink

import (
	"errors"
	"fmt"

	"github.com/banshee-data/skystack/internal/reduce"
)

// DateObsLayout formats the observation start of a record, UTC to the
// millisecond. It names output files and fills the DATE-OBS card.
const DateObsLayout = "2006-01-02T15:04:05.000"

// Sink accepts finished summary records.
type Sink interface {
	WriteRecord(rec *reduce.SummaryRecord) error
}

// DateObs returns the formatted observation start of rec.
func DateObs(rec *reduce.SummaryRecord) string {
	return rec.ObsStart.UTC().Format(DateObsLayout)
}

// FileName returns the FITS file name of rec.
func FileName(rec *reduce.SummaryRecord) string {
	return DateObs(rec) + ".fits"
}

// Observer identifies the station in file headers.
type Observer struct {
	Name   string
	COSPAR int
}

// MultiSink writes each record to every member in order. A failing member
// does not stop the others; the failures are joined.
type MultiSink []Sink

func (m MultiSink) WriteRecord(rec *reduce.SummaryRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteRecord(rec); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", DateObs(rec), errors.Join(errs...))
	}
	return nil
}
