package sink

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/astrogo/fitsio"

	"github.com/banshee-data/skystack/internal/fsutil"
	"github.com/banshee-data/skystack/internal/monitoring"
	"github.com/banshee-data/skystack/internal/reduce"
	"github.com/banshee-data/skystack/internal/timeutil"
)

// Plane order along the third FITS axis.
const (
	PlaneMean = iota
	PlaneStdDev
	PlaneMax
	PlaneArgMax
	planeCount
)

// dummyCards is the number of zero-valued DUMYnnn cards reserved in every
// header for downstream tools that rewrite it in place.
const dummyCards = 10

// FITSWriter writes each record as a single-HDU FITS file named after its
// observation start.
type FITSWriter struct {
	FS       fsutil.FileSystem
	Dir      string
	Observer Observer
}

// NewFITSWriter returns a FITSWriter that writes into dir.
func NewFITSWriter(fs fsutil.FileSystem, dir string, observer Observer) *FITSWriter {
	return &FITSWriter{FS: fs, Dir: dir, Observer: observer}
}

// WriteRecord encodes rec and writes it to Dir. An existing file is never
// overwritten.
func (w *FITSWriter) WriteRecord(rec *reduce.SummaryRecord) error {
	path := filepath.Join(w.Dir, FileName(rec))
	if w.FS.Exists(path) {
		return fmt.Errorf("fits: %s already exists", path)
	}

	var buf bytes.Buffer
	if err := EncodeFITS(&buf, rec, w.Observer); err != nil {
		return err
	}

	f, err := w.FS.Create(path)
	if err != nil {
		return fmt.Errorf("fits: create %s: %w", path, err)
	}
	if _, err := buf.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("fits: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("fits: close %s: %w", path, err)
	}
	monitoring.Logf("fits: wrote %s", path)
	return nil
}

// EncodeFITS writes rec to out as a primary image of 32-bit floats with axes
// (width, height, 4). The planes are mean, standard deviation, maximum and
// arg-max, in that order.
func EncodeFITS(out io.Writer, rec *reduce.SummaryRecord, obs Observer) error {
	f, err := fitsio.Create(out)
	if err != nil {
		return fmt.Errorf("fits: create: %w", err)
	}
	defer f.Close()

	img := fitsio.NewImage(-32, []int{rec.Width, rec.Height, planeCount})
	defer img.Close()

	if err := img.Header().Append(headerCards(rec, obs)...); err != nil {
		return fmt.Errorf("fits: header: %w", err)
	}

	n := rec.Width * rec.Height
	data := make([]float32, 0, n*planeCount)
	data = append(data, rec.Mean...)
	data = append(data, rec.StdDev...)
	data = append(data, rec.Max...)
	data = append(data, rec.ArgMax...)
	if len(data) != n*planeCount {
		return fmt.Errorf("fits: record planes hold %d samples, want %d", len(data), n*planeCount)
	}

	if err := img.Write(data); err != nil {
		return fmt.Errorf("fits: image data: %w", err)
	}
	if err := f.Write(img); err != nil {
		return fmt.Errorf("fits: write HDU: %w", err)
	}
	return nil
}

func headerCards(rec *reduce.SummaryRecord, obs Observer) []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "DATE-OBS", Value: DateObs(rec), Comment: "start of first frame (UTC)"},
		{Name: "MJD-OBS", Value: timeutil.ModifiedJulianDate(rec.ObsStart), Comment: "modified Julian date of DATE-OBS"},
		{Name: "EXPTIME", Value: rec.Exposure.Seconds(), Comment: "[s] first to last frame"},
		{Name: "NFRAMES", Value: rec.Depth, Comment: "frames in stack"},
		{Name: "CRPIX1", Value: float64(rec.Width) / 2},
		{Name: "CRPIX2", Value: float64(rec.Height) / 2},
		{Name: "CRVAL1", Value: 0.0},
		{Name: "CRVAL2", Value: 0.0},
		{Name: "CD1_1", Value: 1.0 / 3600.0},
		{Name: "CD1_2", Value: 0.0},
		{Name: "CD2_1", Value: 0.0},
		{Name: "CD2_2", Value: 1.0 / 3600.0},
		{Name: "CTYPE1", Value: "RA---TAN"},
		{Name: "CTYPE2", Value: "DEC--TAN"},
		{Name: "CUNIT1", Value: "deg"},
		{Name: "CUNIT2", Value: "deg"},
		{Name: "CRRES1", Value: 0.0},
		{Name: "CRRES2", Value: 0.0},
		{Name: "EQUINOX", Value: 2000.0},
		{Name: "RADECSYS", Value: "ICRS"},
		{Name: "COSPAR", Value: obs.COSPAR, Comment: "station code"},
		{Name: "OBSERVER", Value: obs.Name},
	}
	for i, dt := range rec.Offsets() {
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf("DT%04d", i), Value: dt})
	}
	for i := 0; i < dummyCards; i++ {
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf("DUMY%03d", i), Value: 0.0})
	}
	return cards
}
