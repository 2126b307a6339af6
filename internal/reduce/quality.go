package reduce

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TransientSigma is the threshold, in trimmed standard deviations above the
// trimmed mean, at which a pixel's maximum counts as a transient.
const TransientSigma = 5.0

// Quality summarises a record for logging and the observation index.
type Quality struct {
	SkyMedian       float64 // median of the mean plane
	NoiseMedian     float64 // median of the stdev plane
	PeakMax         float64 // largest value of the max plane
	TransientPixels int     // pixels with max > mean + TransientSigma*stdev
}

// Summarize computes the Quality of rec.
func Summarize(rec *SummaryRecord) Quality {
	if len(rec.Max) == 0 {
		return Quality{}
	}
	q := Quality{
		SkyMedian:   median(rec.Mean),
		NoiseMedian: median(rec.StdDev),
	}

	peaks := make([]float64, len(rec.Max))
	for i, v := range rec.Max {
		peaks[i] = float64(v)
		if v-rec.Mean[i] > TransientSigma*rec.StdDev[i] {
			q.TransientPixels++
		}
	}
	q.PeakMax = floats.Max(peaks)
	return q
}

func median(plane []float32) float64 {
	x := make([]float64, len(plane))
	for i, v := range plane {
		x[i] = float64(v)
	}
	sort.Float64s(x)
	return stat.Quantile(0.5, stat.Empirical, x, nil)
}
