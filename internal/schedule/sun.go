// Package schedule decides when an acquisition run starts and ends from the
// observer's location and the altitude of the Sun.
package schedule

import (
	"errors"
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/globe"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/rise"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/meeus/v3/solar"
	"github.com/soniakeys/unit"
)

// Location is an observer site on the Earth.
type Location struct {
	Lat float64 // degrees north
	Lon float64 // degrees east
	El  float64 // metres; not used for the Sun
}

// meeusCoord returns loc in Meeus' convention, longitude positive westward.
func (loc Location) meeusCoord() globe.Coord {
	return globe.Coord{Lat: unit.AngleFromDeg(loc.Lat), Lon: unit.AngleFromDeg(-loc.Lon)}
}

// SolarAltitude returns the altitude of the Sun's centre in degrees as seen
// from loc at t. Refraction is not applied. UT is used in place of TT; the
// Sun moves less than a second of arc in the difference.
func SolarAltitude(t time.Time, loc Location) float64 {
	jd := julian.TimeToJD(t.UTC())
	ra, dec := solar.ApparentEquatorial(jd)
	g := loc.meeusCoord()
	hz := new(coord.Horizontal).EqToHz(&coord.Equatorial{RA: ra, Dec: dec}, &g, sidereal.Apparent(jd))
	return hz.Alt.Deg()
}

// State classifies the Sun's motion over the next day.
type State int

const (
	// Normal means the Sun crosses the reference altitudes.
	Normal State = iota
	// AlwaysLight means the Sun stays above the sunset altitude.
	AlwaysLight
	// AlwaysDark means the Sun stays below the sunrise altitude.
	AlwaysDark
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case AlwaysLight:
		return "sun never sets"
	case AlwaysDark:
		return "sun never rises"
	}
	return "unknown"
}

const (
	searchWindow = 24 * time.Hour
	// refineSpan brackets the approximate time of a crossing on each side.
	refineSpan = 30 * time.Minute
	searchTol  = time.Second
)

// SunsetSunrise finds the first time in the day after now that the Sun sinks
// below altSet and the first time it climbs above altRise. For a Normal
// state a crossing that does not happen inside the window is reported as
// the end of the window.
func SunsetSunrise(now time.Time, loc Location, altSet, altRise float64) (State, time.Time, time.Time) {
	end := now.Add(searchWindow)
	tset, okSet := nextCrossing(now, loc, altSet, false)
	trise, okRise := nextCrossing(now, loc, altRise, true)

	switch {
	case !okSet && SolarAltitude(now, loc) >= altSet:
		return AlwaysLight, now, now
	case !okRise && SolarAltitude(now, loc) < altRise:
		return AlwaysDark, now, now
	}
	if !okSet {
		tset = end
	}
	if !okRise {
		trise = end
	}
	return Normal, tset, trise
}

// nextCrossing returns the first time after now, within searchWindow, that
// the Sun rises above (rising) or sets below h0 degrees. Meeus' approximate
// rise and set times are computed for the UT days around now and each one
// is refined by bisection on SolarAltitude.
func nextCrossing(now time.Time, loc Location, h0 float64, rising bool) (time.Time, bool) {
	u := now.UTC()
	today := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	end := now.Add(searchWindow)

	var best time.Time
	found := false
	for d := -1; d <= 1; d++ {
		midnight := today.AddDate(0, 0, d)
		approx, err := approxCrossing(midnight, loc, h0, rising)
		if errors.Is(err, rise.ErrorCircumpolar) {
			continue
		}
		t := refine(approx, loc, h0, rising)
		if !t.After(now) || t.After(end) {
			continue
		}
		if !found || t.Before(best) {
			best, found = t, true
		}
	}
	return best, found
}

func approxCrossing(midnight time.Time, loc Location, h0 float64, rising bool) (time.Time, error) {
	jd := julian.TimeToJD(midnight)
	ra, dec := solar.ApparentEquatorial(jd)
	tRise, _, tSet, err := rise.ApproxTimes(loc.meeusCoord(), unit.AngleFromDeg(h0), sidereal.Apparent0UT(jd), ra, dec)
	if err != nil {
		return time.Time{}, err
	}
	sec := tSet.Sec()
	if rising {
		sec = tRise.Sec()
	}
	sec = math.Mod(sec, 86400)
	if sec < 0 {
		sec += 86400
	}
	return midnight.Add(time.Duration(sec * float64(time.Second))), nil
}

// refine bisects around an approximate crossing. If the bracket does not
// contain the crossing the approximation is returned unchanged.
func refine(approx time.Time, loc Location, h0 float64, rising bool) time.Time {
	crossed := func(t time.Time) bool {
		if rising {
			return SolarAltitude(t, loc) >= h0
		}
		return SolarAltitude(t, loc) < h0
	}
	lo, hi := approx.Add(-refineSpan), approx.Add(refineSpan)
	if crossed(lo) || !crossed(hi) {
		return approx
	}
	return bisect(lo, hi, crossed)
}

// bisect narrows [lo, hi] to the first instant where crossed holds, given
// that it is false at lo and true at hi.
func bisect(lo, hi time.Time, crossed func(time.Time) bool) time.Time {
	for hi.Sub(lo) > searchTol {
		mid := lo.Add(hi.Sub(lo) / 2)
		if crossed(mid) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi
}
