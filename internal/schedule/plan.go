package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/skystack/internal/monitoring"
	"github.com/banshee-data/skystack/internal/timeutil"
)

// ErrNoNight is returned when the Sun stays above the sunset altitude for
// the whole of the next day.
var ErrNoNight = errors.New("the sun does not set in the next 24 hours")

// DefaultTestDuration is the length of a test-mode run.
const DefaultTestDuration = 31 * time.Minute

// Params are the scheduling settings of the acquisition config.
type Params struct {
	AltSunset    float64 // degrees
	AltSunrise   float64 // degrees
	TestDuration time.Duration
}

// Plan is the start and end of one acquisition run.
type Plan struct {
	Start time.Time
	End   time.Time
	State State
	Test  bool
}

// NewPlan decides the run window starting from now. In test mode the run
// starts immediately and lasts p.TestDuration. Otherwise a run that begins
// while the Sun is already down starts now, and one that begins in daylight
// waits for sunset; both end at the next sunrise.
func NewPlan(now time.Time, loc Location, p Params, testing bool) (Plan, error) {
	if testing {
		d := p.TestDuration
		if d <= 0 {
			d = DefaultTestDuration
		}
		return Plan{Start: now, End: now.Add(d), State: Normal, Test: true}, nil
	}

	state, tset, trise := SunsetSunrise(now, loc, p.AltSunset, p.AltSunrise)
	switch state {
	case AlwaysLight:
		return Plan{State: state}, ErrNoNight
	case AlwaysDark:
		monitoring.Logf("The sun never rises; acquiring for 24 hours.")
		return Plan{Start: now, End: now.Add(searchWindow), State: state}, nil
	}

	if trise.Before(tset) {
		monitoring.Logf("The sun is below the horizon.")
		return Plan{Start: now, End: trise, State: state}, nil
	}
	monitoring.Logf("The sun is above the horizon. Sunset at %s.", tset.UTC().Format(time.RFC3339))
	return Plan{Start: tset, End: trise, State: state}, nil
}

// Duration is the length of the acquisition window.
func (p Plan) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

func (p Plan) String() string {
	return fmt.Sprintf("%s to %s (%s)", p.Start.UTC().Format(time.RFC3339), p.End.UTC().Format(time.RFC3339), p.State)
}

// Wait blocks until the plan's start time. It returns ctx.Err() if ctx is
// cancelled first.
func (p Plan) Wait(ctx context.Context, clock timeutil.Clock) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := p.Start.Sub(clock.Now())
	if d <= 0 {
		return nil
	}
	monitoring.Logf("Waiting %.0f seconds.", d.Seconds())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
