package framesource

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/skystack/internal/timeutil"
)

// SyntheticConfig describes a generated sky.
type SyntheticConfig struct {
	Width  int
	Height int
	Seed   int64

	// Background and Noise set the mean and standard deviation of the sky.
	Background float64
	Noise      float64

	// StreakBrightness is the value of the moving object; zero disables it.
	StreakBrightness byte
	// StreakSpeed is the object's motion in pixels per frame along each axis.
	StreakSpeed float64

	// DropEvery makes every n-th call return ErrFrameUnavailable.
	DropEvery int

	// FPS paces ReadFrame with Clock.Sleep; zero returns frames immediately.
	FPS   float64
	Clock timeutil.Clock
}

// SyntheticConfigFromOptions fills a SyntheticConfig from camera options,
// using the same keys for every source type where they make sense.
func SyntheticConfigFromOptions(width, height int, opts Options, clock timeutil.Clock) SyntheticConfig {
	return SyntheticConfig{
		Width:            width,
		Height:           height,
		Seed:             int64(opts.Get("seed", 1)),
		Background:       opts.Get("background", 30),
		Noise:            opts.Get("noise", 4),
		StreakBrightness: byte(opts.Get("streak", 220)),
		StreakSpeed:      opts.Get("streak_speed", 1.5),
		DropEvery:        int(opts.Get("drop_every", 0)),
		FPS:              opts.Get("fps", 0),
		Clock:            clock,
	}
}

// Synthetic generates noisy frames with a bright object drifting across the
// field. It is deterministic for a given seed.
type Synthetic struct {
	cfg   SyntheticConfig
	rng   *rand.Rand
	calls int
	frame int
	next  time.Time
}

// NewSynthetic returns a Synthetic source.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("synthetic source: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Synthetic{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Frames returns the number of frames produced so far.
func (s *Synthetic) Frames() int { return s.frame }

func (s *Synthetic) ReadFrame(dst []byte) (time.Time, error) {
	if err := checkFrame(dst, s.cfg.Width, s.cfg.Height); err != nil {
		return time.Time{}, err
	}
	s.pace()

	s.calls++
	if s.cfg.DropEvery > 0 && s.calls%s.cfg.DropEvery == 0 {
		return time.Time{}, fmt.Errorf("synthetic call %d: %w", s.calls, ErrFrameUnavailable)
	}

	for i := range dst {
		v := s.cfg.Background + s.rng.NormFloat64()*s.cfg.Noise
		dst[i] = byte(math.Max(0, math.Min(255, math.Round(v))))
	}
	if s.cfg.StreakBrightness > 0 {
		w, h := s.cfg.Width, s.cfg.Height
		d := float64(s.frame) * s.cfg.StreakSpeed
		x := int(d) % w
		y := int(d) % h
		dst[y*w+x] = s.cfg.StreakBrightness
	}
	s.frame++
	return s.cfg.Clock.Now(), nil
}

func (s *Synthetic) pace() {
	if s.cfg.FPS <= 0 {
		return
	}
	period := time.Duration(float64(time.Second) / s.cfg.FPS)
	now := s.cfg.Clock.Now()
	if s.next.IsZero() {
		s.next = now
	}
	if wait := s.next.Sub(now); wait > 0 {
		s.cfg.Clock.Sleep(wait)
	}
	s.next = s.next.Add(period)
}

func (s *Synthetic) Close() error { return nil }
