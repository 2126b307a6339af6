// Package framesource defines where frames come from. A Source fills a
// caller-owned byte slice with one 8-bit grayscale frame per call.
package framesource

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrFrameUnavailable reports a frame that could not be produced this time
// but may be on the next call. Sources wrap it for dropped or incomplete
// frames; any other error is treated as a permanent failure.
var ErrFrameUnavailable = errors.New("frame unavailable")

// Source yields grayscale frames of a fixed size.
type Source interface {
	// ReadFrame writes one width×height frame into dst, row-major. The
	// returned time is the source's own capture time, or the zero Time when
	// the source has none.
	ReadFrame(dst []byte) (time.Time, error)
	Close() error
}

// Options carries device-specific numeric controls (gain, exposure, fps,
// binning and so on). Keys are case-insensitive.
type Options map[string]float64

// Get returns the value of key, or def when it is not set.
func (o Options) Get(key string, def float64) float64 {
	for k, v := range o {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return def
}

// Has reports whether key is set.
func (o Options) Has(key string) bool {
	for k := range o {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// Keys returns the option names in sorted order.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// checkFrame verifies dst can hold a width×height frame.
func checkFrame(dst []byte, width, height int) error {
	if len(dst) != width*height {
		return fmt.Errorf("frame buffer holds %d bytes, want %dx%d=%d", len(dst), width, height, width*height)
	}
	return nil
}

// Func adapts a function to the Source interface. Close is a no-op.
type Func func(dst []byte) (time.Time, error)

func (f Func) ReadFrame(dst []byte) (time.Time, error) { return f(dst) }
func (f Func) Close() error                            { return nil }
