//go:build !opencv

package opencv

import (
	"time"

	"github.com/banshee-data/skystack/internal/framesource"
)

// Available reports whether this build can open OpenCV devices.
const Available = false

// Camera is unavailable in this build.
type Camera struct{}

// Open always fails with ErrNotBuilt.
func Open(device int, width, height int, opts framesource.Options) (*Camera, error) {
	return nil, ErrNotBuilt
}

func (*Camera) ReadFrame(dst []byte) (time.Time, error) { return time.Time{}, ErrNotBuilt }
func (*Camera) Close() error                            { return nil }

// Preview is unavailable in this build.
type Preview struct {
	framesource.Source
}

// NewPreview always fails with ErrNotBuilt.
func NewPreview(src framesource.Source, width, height int, scale float64) (*Preview, error) {
	return nil, ErrNotBuilt
}
