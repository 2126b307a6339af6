//go:build opencv

package opencv

import (
	"fmt"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/skystack/internal/framesource"
	"github.com/banshee-data/skystack/internal/monitoring"
)

// captureProps maps option names to capture properties. Options that are not
// listed here are ignored by this source.
var captureProps = map[string]gocv.VideoCaptureProperties{
	"gain":       gocv.VideoCaptureGain,
	"exposure":   gocv.VideoCaptureExposure,
	"brightness": gocv.VideoCaptureBrightness,
	"contrast":   gocv.VideoCaptureContrast,
	"fps":        gocv.VideoCaptureFPS,
	"buffersize": gocv.VideoCaptureBufferSize,
}

// Available reports whether this build can open OpenCV devices.
const Available = true

// Camera is a framesource.Source backed by gocv.VideoCapture.
type Camera struct {
	cap    *gocv.VideoCapture
	width  int
	height int
	frame  gocv.Mat
	gray   gocv.Mat
}

// Open opens device and requests a width×height stream with the given
// options.
func Open(device int, width, height int, opts framesource.Options) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open video device %d: %w", device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open video device %d: not available", device)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	for _, k := range opts.Keys() {
		prop, ok := captureProps[strings.ToLower(k)]
		if !ok {
			monitoring.Logf("opencv: ignoring unsupported camera option %q", k)
			continue
		}
		vc.Set(prop, opts[k])
	}
	monitoring.Logf("opencv: device %d opened at %.0fx%.0f, %.1f fps",
		device, vc.Get(gocv.VideoCaptureFrameWidth), vc.Get(gocv.VideoCaptureFrameHeight), vc.Get(gocv.VideoCaptureFPS))

	return &Camera{
		cap:    vc,
		width:  width,
		height: height,
		frame:  gocv.NewMat(),
		gray:   gocv.NewMat(),
	}, nil
}

// ReadFrame grabs the next frame, converting colour frames to gray. A failed
// grab is reported as framesource.ErrFrameUnavailable; a frame of the wrong
// size is a permanent error.
func (c *Camera) ReadFrame(dst []byte) (time.Time, error) {
	if ok := c.cap.Read(&c.frame); !ok || c.frame.Empty() {
		return time.Time{}, fmt.Errorf("opencv read: %w", framesource.ErrFrameUnavailable)
	}
	if c.frame.Cols() != c.width || c.frame.Rows() != c.height {
		return time.Time{}, fmt.Errorf("opencv read: frame is %dx%d, want %dx%d",
			c.frame.Cols(), c.frame.Rows(), c.width, c.height)
	}

	src := c.frame
	switch c.frame.Channels() {
	case 1:
	case 3:
		gocv.CvtColor(c.frame, &c.gray, gocv.ColorBGRToGray)
		src = c.gray
	case 4:
		gocv.CvtColor(c.frame, &c.gray, gocv.ColorBGRAToGray)
		src = c.gray
	default:
		return time.Time{}, fmt.Errorf("opencv read: unsupported channel count %d", c.frame.Channels())
	}

	data := src.ToBytes()
	if len(data) != len(dst) {
		return time.Time{}, fmt.Errorf("opencv read: got %d bytes, want %d", len(data), len(dst))
	}
	copy(dst, data)
	return time.Time{}, nil
}

// Close releases the device and the frame buffers.
func (c *Camera) Close() error {
	c.frame.Close()
	c.gray.Close()
	return c.cap.Close()
}
