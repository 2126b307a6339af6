//go:build opencv

package opencv

import (
	"errors"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/skystack/internal/framesource"
	"github.com/banshee-data/skystack/internal/monitoring"
)

// PreviewWindow is the title of the live window.
const PreviewWindow = "Capture"

// Preview shows every frame read from the wrapped source in a window, scaled
// by Scale. Closing the Preview closes the window and the source.
type Preview struct {
	framesource.Source

	width  int
	height int
	scale  float64
	window *gocv.Window
	small  gocv.Mat
}

// NewPreview opens the preview window for width×height gray frames read
// from src. scale must be in (0, 1].
func NewPreview(src framesource.Source, width, height int, scale float64) (*Preview, error) {
	if scale <= 0 || scale > 1 {
		return nil, fmt.Errorf("preview scale must be in (0, 1], got %g", scale)
	}
	return &Preview{
		Source: src,
		width:  width,
		height: height,
		scale:  scale,
		window: gocv.NewWindow(PreviewWindow),
		small:  gocv.NewMat(),
	}, nil
}

// ReadFrame reads from the wrapped source and displays the frame. Display
// problems are logged and never fail the read.
func (p *Preview) ReadFrame(dst []byte) (time.Time, error) {
	ts, err := p.Source.ReadFrame(dst)
	if err != nil {
		return ts, err
	}
	p.show(dst)
	return ts, nil
}

func (p *Preview) show(frame []byte) {
	m, err := gocv.NewMatFromBytes(p.height, p.width, gocv.MatTypeCV8U, frame)
	if err != nil {
		monitoring.Logf("opencv: preview: %v", err)
		return
	}
	defer m.Close()

	img := m
	if p.scale < 1 {
		gocv.Resize(m, &p.small, image.Point{}, p.scale, p.scale, gocv.InterpolationArea)
		img = p.small
	}
	p.window.IMShow(img)
	p.window.WaitKey(1)
}

// Close closes the window and the wrapped source.
func (p *Preview) Close() error {
	p.small.Close()
	werr := p.window.Close()
	return errors.Join(p.Source.Close(), werr)
}
