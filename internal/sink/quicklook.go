package sink

import (
	"fmt"
	"image"
	"image/png"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/banshee-data/skystack/internal/fsutil"
	"github.com/banshee-data/skystack/internal/reduce"
)

// Quicklook writes a downscaled PNG of each record's max plane, where
// anything that crossed the field shows up as a trail.
type Quicklook struct {
	FS    fsutil.FileSystem
	Dir   string
	Width int // output width in pixels; zero or >= the record width keeps full size
}

// NewQuicklook returns a Quicklook that writes into dir.
func NewQuicklook(fs fsutil.FileSystem, dir string, width int) *Quicklook {
	return &Quicklook{FS: fs, Dir: dir, Width: width}
}

// QuicklookName returns the PNG file name of rec.
func QuicklookName(rec *reduce.SummaryRecord) string {
	return DateObs(rec) + "_max.png"
}

func (q *Quicklook) WriteRecord(rec *reduce.SummaryRecord) error {
	img := RenderMax(rec, q.Width)
	path := filepath.Join(q.Dir, QuicklookName(rec))
	f, err := q.FS.Create(path)
	if err != nil {
		return fmt.Errorf("quicklook: create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("quicklook: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("quicklook: close %s: %w", path, err)
	}
	return nil
}

// RenderMax stretches the max plane of rec linearly onto 0..255 and scales
// it to width pixels across. Rows are put back in camera order, top row
// first.
func RenderMax(rec *reduce.SummaryRecord, width int) *image.Gray {
	w, h := rec.Width, rec.Height
	full := image.NewGray(image.Rect(0, 0, w, h))

	lo, hi := float32(0), float32(0)
	for i, v := range rec.Max {
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	scale := float32(0)
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	for y := 0; y < h; y++ {
		src := rec.Max[(h-1-y)*w : (h-y)*w]
		dst := full.Pix[y*full.Stride : y*full.Stride+w]
		for x, v := range src {
			dst[x] = uint8((v-lo)*scale + 0.5)
		}
	}

	if width <= 0 || width >= w {
		return full
	}
	outH := max(1, (h*width+w/2)/w)
	out := image.NewGray(image.Rect(0, 0, width, outH))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), full, full.Bounds(), draw.Src, nil)
	return out
}
