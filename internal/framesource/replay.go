package framesource

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/banshee-data/skystack/internal/timeutil"
)

var replayExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true,
}

// Replay plays back a directory of still images as a frame stream, in file
// name order, starting over at the end. Colour images are converted to
// gray. Every image must match the configured size.
type Replay struct {
	fsys   fs.FS
	names  []string
	width  int
	height int
	loop   bool
	clock  timeutil.Clock

	next int
	gray *image.Gray
}

// ReplayOption configures a Replay.
type ReplayOption func(*Replay)

// WithReplayClock sets the clock that stamps frames.
func WithReplayClock(c timeutil.Clock) ReplayOption {
	return func(r *Replay) { r.clock = c }
}

// WithoutLoop makes ReadFrame fail permanently after the last image instead
// of starting over.
func WithoutLoop() ReplayOption {
	return func(r *Replay) { r.loop = false }
}

// NewReplay lists the images at the top level of fsys.
func NewReplay(fsys fs.FS, width, height int, opts ...ReplayOption) (*Replay, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("replay: list frames: %w", err)
	}
	r := &Replay{
		fsys:   fsys,
		width:  width,
		height: height,
		loop:   true,
		clock:  timeutil.RealClock{},
		gray:   image.NewGray(image.Rect(0, 0, width, height)),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, e := range entries {
		if e.IsDir() || !replayExtensions[strings.ToLower(path.Ext(e.Name()))] {
			continue
		}
		r.names = append(r.names, e.Name())
	}
	if len(r.names) == 0 {
		return nil, fmt.Errorf("replay: no image files found")
	}
	sort.Strings(r.names)
	return r, nil
}

// Len returns the number of images in the sequence.
func (r *Replay) Len() int { return len(r.names) }

func (r *Replay) ReadFrame(dst []byte) (time.Time, error) {
	if err := checkFrame(dst, r.width, r.height); err != nil {
		return time.Time{}, err
	}
	if r.next >= len(r.names) {
		if !r.loop {
			return time.Time{}, fmt.Errorf("replay: end of sequence after %d frames", len(r.names))
		}
		r.next = 0
	}
	name := r.names[r.next]
	r.next++

	f, err := r.fsys.Open(name)
	if err != nil {
		return time.Time{}, fmt.Errorf("replay %s: %w", name, err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		// A corrupt file is skipped like a dropped frame.
		return time.Time{}, fmt.Errorf("replay %s: %v: %w", name, err, ErrFrameUnavailable)
	}

	b := img.Bounds()
	if b.Dx() != r.width || b.Dy() != r.height {
		return time.Time{}, fmt.Errorf("replay %s: image is %dx%d, want %dx%d", name, b.Dx(), b.Dy(), r.width, r.height)
	}
	if g, ok := img.(*image.Gray); ok && g.Stride == r.width && b.Min == (image.Point{}) {
		copy(dst, g.Pix[:len(dst)])
	} else {
		draw.Draw(r.gray, r.gray.Bounds(), img, b.Min, draw.Src)
		copy(dst, r.gray.Pix)
	}
	return r.clock.Now(), nil
}

func (r *Replay) Close() error { return nil }
