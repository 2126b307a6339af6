package stack

import "fmt"

// FrameStack is an ordered run of Depth grayscale frames of Width×Height
// 8-bit samples, plus one capture timestamp (fractional Unix seconds) per
// frame. Storage is allocated once and reused for every cycle.
type FrameStack struct {
	Width  int
	Height int
	Depth  int

	// Pixels holds the frames back to back, each frame row-major:
	// index = (z*Height + y)*Width + x.
	Pixels []byte

	// Timestamps holds the capture time of each frame.
	Timestamps []float64
}

// NewFrameStack allocates a stack of the given shape.
func NewFrameStack(width, height, depth int) (*FrameStack, error) {
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, fmt.Errorf("invalid stack shape %dx%dx%d", width, height, depth)
	}
	return &FrameStack{
		Width:      width,
		Height:     height,
		Depth:      depth,
		Pixels:     make([]byte, width*height*depth),
		Timestamps: make([]float64, depth),
	}, nil
}

// FrameSize is the number of samples in one frame.
func (s *FrameStack) FrameSize() int {
	return s.Width * s.Height
}

// Frame returns the z-th frame as a slice aliasing the stack storage.
func (s *FrameStack) Frame(z int) []byte {
	n := s.FrameSize()
	return s.Pixels[z*n : (z+1)*n : (z+1)*n]
}

// At returns the sample at frame z, row y, column x.
func (s *FrameStack) At(z, y, x int) byte {
	return s.Pixels[(z*s.Height+y)*s.Width+x]
}

// First returns the first capture timestamp.
func (s *FrameStack) First() float64 {
	return s.Timestamps[0]
}

// Last returns the last capture timestamp.
func (s *FrameStack) Last() float64 {
	return s.Timestamps[s.Depth-1]
}
