package framesource

import (
	"errors"
	"sync"
	"time"
)

// ErrScriptExhausted is returned by Scripted once its steps run out and no
// fallback is set.
var ErrScriptExhausted = errors.New("scripted source exhausted")

// Step is one scripted ReadFrame outcome: either Err, or a frame filled with
// Value (or copied from Pixels when set) stamped At.
type Step struct {
	Value  byte
	Pixels []byte
	At     time.Time
	Err    error
}

// Scripted replays a fixed list of outcomes. It is meant for tests and for
// exercising the pipeline without hardware.
type Scripted struct {
	Width  int
	Height int
	Steps  []Step
	// Then produces frames after Steps are used up. When nil, ReadFrame
	// returns ErrScriptExhausted.
	Then func(call int, dst []byte) (time.Time, error)

	mu     sync.Mutex
	calls  int
	closed bool
}

func (s *Scripted) ReadFrame(dst []byte) (time.Time, error) {
	if err := checkFrame(dst, s.Width, s.Height); err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()

	if call >= len(s.Steps) {
		if s.Then == nil {
			return time.Time{}, ErrScriptExhausted
		}
		return s.Then(call, dst)
	}
	st := s.Steps[call]
	if st.Err != nil {
		return time.Time{}, st.Err
	}
	if st.Pixels != nil {
		copy(dst, st.Pixels)
	} else {
		for i := range dst {
			dst[i] = st.Value
		}
	}
	return st.At, nil
}

func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Calls returns how many times ReadFrame has been called.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Closed reports whether Close has been called.
func (s *Scripted) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
