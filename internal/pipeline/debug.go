package pipeline

import (
	"io"
	"log"
	"sync/atomic"
)

// logStream is one of the pipeline's log outputs. The Acquirer and Reducer
// goroutines log concurrently, so the logger is swapped atomically.
type logStream struct {
	name   string
	logger atomic.Pointer[log.Logger]
}

var (
	opsStream   = &logStream{name: "ops"}
	diagStream  = &logStream{name: "diag"}
	traceStream = &logStream{name: "trace"}
)

// SetLogWriters configures the three logging streams for the pipeline
// package. Pass nil for any writer to disable that stream. The streams may
// share a writer; each line carries its stream name after the timestamp,
// e.g. "[pipeline/ops] ".
func SetLogWriters(ops, diag, trace io.Writer) {
	opsStream.setOutput(ops)
	diagStream.setOutput(diag)
	traceStream.setOutput(trace)
}

func (s *logStream) setOutput(w io.Writer) {
	if w == nil {
		s.logger.Store(nil)
		return
	}
	s.logger.Store(log.New(w, "[pipeline/"+s.name+"] ", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix))
}

func (s *logStream) enabled() bool {
	return s.logger.Load() != nil
}

func (s *logStream) printf(format string, args ...interface{}) {
	if l := s.logger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// opsf logs to the ops stream (source failures, lost records, overruns).
func opsf(format string, args ...interface{}) { opsStream.printf(format, args...) }

// diagf logs to the diag stream (per-stack summaries, start and stop).
func diagf(format string, args ...interface{}) { diagStream.printf(format, args...) }

// tracef logs to the trace stream (per-frame telemetry).
func tracef(format string, args ...interface{}) { traceStream.printf(format, args...) }
