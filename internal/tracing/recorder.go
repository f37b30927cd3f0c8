// Package tracing keeps a rolling runtime trace of the worker pools using the
// runtime FlightRecorder, so a slow batch can be inspected after the fact.
package tracing

import (
	"errors"
	"io"
	"runtime/trace"
	"sync"
	"time"
)

// DefaultBufferSize is the default size of the trace ring buffer (10MB).
const DefaultBufferSize = 10 * 1024 * 1024

// DefaultMinAge is how much trace history the recorder tries to keep.
const DefaultMinAge = 30 * time.Second

// ErrNotRunning is returned by Snapshot when the recorder is stopped.
var ErrNotRunning = errors.New("trace recorder not running")

// Recorder wraps a FlightRecorder. A nil *Recorder is valid and never running.
type Recorder struct {
	mu  sync.Mutex
	fr  *trace.FlightRecorder
	run bool
}

// Start creates and starts a recorder holding up to bufferSize bytes.
// Only one recorder can run per process.
func Start(bufferSize int) (*Recorder, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   DefaultMinAge,
		MaxBytes: uint64(bufferSize),
	})
	if err := fr.Start(); err != nil {
		return nil, err
	}
	return &Recorder{fr: fr, run: true}, nil
}

// Running reports whether snapshots are available.
func (r *Recorder) Running() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run
}

// Snapshot writes the buffered trace to w in `go tool trace` format.
func (r *Recorder) Snapshot(w io.Writer) error {
	if r == nil {
		return ErrNotRunning
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.run {
		return ErrNotRunning
	}
	_, err := r.fr.WriteTo(w)
	return err
}

// Stop stops recording. It is safe to call more than once.
func (r *Recorder) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run {
		r.fr.Stop()
		r.run = false
	}
}
