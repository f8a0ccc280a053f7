// Package sink provides a byte-budgeted output writer.
package sink

import (
	"errors"
	"hash"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/pspoerri/geoextract/internal/failure"
	"github.com/pspoerri/geoextract/internal/metrics"
)

// ErrClosed is returned by Write after Close or after the budget aborted the sink.
var ErrClosed = errors.New("sink: closed")

// AbortFunc builds the failure raised when the budget is exceeded.
type AbortFunc func(written, limit uint64) error

// DefaultAbort raises a limit-exceeded failure.
func DefaultAbort(written, limit uint64) error {
	return failure.Limitf("output size %d bytes exceeds the %d byte write limit", written, limit)
}

// Bounded forwards writes to an underlying writer and aborts once more than
// limit bytes went through it.
//
// Bytes are forwarded before they are counted, so the underlying writer can
// receive up to one Write call beyond the budget before the abort fires.
// Callers that need the output to stay strictly under the budget must keep
// their write calls small or discard the output on abort, which the
// extractors do.
type Bounded struct {
	w     io.Writer
	limit uint64
	abort AbortFunc

	// Metrics and Mime are optional; they label the bytes-written counter.
	Metrics *metrics.Recorder
	Mime    string

	mu       sync.Mutex
	written  uint64
	closed   bool
	aborted  bool
	abortErr error
	sum      hash.Hash64
}

// New wraps w with a budget of limit bytes. A zero limit disables the check.
// A nil abort uses DefaultAbort.
func New(w io.Writer, limit uint64, abort AbortFunc) *Bounded {
	if abort == nil {
		abort = DefaultAbort
	}
	return &Bounded{w: w, limit: limit, abort: abort, sum: xxhash.New()}
}

func (b *Bounded) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		if b.abortErr != nil {
			return 0, b.abortErr
		}
		return 0, ErrClosed
	}

	n, err := b.w.Write(p)
	if n > 0 {
		b.written += uint64(n)
		b.sum.Write(p[:n])
		b.Metrics.BytesWritten(b.Mime, n)
	}
	if err != nil {
		return n, err
	}
	if b.limit > 0 && b.written > b.limit && !b.aborted {
		b.aborted = true
		b.abortErr = b.abort(b.written, b.limit)
		b.Metrics.SinkAbort()
		b.closeLocked()
		return n, b.abortErr
	}
	return n, nil
}

// Close closes the underlying writer if it is an io.Closer. Repeated calls
// are no-ops.
func (b *Bounded) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *Bounded) closeLocked() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if c, ok := b.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Written returns the number of bytes forwarded so far.
func (b *Bounded) Written() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Closed reports whether the sink was closed or aborted.
func (b *Bounded) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Aborted reports whether the budget was exceeded.
func (b *Bounded) Aborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}

// Checksum returns the xxhash64 of all forwarded bytes.
func (b *Bounded) Checksum() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sum.Sum64()
}
