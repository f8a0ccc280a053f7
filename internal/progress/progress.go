// Package progress defines the cancellation and progress hooks polled by the
// extraction pipeline.
package progress

import (
	"context"
	"sync/atomic"

	"github.com/pspoerri/geoextract/internal/failure"
)

// Listener is notified as a job advances and polled for cancellation at
// stage boundaries.
type Listener interface {
	IsCanceled() bool
	// Progress reports the current stage and the overall completed fraction in [0,1].
	Progress(stage string, fraction float64)
	// Failed is called once when the job ends with an error.
	Failed(err error)
}

// Nop ignores all notifications and is never canceled.
type Nop struct{}

func (Nop) IsCanceled() bool         { return false }
func (Nop) Progress(string, float64) {}
func (Nop) Failed(error)             {}

// Canceler is a listener whose cancellation can be requested from another
// goroutine. It forwards notifications to Next when set.
type Canceler struct {
	Next     Listener
	canceled atomic.Bool
}

// Cancel requests cancellation. Safe for concurrent use.
func (c *Canceler) Cancel() { c.canceled.Store(true) }

func (c *Canceler) IsCanceled() bool {
	if c.canceled.Load() {
		return true
	}
	return c.Next != nil && c.Next.IsCanceled()
}

func (c *Canceler) Progress(stage string, f float64) {
	if c.Next != nil {
		c.Next.Progress(stage, f)
	}
}

func (c *Canceler) Failed(err error) {
	if c.Next != nil {
		c.Next.Failed(err)
	}
}

// Checkpoint reports progress and returns a cancellation failure when the
// listener or ctx asks the job to stop.
func Checkpoint(ctx context.Context, l Listener, stage string, fraction float64) error {
	if err := ctx.Err(); err != nil {
		return failure.New(failure.Canceled, stage, err)
	}
	if l == nil {
		return nil
	}
	if l.IsCanceled() {
		return failure.New(failure.Canceled, stage, nil)
	}
	l.Progress(stage, fraction)
	return nil
}
