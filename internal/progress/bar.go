package progress

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bar renders an in-place terminal progress bar for a running extraction.
// It refreshes at a fixed interval; Progress may be called from any goroutine.
type Bar struct {
	Canceler

	out      io.Writer
	label    string
	barWidth int
	start    time.Time
	frac     atomic.Uint64 // math.Float64bits
	stage    atomic.Value  // string
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
}

// NewBar starts a bar drawing to out.
func NewBar(out io.Writer, label string) *Bar {
	b := &Bar{
		out:      out,
		label:    label,
		barWidth: 30,
		start:    time.Now(),
		done:     make(chan struct{}),
	}
	b.stage.Store("")
	go b.run()
	return b
}

func (b *Bar) Progress(stage string, f float64) {
	b.stage.Store(stage)
	b.frac.Store(math.Float64bits(f))
	b.Canceler.Progress(stage, f)
}

func (b *Bar) Failed(err error) {
	b.stage.Store("failed: " + err.Error())
	b.Canceler.Failed(err)
}

// Finish stops the refresh loop and prints the final bar state with a newline.
func (b *Bar) Finish() {
	b.once.Do(func() {
		close(b.done)
		b.draw()
		fmt.Fprint(b.out, "\n")
	})
}

func (b *Bar) run() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.draw()
		}
	}
}

func (b *Bar) draw() {
	b.mu.Lock()
	defer b.mu.Unlock()

	frac := math.Float64frombits(b.frac.Load())
	frac = math.Max(0, math.Min(1, frac))

	filled := int(float64(b.barWidth) * frac)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", b.barWidth-filled)

	fmt.Fprintf(b.out, "\r%s [%s] %3.0f%%  %-10s %s\033[K",
		b.label, bar, frac*100, b.stage.Load().(string), formatDuration(time.Since(b.start)))
}

// formatDuration formats a duration concisely (e.g. "1m23s", "45s", "0s").
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) - m*60
	return fmt.Sprintf("%dm%02ds", m, s)
}
