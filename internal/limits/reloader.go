package limits

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/pspoerri/geoextract/internal/metrics"
)

// Reloader re-reads a limits file on a ticker and publishes the result.
type Reloader struct {
	Path     string
	Interval time.Duration
	Store    *Store
	Log      *zerolog.Logger
	Metrics  *metrics.Recorder
}

// Reload reads the file once and swaps the snapshot when it changed.
// Rejected fields keep their current values; removed keys become unlimited.
func (r *Reloader) Reload() error {
	f, err := os.Open(r.Path)
	if err != nil {
		r.Metrics.LimitsReload("error")
		return err
	}
	defer f.Close()

	cur := r.Store.Load()
	next, errs := Parse(f, cur)
	for _, e := range errs {
		if r.Log != nil {
			r.Log.Warn().Err(e).Str("path", r.Path).Msg("limits value rejected")
		}
	}
	if next == cur {
		r.Metrics.LimitsReload("unchanged")
		return nil
	}
	r.Store.Set(next)
	r.Metrics.LimitsReload("applied")
	if r.Log != nil {
		r.Log.Info().
			Uint64("max_features", next.MaxFeatures).
			Uint64("max_raster_pixels", next.MaxRasterPixels).
			Uint64("max_write_bytes", next.MaxWriteBytes).
			Uint64("max_output_bytes", next.MaxOutputBytes).
			Msg("limits reloaded")
	}
	return nil
}

// Run reloads until ctx is done. A failed read keeps the current snapshot.
func (r *Reloader) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Reload(); err != nil && r.Log != nil {
				r.Log.Warn().Err(err).Str("path", r.Path).Msg("limits reload failed")
			}
		}
	}
}
