// Package extract runs raster and vector extractions: bind the region of
// interest, check the cost, read, reproject when needed, trim, encode
// through a bounded sink and move the finished file into place.
//
// Every intermediate is registered with a per-request resource manager and
// released on every exit path. Output goes to a temp file first; the
// caller's path only ever sees a complete file.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/pspoerri/geoextract/internal/estimate"
	"github.com/pspoerri/geoextract/internal/failure"
	"github.com/pspoerri/geoextract/internal/limits"
	"github.com/pspoerri/geoextract/internal/logger"
	"github.com/pspoerri/geoextract/internal/metrics"
	"github.com/pspoerri/geoextract/internal/progress"
	"github.com/pspoerri/geoextract/internal/raster"
	"github.com/pspoerri/geoextract/internal/resource"
	"github.com/pspoerri/geoextract/internal/sink"
)

// Stage names used in errors, logs and progress reports.
const (
	StageResolve   = "resolve"
	StageEstimate  = "estimate"
	StagePlan      = "plan"
	StageRead      = "read"
	StageScale     = "scale"
	StageReproject = "reproject"
	StageClip      = "clip"
	StageEncode    = "encode"
	StageWrite     = "write"
)

// Extractor holds what is shared by requests. Each request takes its own
// resource manager and copy of the limits.
type Extractor struct {
	Limits limits.Snapshot
	// TempDir receives temporary output files; empty uses the OS default.
	TempDir  string
	Metrics  *metrics.Recorder
	Log      *zerolog.Logger
	Listener progress.Listener
}

// Stats describes how a request was executed.
type Stats struct {
	Estimate estimate.Decision
	// Compat is the reason given by the CRS compatibility check, empty when
	// it did not run.
	Compat string
	// Read is the grid requested from the reader.
	Read    raster.GridGeometry
	Elapsed time.Duration
}

// Result describes a finished extraction.
type Result struct {
	Path     string
	Mime     string
	Bytes    uint64
	Checksum uint64
	// Grid and Level are set by raster extractions: the delivered grid and
	// the overview level that was read.
	Grid         raster.GridGeometry
	Level        int
	FeatureCount uint64
	Reprojected  bool
	Clipped      bool
	// VerticalCRS echoes the requested vertical CRS; heights are not transformed.
	VerticalCRS string
	Stats       Stats
}

func (e *Extractor) listener() progress.Listener {
	if e.Listener == nil {
		return progress.Nop{}
	}
	return e.Listener
}

func (e *Extractor) estimator() *estimate.Estimator {
	return &estimate.Estimator{Limits: e.Limits, Metrics: e.Metrics, Log: e.Log}
}

// writeLimit is the tighter of the two byte budgets; zero when both are unlimited.
func writeLimit(l limits.Snapshot) uint64 {
	switch {
	case l.MaxWriteBytes == 0:
		return l.MaxOutputBytes
	case l.MaxOutputBytes == 0:
		return l.MaxWriteBytes
	}
	return min(l.MaxWriteBytes, l.MaxOutputBytes)
}

// run wraps one request: it owns the resource manager, classifies errors,
// notifies the listener and records metrics.
func (e *Extractor) run(ctx context.Context, kind, layer string, fn func(context.Context, *resource.Manager) (Result, error)) (Result, error) {
	start := time.Now()
	if logger.RequestID(ctx) == "" {
		ctx = logger.WithRequestID(ctx, logger.NewID())
	}
	if layer != "" {
		ctx = logger.WithLayer(ctx, layer)
	}
	log := logger.FromContext(ctx, e.Log)

	res := resource.NewManager(e.TempDir)
	result, err := fn(ctx, res)
	if rerr := res.Release(); rerr != nil {
		log.Warn().Err(rerr).Msg("releasing intermediates")
	}
	elapsed := time.Since(start)
	result.Stats.Elapsed = elapsed

	if err != nil {
		err = failure.Wrap(err, failure.Processing, layer, "")
		outcome := failure.KindOf(err).String()
		e.Metrics.Extraction(kind, outcome, elapsed)
		if failure.IsCanceled(err) {
			log.Info().Str("kind", kind).Msg("extraction canceled")
		} else {
			log.Warn().Err(err).Str("kind", kind).Msg("extraction failed")
			e.listener().Failed(err)
		}
		return Result{}, err
	}
	e.Metrics.Extraction(kind, "ok", elapsed)
	e.listener().Progress("done", 1)
	log.Info().
		Str("kind", kind).
		Str("path", result.Path).
		Uint64("bytes", result.Bytes).
		Dur("elapsed", elapsed).
		Msg("extraction finished")
	return result, nil
}

// fail tags err with the stage it occurred in. Context errors become
// cancellations.
func fail(stage string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var fe *failure.Error
		if !errors.As(err, &fe) || fe.Kind != failure.Canceled {
			return failure.New(failure.Canceled, stage, err)
		}
	}
	return failure.Wrap(err, failure.Processing, "", stage)
}

// output is a temp file behind a bounded sink.
type output struct {
	file *os.File
	sink *sink.Bounded
}

func (e *Extractor) openOutput(res *resource.Manager, ext, mime string) (*output, error) {
	f, err := res.TempFile(ext)
	if err != nil {
		return nil, fail(StageWrite, err)
	}
	s := sink.New(f, writeLimit(e.Limits), nil)
	s.Metrics = e.Metrics
	s.Mime = mime
	return &output{file: f, sink: s}, nil
}

// finish closes the sink and moves the temp file to dst. An encoder error
// that hides a budget overrun is reported as the overrun.
func (o *output) finish(res *resource.Manager, encErr error, dst string) (uint64, uint64, error) {
	if o.sink.Aborted() {
		o.sink.Close()
		if encErr != nil && failure.KindOf(encErr) == failure.LimitExceeded {
			return 0, 0, failure.Wrap(encErr, failure.LimitExceeded, "", StageWrite)
		}
		return 0, 0, failure.New(failure.LimitExceeded, StageWrite, encErr)
	}
	if encErr != nil {
		o.sink.Close()
		return 0, 0, fail(StageEncode, encErr)
	}
	if err := o.sink.Close(); err != nil {
		return 0, 0, fail(StageWrite, err)
	}
	if err := res.Promote(o.file.Name(), dst); err != nil {
		return 0, 0, fail(StageWrite, err)
	}
	return o.sink.Written(), o.sink.Checksum(), nil
}

func requireOutput(path string) error {
	if path == "" {
		return failure.New(failure.Validation, StageResolve, fmt.Errorf("no output path"))
	}
	return nil
}
