package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pspoerri/geoextract/internal/config"
	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/extract"
	"github.com/pspoerri/geoextract/internal/filter"
	"github.com/pspoerri/geoextract/internal/limits"
	"github.com/pspoerri/geoextract/internal/logger"
	"github.com/pspoerri/geoextract/internal/metrics"
	"github.com/pspoerri/geoextract/internal/progress"
	"github.com/pspoerri/geoextract/internal/roi"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: geoextract <command> [flags] <args...>\n\n")
	fmt.Fprintf(os.Stderr, "Extract a region of a raster coverage or feature layer into a file.\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  raster   <input.tif|index.geojson|index.fgb> <output>\n")
	fmt.Fprintf(os.Stderr, "  vector   <input.fgb|input.geojson> <output>\n")
	fmt.Fprintf(os.Stderr, "  index    <input-dir-or-files...> <index.geojson|index.fgb>\n")
	fmt.Fprintf(os.Stderr, "  version\n\n")
	fmt.Fprintf(os.Stderr, "Run 'geoextract <command> -h' for command flags.\n")
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "raster":
		err = runRaster(ctx, args)
	case "vector":
		err = runVector(ctx, args)
	case "index":
		err = runIndex(ctx, args)
	case "version", "-version", "--version":
		fmt.Printf("geoextract %s (commit %s, built %s)\n", version, commit, buildDate)
	case "-h", "-help", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

// runtimeEnv is what every extraction command shares.
type runtimeEnv struct {
	cfg     config.Config
	log     zerolog.Logger
	limits  *limits.Store
	metrics *metrics.Recorder
}

// setup builds the logger, loads the limits file and starts its reloader.
// The reloader stops with ctx.
func setup(ctx context.Context, component string, verbose bool) (*runtimeEnv, error) {
	cfg := config.FromEnv()
	if verbose && cfg.LogLevel == "info" {
		cfg.LogLevel = "debug"
	}
	env := &runtimeEnv{
		cfg:     cfg,
		log:     logger.Build(logger.Config{Level: cfg.LogLevel, Console: cfg.LogConsole, Component: component}, os.Stderr),
		limits:  limits.NewStore(limits.Unlimited),
		metrics: metrics.New(false),
	}
	coord.SetCacheSize(cfg.TransformLRU)

	if cfg.LimitsFile != "" {
		r := &limits.Reloader{
			Path:     cfg.LimitsFile,
			Interval: cfg.LimitsRefresh,
			Store:    env.limits,
			Log:      &env.log,
			Metrics:  env.metrics,
		}
		if err := r.Reload(); err != nil {
			return nil, fmt.Errorf("loading limits: %w", err)
		}
		go r.Run(ctx)
	}
	return env, nil
}

func (env *runtimeEnv) extractor(listener progress.Listener) *extract.Extractor {
	return &extract.Extractor{
		Limits:   env.limits.Load(),
		TempDir:  env.cfg.TempDir,
		Metrics:  env.metrics,
		Log:      &env.log,
		Listener: listener,
	}
}

// listener returns a progress bar on stderr when enabled. done stops it.
func listener(enabled bool, label string) (l progress.Listener, done func()) {
	if !enabled {
		return progress.Nop{}, func() {}
	}
	bar := progress.NewBar(os.Stderr, label)
	return bar, bar.Finish
}

// writeMetrics dumps the registry when path is set.
func (env *runtimeEnv) writeMetrics(path string) {
	if path == "" {
		return
	}
	if err := env.metrics.WriteFile(path); err != nil {
		env.log.Warn().Err(err).Str("path", path).Msg("writing metrics")
	}
}

// regionFlags are the ROI and filter flags shared by raster and vector.
type regionFlags struct {
	wkt     string
	roiCRS  string
	target  string
	clip    bool
	filters filterFlag
}

func (r *regionFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.wkt, "roi", "", "Region of interest as a WKT polygon or multipolygon")
	fs.StringVar(&r.roiCRS, "roi-crs", "EPSG:4326", "CRS of the -roi coordinates")
	fs.StringVar(&r.target, "crs", "", "Output CRS, e.g. EPSG:2056 (default: native)")
	fs.BoolVar(&r.clip, "clip", false, "Clip to the ROI geometry instead of its bounding box")
	fs.Var(&r.filters, "filter", "Attribute filter property=value or property=v1|v2 (repeatable)")
}

func (r *regionFlags) resolve() (*roi.ROI, coord.CRS, error) {
	var target coord.CRS
	if r.target != "" {
		c, err := coord.Parse(r.target)
		if err != nil {
			return nil, coord.CRS{}, fmt.Errorf("-crs: %w", err)
		}
		target = c
	}
	if r.wkt == "" {
		return nil, target, nil
	}
	crs, err := coord.Parse(r.roiCRS)
	if err != nil {
		return nil, coord.CRS{}, fmt.Errorf("-roi-crs: %w", err)
	}
	region, err := roi.FromWKT(r.wkt, crs)
	if err != nil {
		return nil, coord.CRS{}, err
	}
	return &region, target, nil
}

// filterFlag collects -filter values into a conjunction.
type filterFlag []filter.Filter

func (f *filterFlag) String() string {
	if f == nil || len(*f) == 0 {
		return ""
	}
	return f.Filter().String()
}

func (f *filterFlag) Set(s string) error {
	prop, value, ok := strings.Cut(s, "=")
	prop = strings.TrimSpace(prop)
	if !ok || prop == "" {
		return fmt.Errorf("want property=value, got %q", s)
	}
	values := strings.Split(value, "|")
	if len(values) == 1 {
		*f = append(*f, filter.Equals{Property: prop, Value: value})
		return nil
	}
	in := filter.In{Property: prop}
	for _, v := range values {
		in.Values = append(in.Values, v)
	}
	*f = append(*f, in)
	return nil
}

// Filter returns the conjunction of all values; nil when none were given.
func (f filterFlag) Filter() filter.Filter {
	if len(f) == 0 {
		return nil
	}
	return filter.Simplify(filter.Conjoin(f...))
}

func printResult(res extract.Result) {
	fmt.Printf("  %-14s %s\n", "Format:", res.Mime)
	if res.Grid.Width > 0 {
		fmt.Printf("  %-14s %s (level %d)\n", "Grid:", res.Grid, res.Level)
	} else {
		fmt.Printf("  %-14s %d\n", "Features:", res.FeatureCount)
	}
	fmt.Printf("  %-14s %v\n", "Reprojected:", res.Reprojected)
	if res.Clipped {
		fmt.Printf("  %-14s yes\n", "Clipped:")
	}
	if res.Stats.Compat != "" {
		fmt.Printf("  %-14s %s\n", "CRS check:", res.Stats.Compat)
	}
	if res.VerticalCRS != "" {
		fmt.Printf("  %-14s %s\n", "Vertical CRS:", res.VerticalCRS)
	}
	fmt.Printf("Done: %s, xxhash %016x, %v → %s\n",
		humanSize(int64(res.Bytes)), res.Checksum, res.Stats.Elapsed.Round(time.Millisecond), res.Path)
}

func humanSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
