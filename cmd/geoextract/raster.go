package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pspoerri/geoextract/internal/cog"
	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/encode"
	"github.com/pspoerri/geoextract/internal/extract"
	"github.com/pspoerri/geoextract/internal/mosaic"
	"github.com/pspoerri/geoextract/internal/raster"
	"github.com/pspoerri/geoextract/internal/resolution"
)

func runRaster(ctx context.Context, args []string) error {
	var (
		region      regionFlags
		format      string
		width       int
		height      int
		bands       string
		interp      string
		policy      string
		minimize    bool
		preferCRS   bool
		tolerance   float64
		quality     int
		compression string
		level       int
		tileSize    int
		overviews   int
		verticalCRS string
		sourceCRS   string
		layer       string
		metricsOut  string
		showBar     bool
		verbose     bool
	)
	fs := flag.NewFlagSet("raster", flag.ExitOnError)
	region.register(fs)
	fs.StringVar(&format, "format", "geotiff", "Output format: geotiff, tiff, png, jpeg, webp, terrarium")
	fs.IntVar(&width, "width", 0, "Output width in pixels (default: native resolution)")
	fs.IntVar(&height, "height", 0, "Output height in pixels (default: native resolution)")
	fs.StringVar(&bands, "bands", "", "Comma separated band indices, e.g. 2,1,0 (default: all)")
	fs.StringVar(&interp, "interp", "nearest", "Interpolation: nearest, bilinear, bicubic, bicubic2")
	fs.StringVar(&policy, "overview-policy", "nearest", "Overview choice: nearest, quality, speed, ignore")
	fs.BoolVar(&minimize, "minimize-reprojections", false, "Read mosaic granules stored in the output CRS directly")
	fs.BoolVar(&preferCRS, "prefer-native-crs", false, "Same check as -minimize-reprojections for a single request")
	fs.Float64Var(&tolerance, "tolerance", 0, "Granule resolution tolerance in percent")
	fs.IntVar(&quality, "quality", 85, "JPEG/WebP quality 1-100")
	fs.StringVar(&compression, "compression", "deflate", "GeoTIFF/TIFF compression: none, deflate")
	fs.IntVar(&level, "compression-level", 0, "Deflate level 1-9 (default: limits file or encoder default)")
	fs.IntVar(&tileSize, "tile-size", 256, "GeoTIFF tile size in pixels (0 = strips)")
	fs.IntVar(&overviews, "overviews", 0, "Number of GeoTIFF overview levels")
	fs.StringVar(&verticalCRS, "vertical-crs", "", "Vertical CRS to record in the result")
	fs.StringVar(&sourceCRS, "source-crs", "", "CRS assumed for a GeoTIFF without one, or the mosaic CRS of an index")
	fs.StringVar(&layer, "layer", "", "Layer name used in logs and errors (default: input file name)")
	fs.StringVar(&metricsOut, "metrics", "", "Write Prometheus metrics to this file on exit")
	fs.BoolVar(&showBar, "progress", false, "Show a progress bar")
	fs.BoolVar(&verbose, "verbose", false, "Debug logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: geoextract raster [flags] <input.tif|index.geojson|index.fgb> <output>\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}
	input, output := fs.Arg(0), fs.Arg(1)
	if layer == "" {
		layer = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}

	area, target, err := region.resolve()
	if err != nil {
		return err
	}
	req := extract.RasterRequest{
		Layer:                 layer,
		Output:                output,
		Mime:                  encode.Normalize(format),
		Target:                target,
		ROI:                   area,
		Clip:                  region.clip,
		Width:                 width,
		Height:                height,
		MinimizeReprojections: minimize,
		PreferNativeCRS:       preferCRS,
		Tolerance:             tolerance,
		VerticalCRS:           verticalCRS,
		Params: encode.Params{
			Quality:          quality,
			Compression:      compression,
			CompressionLevel: level,
			TileSize:         tileSize,
			Overviews:        overviews,
		},
	}
	if req.Bands, err = parseBands(bands); err != nil {
		return err
	}
	if req.Interp, err = raster.ParseInterpolation(interp); err != nil {
		return err
	}
	if req.Policy, err = resolution.ParsePolicy(policy); err != nil {
		return err
	}

	env, err := setup(ctx, "raster", verbose)
	if err != nil {
		return err
	}
	defer env.writeMetrics(metricsOut)

	cache := cog.NewTileCache(env.cfg.TileCacheSize)
	src, closer, err := openCoverage(ctx, env, input, sourceCRS, cache)
	if err != nil {
		return err
	}
	defer closer()
	req.Source = src
	req.Filter = region.filters.Filter()

	l, done := listener(showBar, layer)
	res, err := env.extractor(l).Raster(ctx, req)
	done()
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

// openCoverage opens a single GeoTIFF or a mosaic index, told apart by extension.
func openCoverage(ctx context.Context, env *runtimeEnv, path, fallbackCRS string, cache *cog.TileCache) (raster.Source, func(), error) {
	var fallback coord.CRS
	if fallbackCRS != "" {
		c, err := coord.Parse(fallbackCRS)
		if err != nil {
			return raster.Source{}, nil, fmt.Errorf("-source-crs: %w", err)
		}
		fallback = c
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		r, err := cog.Open(path, cache)
		if err != nil {
			return raster.Source{}, nil, err
		}
		if r.CRS().IsZero() && !fallback.IsZero() {
			r.SetCRS(fallback)
		}
		return raster.Source{Reader: r}, func() { r.Close() }, nil
	case ".geojson", ".json", ".fgb":
		m, err := mosaic.Open(ctx, path, mosaic.Options{CRS: fallback, Cache: cache, Log: &env.log})
		if err != nil {
			return raster.Source{}, nil, err
		}
		return m.Source(), func() { m.Close() }, nil
	}
	return raster.Source{}, nil, fmt.Errorf("%s: expected a .tif GeoTIFF or a .geojson/.fgb mosaic index", path)
}

func parseBands(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("-bands: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}
