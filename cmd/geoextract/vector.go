package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/encode"
	"github.com/pspoerri/geoextract/internal/extract"
	"github.com/pspoerri/geoextract/internal/vector"
)

func runVector(ctx context.Context, args []string) error {
	var (
		region     regionFlags
		format     string
		sourceCRS  string
		layer      string
		metricsOut string
		showBar    bool
		verbose    bool
	)
	fs := flag.NewFlagSet("vector", flag.ExitOnError)
	region.register(fs)
	fs.StringVar(&format, "format", "", "Output format: fgb, geojson (default: from the output extension)")
	fs.StringVar(&sourceCRS, "source-crs", "", "CRS of the input when it declares none (GeoJSON: EPSG:4326)")
	fs.StringVar(&layer, "layer", "", "Layer name used in logs and errors (default: input file name)")
	fs.StringVar(&metricsOut, "metrics", "", "Write Prometheus metrics to this file on exit")
	fs.BoolVar(&showBar, "progress", false, "Show a progress bar")
	fs.BoolVar(&verbose, "verbose", false, "Debug logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: geoextract vector [flags] <input.fgb|input.geojson> <output>\n\n")
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
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(output), ".")
	}

	area, target, err := region.resolve()
	if err != nil {
		return err
	}
	var fallback coord.CRS
	if sourceCRS != "" {
		if fallback, err = coord.Parse(sourceCRS); err != nil {
			return fmt.Errorf("-source-crs: %w", err)
		}
	}

	env, err := setup(ctx, "vector", verbose)
	if err != nil {
		return err
	}
	defer env.writeMetrics(metricsOut)

	src, err := openLayer(input, fallback)
	if err != nil {
		return err
	}
	defer src.Close()

	l, done := listener(showBar, layer)
	res, err := env.extractor(l).Vector(ctx, extract.VectorRequest{
		Layer:  layer,
		Source: src,
		Output: output,
		Mime:   encode.Normalize(format),
		Target: target,
		ROI:    area,
		Clip:   region.clip,
		Filter: region.filters.Filter(),
	})
	done()
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

type closableSource interface {
	vector.Source
	Close() error
}

func openLayer(path string, fallback coord.CRS) (closableSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fgb":
		return vector.OpenFlatGeobuf(path, fallback)
	case ".geojson", ".json":
		return vector.OpenGeoJSON(path, fallback)
	}
	return nil, fmt.Errorf("%s: expected a .fgb or .geojson feature file", path)
}
