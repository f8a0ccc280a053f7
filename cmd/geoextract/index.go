package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/encode"
	"github.com/pspoerri/geoextract/internal/mosaic"
	"github.com/pspoerri/geoextract/internal/resource"
)

func runIndex(ctx context.Context, args []string) error {
	var (
		indexCRS string
		verbose  bool
	)
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	fs.StringVar(&indexCRS, "crs", "EPSG:4326", "CRS of the footprints (GeoJSON indexes must use EPSG:4326)")
	fs.BoolVar(&verbose, "verbose", false, "Debug logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: geoextract index [flags] <input-dir-or-files...> <index.geojson|index.fgb>\n\n")
		fmt.Fprintf(os.Stderr, "Describe GeoTIFF granules as a mosaic index.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() < 2 {
		fs.Usage()
		os.Exit(1)
	}
	paths := fs.Args()
	output := paths[len(paths)-1]
	inputs := paths[:len(paths)-1]

	crs, err := coord.Parse(indexCRS)
	if err != nil {
		return fmt.Errorf("-crs: %w", err)
	}
	enc, err := encode.NewFeature(strings.TrimPrefix(filepath.Ext(output), "."))
	if err != nil {
		return err
	}
	if !encode.SupportedCRS(enc.Mime(), crs.Code()) {
		return fmt.Errorf("%s cannot hold footprints in %s", enc.Mime(), crs.Identifier())
	}
	env, err := setup(ctx, "index", verbose)
	if err != nil {
		return err
	}

	tiffs, err := collectTIFFs(inputs)
	if err != nil {
		return fmt.Errorf("collecting input files: %w", err)
	}
	if len(tiffs) == 0 {
		return fmt.Errorf("no GeoTIFF files found in the specified inputs")
	}
	env.log.Info().Int("files", len(tiffs)).Msg("building mosaic index")

	start := time.Now()
	dir, err := filepath.Abs(filepath.Dir(output))
	if err != nil {
		return err
	}
	for i, p := range tiffs {
		if tiffs[i], err = filepath.Abs(p); err != nil {
			return err
		}
	}
	features, err := mosaic.BuildIndex(ctx, tiffs, dir, crs)
	if err != nil {
		return err
	}

	res := resource.NewManager(dir)
	defer res.Release()
	f, err := res.TempFile(enc.Extension())
	if err != nil {
		return err
	}
	w, err := enc.NewWriter(f, crs)
	if err != nil {
		return err
	}
	for _, feat := range features {
		if err := w.Write(feat); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := res.Promote(f.Name(), output); err != nil {
		return err
	}
	fi, err := os.Stat(output)
	if err != nil {
		return err
	}
	fmt.Printf("Done: %d granule(s), %s, %v → %s\n", len(features), humanSize(fi.Size()), time.Since(start).Round(time.Millisecond), output)
	return nil
}

// collectTIFFs resolves input paths to a list of .tif files.
func collectTIFFs(paths []string) ([]string, error) {
	var result []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if info.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				return nil, fmt.Errorf("readdir %s: %w", p, err)
			}
			for _, e := range entries {
				if !e.IsDir() && isTIFF(e.Name()) {
					result = append(result, filepath.Join(p, e.Name()))
				}
			}
		} else if isTIFF(p) {
			result = append(result, p)
		}
	}
	return result, nil
}

func isTIFF(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff")
}
