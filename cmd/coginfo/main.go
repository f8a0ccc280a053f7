package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pspoerri/geoextract/internal/cog"
	"github.com/pspoerri/geoextract/internal/raster"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: coginfo <file.tif>\n")
		os.Exit(1)
	}

	r, err := cog.Open(os.Args[1], nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	g := r.Grid()
	resX, resY := g.Resolution()
	fmt.Printf("File: %s\n", r.Path())
	fmt.Printf("EPSG: %d (%s)\n", r.EPSG(), r.CRS())
	fmt.Printf("Full-res size: %d x %d\n", g.Width, g.Height)
	fmt.Printf("Pixel size (CRS units): %f x %f\n", resX, resY)
	fmt.Printf("North-up: %v\n", g.IsNorthUp())

	env := r.Envelope()
	fmt.Printf("Bounds (CRS): X=[%f, %f], Y=[%f, %f]\n", env.Min[0], env.Max[0], env.Min[1], env.Max[1])
	for i, b := range r.Bands() {
		kind := "uint"
		switch {
		case b.Float:
			kind = "float"
		case b.Signed:
			kind = "int"
		}
		nodata := "-"
		if b.HasNoData {
			nodata = fmt.Sprint(b.NoData)
		}
		fmt.Printf("Band %d: %s%d nodata=%s\n", i, kind, b.BitsPerSample, nodata)
	}

	levels := r.Levels()
	fmt.Printf("Levels: %d (1 full-res + %d overviews)\n", len(levels), len(levels)-1)

	// Read a small corner window at each level to check decoding.
	x0, y0 := g.ToWorld(0, 0)
	for i, lvl := range levels {
		ifd := r.Directory(i)
		fmt.Printf("\n  Level %d: %dx%d, tile %dx%d, compression %d, pixel size=%f\n",
			i, lvl.Width, lvl.Height, ifd.TileWidth, ifd.TileHeight, ifd.Compression, lvl.ResX)

		n := min(5, lvl.Width, lvl.Height)
		grid := raster.NorthUp(x0, y0, lvl.ResX, lvl.ResY, n, n, r.CRS())
		px, err := r.Read(context.Background(), raster.ReadParams{Grid: grid, Level: i})
		if err != nil {
			fmt.Printf("  Read(level=%d, %dx%d): ERROR: %v\n", i, n, n, err)
			continue
		}
		fmt.Printf("  Read(level=%d, %dx%d): OK, %d valid pixels\n", i, n, n, px.ValidCount())
		if i == 0 {
			samplePixels(px)
		}
		px.Close()
	}
}

func samplePixels(r *raster.Raster) {
	fmt.Printf("  Sample pixels (diagonal):\n")
	w, h := r.Size()
	for i := 0; i < min(w, h); i++ {
		fmt.Printf("    (%d,%d):", i, i)
		for b := range r.Bands {
			v, ok := r.Sample(b, i, i)
			if !ok {
				fmt.Printf(" nodata")
				break
			}
			fmt.Printf(" %g", v)
		}
		fmt.Println()
	}
}
