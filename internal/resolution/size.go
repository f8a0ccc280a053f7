package resolution

import (
	"context"
	"fmt"
	"math"

	"github.com/pspoerri/geoextract/internal/raster"
)

// SizeSelector scales the ROI-reduced native envelope to an explicit pixel
// size. It reads from the overview level the policy picks and resamples
// once, keeping the pixel origin, unless the level already delivers the
// requested size and the kernel is nearest neighbor.
type SizeSelector struct{}

func (SizeSelector) Select(ctx context.Context, req Request) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	if req.Width < 0 || req.Height < 0 || (req.Width == 0 && req.Height == 0) {
		return Plan{}, fmt.Errorf("invalid output size %dx%d", req.Width, req.Height)
	}
	env, ok := readEnvelope(req)
	if !ok {
		return Plan{Empty: true}, nil
	}

	reader := req.Source.Reader
	native := reader.Grid()
	resX, resY := native.Resolution()
	width, height := TargetSize(env.Width()/resX, env.Height()/resY, req.Width, req.Height)

	wantX, wantY := env.Width()/float64(width), env.Height()/float64(height)
	levels := reader.Levels()
	level := PickLevel(levels, req.Policy, wantX, wantY)

	lg := native
	if level > 0 {
		l := levels[level]
		lg = native.Scaled(l.ResX/resX, l.ResY/resY, l.Width, l.Height)
	}
	read, _, _, ok := lg.Window(env)
	if !ok {
		return Plan{Empty: true}, nil
	}

	if read.Width == width && read.Height == height && req.Interp == raster.Nearest {
		return Plan{Grid: read, Read: read, Level: level}, nil
	}
	sc := &Scale{
		SX:     float64(read.Width) / float64(width),
		SY:     float64(read.Height) / float64(height),
		Width:  width,
		Height: height,
	}
	return Plan{
		Grid:  read.Scaled(sc.SX, sc.SY, width, height),
		Read:  read,
		Level: level,
		Scale: sc,
	}, nil
}

// TargetSize completes a requested size. A missing axis is inferred from
// the native pixel extent (nw x nh) so the aspect ratio is kept.
func TargetSize(nw, nh float64, width, height int) (int, int) {
	switch {
	case width > 0 && height > 0:
		return width, height
	case width > 0:
		return width, max(int(math.Round(float64(width)*nh/nw)), 1)
	default:
		return max(int(math.Round(float64(height)*nw/nh)), 1), height
	}
}

// PickLevel returns the level index for a requested resolution.
func PickLevel(levels []raster.Level, policy OverviewPolicy, wantX, wantY float64) int {
	if len(levels) < 2 || policy == Ignore {
		return 0
	}
	want := math.Min(wantX, wantY)
	const eps = 1e-9
	best := 0
	switch policy {
	case Quality:
		for i, l := range levels {
			if res(l) <= want*(1+eps) {
				best = i
			}
		}
	case Speed:
		best = len(levels) - 1
		for i := len(levels) - 1; i >= 0; i-- {
			if res(levels[i]) >= want*(1-eps) {
				best = i
			}
		}
	default:
		d := math.Inf(1)
		for i, l := range levels {
			if di := math.Abs(math.Log(res(l) / want)); di < d-eps {
				best, d = i, di
			}
		}
	}
	return best
}

func res(l raster.Level) float64 { return math.Min(l.ResX, l.ResY) }
