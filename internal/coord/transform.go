package coord

import (
	"fmt"
	"math"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
)

// Transform maps coordinates from a source CRS to a destination CRS by way of WGS84.
type Transform struct {
	src, dst CRS
	identity bool
}

// Source returns the CRS that Forward expects as input.
func (t *Transform) Source() CRS { return t.src }

// Target returns the CRS that Forward produces.
func (t *Transform) Target() CRS { return t.dst }

// IsIdentity reports whether the transform leaves coordinates untouched.
func (t *Transform) IsIdentity() bool { return t.identity }

// Forward maps a point from the source to the destination CRS.
func (t *Transform) Forward(x, y float64) (float64, float64) {
	if t.identity {
		return x, y
	}
	lon, lat := t.src.proj.ToWGS84(x, y)
	return t.dst.proj.FromWGS84(lon, lat)
}

// Inverse maps a point from the destination back to the source CRS.
func (t *Transform) Inverse(x, y float64) (float64, float64) {
	if t.identity {
		return x, y
	}
	lon, lat := t.dst.proj.ToWGS84(x, y)
	return t.src.proj.FromWGS84(lon, lat)
}

// ForwardPoint is Forward for orb points, usable as an orb.Projection.
func (t *Transform) ForwardPoint(p orb.Point) orb.Point {
	x, y := t.Forward(p[0], p[1])
	return orb.Point{x, y}
}

// InversePoint is Inverse for orb points.
func (t *Transform) InversePoint(p orb.Point) orb.Point {
	x, y := t.Inverse(p[0], p[1])
	return orb.Point{x, y}
}

// Reverse returns the transform in the opposite direction.
func (t *Transform) Reverse() *Transform {
	return &Transform{src: t.dst, dst: t.src, identity: t.identity}
}

// Registry hands out transforms between CRS pairs. Lookups are cached; the
// cached values are immutable so a Registry is safe for concurrent use.
type Registry struct {
	cache *lru.Cache[[2]int, *Transform]
}

// NewRegistry creates a registry caching up to size transforms.
func NewRegistry(size int) *Registry {
	if size <= 0 {
		size = 64
	}
	c, err := lru.New[[2]int, *Transform](size)
	if err != nil {
		panic(err)
	}
	return &Registry{cache: c}
}

var defaultRegistry atomic.Pointer[Registry]

func init() { defaultRegistry.Store(NewRegistry(128)) }

// SetCacheSize replaces the process-wide registry. Lookups already running
// finish against the old one.
func SetCacheSize(size int) { defaultRegistry.Store(NewRegistry(size)) }

// FindTransform looks up a transform in the process-wide registry.
func FindTransform(src, dst CRS) (*Transform, error) {
	return defaultRegistry.Load().Find(src, dst)
}

// Find returns the transform from src to dst.
func (r *Registry) Find(src, dst CRS) (*Transform, error) {
	if src.IsZero() || dst.IsZero() {
		return nil, ErrNoCRS
	}
	key := [2]int{src.code, dst.code}
	if t, ok := r.cache.Get(key); ok {
		return t, nil
	}
	t := &Transform{src: src, dst: dst, identity: src.code == dst.code}
	if !t.identity {
		// Try the pair once so unusable combinations fail at lookup time.
		x, y := t.Forward(0, 0)
		if math.IsNaN(x) || math.IsNaN(y) {
			return nil, fmt.Errorf("%w: no transform %s -> %s", ErrUnsupportedCRS, src, dst)
		}
	}
	r.cache.Add(key, t)
	return t, nil
}
