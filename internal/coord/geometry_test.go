package coord

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
)

func TestDensify(t *testing.T) {
	ls := orb.LineString{{0, 0}, {4, 0}, {4, 4}}
	got := Densify(ls, 4).(orb.LineString)
	if len(got) != 9 {
		t.Fatalf("len = %d, want 9", len(got))
	}
	if got[1] != (orb.Point{1, 0}) || got[8] != (orb.Point{4, 4}) {
		t.Errorf("unexpected points %v", got)
	}
	// input must not be modified
	if len(ls) != 3 {
		t.Error("input modified")
	}

	poly := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	dp := Densify(poly, 2).(orb.Polygon)
	if len(dp[0]) != 9 {
		t.Errorf("ring len = %d, want 9", len(dp[0]))
	}
	if dp[0][0] != dp[0][len(dp[0])-1] {
		t.Error("densified ring is not closed")
	}
}

func TestNewGeometry_RequiresCRS(t *testing.T) {
	_, err := NewGeometry(orb.Point{1, 2}, CRS{})
	if !errors.Is(err, ErrNoCRS) {
		t.Errorf("err = %v, want ErrNoCRS", err)
	}
}

func TestGeometryTo_DoesNotMutate(t *testing.T) {
	poly := orb.Polygon{{{7, 46}, {8, 46}, {8, 47}, {7, 47}, {7, 46}}}
	g, err := NewGeometry(poly, WGS84())
	if err != nil {
		t.Fatal(err)
	}
	out, err := g.To(MustLookup(2056))
	if err != nil {
		t.Fatal(err)
	}
	if poly[0][0] != (orb.Point{7, 46}) {
		t.Error("source polygon mutated by reprojection")
	}
	if out.CRS.Code() != 2056 {
		t.Errorf("CRS = %s", out.CRS)
	}
	b := out.Geom.Bound()
	if b.Min[0] < 2400000 || b.Max[0] > 2800000 {
		t.Errorf("unexpected LV95 bound %v", b)
	}
}

func TestEnvelope_Intersection(t *testing.T) {
	c := WGS84()
	a := NewEnvelope(0, 0, 10, 10, c)
	b := NewEnvelope(5, 5, 15, 15, c)
	got, ok := a.Intersection(b)
	if !ok {
		t.Fatal("expected overlap")
	}
	if got.Bound != (orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{10, 10}}) {
		t.Errorf("Intersection = %v", got.Bound)
	}
	if _, ok := a.Intersection(NewEnvelope(20, 20, 30, 30, c)); ok {
		t.Error("disjoint envelopes reported as overlapping")
	}
	// Touching edges have no area.
	if _, ok := a.Intersection(NewEnvelope(10, 0, 20, 10, c)); ok {
		t.Error("touching envelopes reported as overlapping")
	}
}

func TestEnvelope_ToContainsDensifiedBoundary(t *testing.T) {
	// A wide geographic box bulges in Mercator-free projections; the
	// reprojected envelope must cover every reprojected boundary point.
	e := NewEnvelope(5.9, 45.8, 10.5, 47.8, WGS84())
	lv, err := e.To(MustLookup(2056))
	if err != nil {
		t.Fatal(err)
	}
	tr, _ := FindTransform(WGS84(), MustLookup(2056))
	ring := Densify(e.Bound.ToPolygon(), densifySteps).(orb.Polygon)[0]
	for _, p := range ring {
		q := tr.ForwardPoint(p)
		if !lv.Bound.Pad(1e-6).Contains(q) {
			t.Fatalf("boundary point %v -> %v outside %v", p, q, lv.Bound)
		}
	}
}

func TestEnvelope_Contains(t *testing.T) {
	c := WGS84()
	outer := NewEnvelope(0, 0, 10, 10, c)
	if !outer.Contains(NewEnvelope(1, 1, 9, 9, c), 0) {
		t.Error("inner envelope not contained")
	}
	if outer.Contains(NewEnvelope(1, 1, 10.5, 9, c), 0) {
		t.Error("overhanging envelope contained with zero tolerance")
	}
	if !outer.Contains(NewEnvelope(1, 1, 10+1e-9, 9, c), 1e-6) {
		t.Error("tolerance not applied")
	}
}
