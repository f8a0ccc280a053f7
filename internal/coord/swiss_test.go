package coord

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

// LV95 reference points published by swisstopo. Tolerances reflect the
// polynomial approximation, which degrades towards the borders.
var lv95Refs = []struct {
	name     string
	lv95     orb.Point
	wgs84    orb.Point
	tolDeg   float64
	tolMeter float64
}{
	{"Bern", orb.Point{2_600_000, 1_200_000}, orb.Point{7.438632, 46.951083}, 0.001, 100},
	{"Zurich", orb.Point{2_683_474, 1_247_862}, orb.Point{8.5417, 47.3769}, 0.005, 600},
	{"Geneva", orb.Point{2_500_560, 1_118_017}, orb.Point{6.1432, 46.2075}, 0.01, 600},
}

func lv95Transform(t *testing.T) *Transform {
	t.Helper()
	tr, err := FindTransform(MustLookup(2056), WGS84())
	if err != nil {
		t.Fatal(err)
	}
	if tr.IsIdentity() {
		t.Fatal("LV95 -> WGS84 reported as identity")
	}
	return tr
}

func TestLV95_ReferencePoints(t *testing.T) {
	tr := lv95Transform(t)
	for _, ref := range lv95Refs {
		t.Run(ref.name, func(t *testing.T) {
			got := tr.ForwardPoint(ref.lv95)
			if d := math.Max(math.Abs(got[0]-ref.wgs84[0]), math.Abs(got[1]-ref.wgs84[1])); d > ref.tolDeg {
				t.Errorf("forward %v = %v, off by %.6f°", ref.lv95, got, d)
			}
			back := tr.InversePoint(ref.wgs84)
			if d := math.Max(math.Abs(back[0]-ref.lv95[0]), math.Abs(back[1]-ref.lv95[1])); d > ref.tolMeter {
				t.Errorf("inverse %v = %v, off by %.1f m", ref.wgs84, back, d)
			}
		})
	}
}

// Envelope containment during ROI binding needs round trips far below a pixel.
func TestLV95_RoundTrip(t *testing.T) {
	tr := lv95Transform(t)
	rev := tr.Reverse()
	for _, ref := range lv95Refs {
		got := rev.ForwardPoint(tr.ForwardPoint(ref.lv95))
		if d := math.Hypot(got[0]-ref.lv95[0], got[1]-ref.lv95[1]); d > 1e-3 {
			t.Errorf("%s: LV95 round trip drifted %.4f m", ref.name, d)
		}
	}

	// Corners of the country, starting from lon/lat.
	for _, p := range []orb.Point{{5.96, 45.82}, {10.49, 47.81}, {6.13, 47.50}, {10.47, 46.17}} {
		got := tr.ForwardPoint(tr.InversePoint(p))
		if math.Abs(got[0]-p[0]) > 1e-8 || math.Abs(got[1]-p[1]) > 1e-8 {
			t.Errorf("WGS84 round trip %v = %v", p, got)
		}
	}
}

func TestLV95_Identifier(t *testing.T) {
	c := MustLookup(2056)
	if c.Code() != 2056 || c.Identifier() != "EPSG:2056" {
		t.Errorf("got %d %q", c.Code(), c.Identifier())
	}
	if c.Equal(WGS84()) {
		t.Error("LV95 equal to WGS84")
	}
}
