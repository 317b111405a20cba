package visibility

import (
	"testing"

	"github.com/mojoee/Abmarl/internal/geom"
)

func TestShadowRightOfObserver(t *testing.T) {
	obs := geom.Pos{R: 2, C: 2}
	wall := geom.Pos{R: 2, C: 4}
	m := Compute(obs, 2, []geom.Pos{wall}, Bounds{Rows: 10, Cols: 10})

	for _, p := range []geom.Pos{{R: 2, C: 5}, {R: 1, C: 5}} {
		if m.Visible(p) {
			t.Fatalf("%v should not be visible, got %s", p, m.At(p))
		}
	}
	for _, p := range []geom.Pos{{R: 2, C: 3}, {R: 0, C: 0}, wall, obs} {
		if !m.Visible(p) {
			t.Fatalf("%v should be visible, got %s", p, m.At(p))
		}
	}
}

func TestShadowBoundaryRayStaysVisible(t *testing.T) {
	m := Compute(geom.Pos{R: 2, C: 2}, 3, []geom.Pos{{R: 2, C: 4}}, Bounds{Rows: 10, Cols: 10})
	if got := m.At(geom.Pos{R: 2, C: 5}); got != Occluded {
		t.Fatalf("(2,5)=%s want occluded", got)
	}
	if got := m.At(geom.Pos{R: 1, C: 5}); got != Visible {
		t.Fatalf("(1,5) lies on the ray, got %s", got)
	}
	if got := m.At(geom.Pos{R: 3, C: 5}); got != Visible {
		t.Fatalf("(3,5) lies on the ray, got %s", got)
	}
}

func TestShadowDiagonal(t *testing.T) {
	m := Compute(geom.Pos{R: 5, C: 5}, 3, []geom.Pos{{R: 6, C: 6}}, Bounds{})
	for _, p := range []geom.Pos{{R: 7, C: 7}, {R: 8, C: 8}, {R: 7, C: 8}, {R: 8, C: 7}} {
		if got := m.At(p); got != Occluded {
			t.Fatalf("%v=%s want occluded", p, got)
		}
	}
	for _, p := range []geom.Pos{{R: 6, C: 8}, {R: 8, C: 6}, {R: 4, C: 4}, {R: 6, C: 6}} {
		if got := m.At(p); got != Visible {
			t.Fatalf("%v=%s want visible", p, got)
		}
	}
}

func TestShadowEverySector(t *testing.T) {
	center := geom.Pos{R: 10, C: 10}
	cases := []struct {
		wall, behind geom.Pos
	}{
		{geom.Pos{R: 10, C: 11}, geom.Pos{R: 10, C: 13}},
		{geom.Pos{R: 11, C: 11}, geom.Pos{R: 13, C: 13}},
		{geom.Pos{R: 11, C: 10}, geom.Pos{R: 13, C: 10}},
		{geom.Pos{R: 11, C: 9}, geom.Pos{R: 13, C: 7}},
		{geom.Pos{R: 10, C: 9}, geom.Pos{R: 10, C: 7}},
		{geom.Pos{R: 9, C: 9}, geom.Pos{R: 7, C: 7}},
		{geom.Pos{R: 9, C: 10}, geom.Pos{R: 7, C: 10}},
		{geom.Pos{R: 9, C: 11}, geom.Pos{R: 7, C: 13}},
	}
	for _, tc := range cases {
		m := Compute(center, 3, []geom.Pos{tc.wall}, Bounds{Rows: 20, Cols: 20})
		if got := m.At(tc.behind); got != Occluded {
			t.Fatalf("wall %v: %v=%s want occluded", tc.wall, tc.behind, got)
		}
		mirror := center.Sub(tc.behind.Sub(center))
		if got := m.At(mirror); got != Visible {
			t.Fatalf("wall %v: mirrored cell %v=%s want visible", tc.wall, mirror, got)
		}
	}
}

func TestShadowsCombine(t *testing.T) {
	m := Compute(geom.Pos{R: 5, C: 5}, 3, []geom.Pos{{R: 5, C: 6}, {R: 5, C: 4}}, Bounds{})
	if m.Visible(geom.Pos{R: 5, C: 8}) || m.Visible(geom.Pos{R: 5, C: 2}) {
		t.Fatalf("both shadows should apply")
	}
	if !m.Visible(geom.Pos{R: 2, C: 5}) {
		t.Fatalf("cell above should stay visible")
	}
}

func TestOutOfBoundsIsDistinct(t *testing.T) {
	m := Compute(geom.Pos{R: 0, C: 0}, 1, nil, Bounds{Rows: 3, Cols: 3})
	if got := m.Local(-1, 0); got != OutOfBounds {
		t.Fatalf("Local(-1,0)=%s", got)
	}
	if got := m.Local(2, 0); got != OutOfRange {
		t.Fatalf("Local(2,0)=%s", got)
	}
	g := m.Grid()
	want := [][]int{{0, 0, 0}, {0, 1, 1}, {0, 1, 1}}
	for r := range want {
		for c := range want[r] {
			if g[r][c] != want[r][c] {
				t.Fatalf("Grid=%v want %v", g, want)
			}
		}
	}
}
