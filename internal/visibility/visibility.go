// Package visibility computes which cells around an observer are hidden
// behind opaque obstacles on a grid.
package visibility

import "github.com/mojoee/Abmarl/internal/geom"

type Cell uint8

const (
	Visible Cell = iota
	Occluded
	OutOfBounds
	OutOfRange
)

func (c Cell) String() string {
	switch c {
	case Visible:
		return "visible"
	case Occluded:
		return "occluded"
	case OutOfBounds:
		return "out_of_bounds"
	case OutOfRange:
		return "out_of_range"
	}
	return "unknown"
}

// Bounds is the grid size. A zero Bounds means the grid is unbounded.
type Bounds struct {
	Rows int
	Cols int
}

func (b Bounds) contains(p geom.Pos) bool {
	if b.Rows <= 0 || b.Cols <= 0 {
		return true
	}
	return geom.InRect(p, b.Rows, b.Cols)
}

// Mask is the visibility of the (2*View+1) square centred on an observer.
// It is computed from positions at one instant and must not be reused after
// anything moves.
type Mask struct {
	Center geom.Pos
	View   int

	bounds   Bounds
	occluded []bool
}

// Compute casts a shadow behind every obstacle inside the observer's view
// window. A cell is occluded if any obstacle shades it; obstacle cells
// themselves stay visible.
func Compute(observer geom.Pos, view int, obstacles []geom.Pos, bounds Bounds) *Mask {
	if view < 0 {
		view = 0
	}
	side := 2*view + 1
	m := &Mask{
		Center:   observer,
		View:     view,
		bounds:   bounds,
		occluded: make([]bool, side*side),
	}
	for _, o := range obstacles {
		d := o.Sub(observer)
		if d.R == 0 && d.C == 0 {
			continue
		}
		if d.R < -view || d.R > view || d.C < -view || d.C > view {
			continue
		}
		m.castShadow(d.R, d.C)
	}
	return m
}

func (m *Mask) index(dr, dc int) int {
	return (dr+m.View)*(2*m.View+1) + (dc + m.View)
}

// castShadow shades the cells strictly between the two rays from the
// observer that graze the obstacle's cell, beyond the obstacle along the
// sector's primary axis.
func (m *Mask) castShadow(dr, dc int) {
	v := m.View
	fr, fc := float64(dr), float64(dc)
	var rlo, rhi, clo, chi int
	var lo, hi float64
	byRow := false
	switch {
	case dr == 0 && dc > 0: // right
		rlo, rhi, clo, chi = -v, v, dc, v
		lo, hi = (fr-0.5)/(fc-0.5), (fr+0.5)/(fc-0.5)
	case dr > 0 && dc > 0: // below right
		rlo, rhi, clo, chi = dr, v, dc, v
		lo, hi = (fr-0.5)/(fc+0.5), (fr+0.5)/(fc-0.5)
	case dr > 0 && dc == 0: // below
		rlo, rhi, clo, chi = dr, v, -v, v
		lo, hi, byRow = (fc-0.5)/(fr-0.5), (fc+0.5)/(fr-0.5), true
	case dr > 0 && dc < 0: // below left
		rlo, rhi, clo, chi = dr, v, -v, dc
		lo, hi = (fr-0.5)/(fc-0.5), (fr+0.5)/(fc+0.5)
	case dr == 0 && dc < 0: // left
		rlo, rhi, clo, chi = -v, v, -v, dc
		lo, hi = (fr-0.5)/(fc+0.5), (fr+0.5)/(fc+0.5)
	case dr < 0 && dc < 0: // above left
		rlo, rhi, clo, chi = -v, dr, -v, dc
		lo, hi = (fr-0.5)/(fc+0.5), (fr+0.5)/(fc-0.5)
	case dr < 0 && dc == 0: // above
		rlo, rhi, clo, chi = -v, dr, -v, v
		lo, hi, byRow = (fc-0.5)/(fr+0.5), (fc+0.5)/(fr+0.5), true
	case dr < 0 && dc > 0: // above right
		rlo, rhi, clo, chi = -v, dr, dc, v
		lo, hi = (fr-0.5)/(fc-0.5), (fr+0.5)/(fc+0.5)
	default:
		return
	}
	for r := rlo; r <= rhi; r++ {
		for c := clo; c <= chi; c++ {
			if r == dr && c == dc {
				continue
			}
			t, x := float64(c), float64(r)
			if byRow {
				t, x = float64(r), float64(c)
			}
			// Cells on a boundary ray stay visible.
			if lo*t < x && x < hi*t {
				m.occluded[m.index(r, c)] = true
			}
		}
	}
}

// Local classifies the cell at offset (dr, dc) from the observer.
func (m *Mask) Local(dr, dc int) Cell {
	if dr < -m.View || dr > m.View || dc < -m.View || dc > m.View {
		return OutOfRange
	}
	if !m.bounds.contains(m.Center.Add(geom.Pos{R: dr, C: dc})) {
		return OutOfBounds
	}
	if m.occluded[m.index(dr, dc)] {
		return Occluded
	}
	return Visible
}

// At classifies the absolute grid cell p.
func (m *Mask) At(p geom.Pos) Cell {
	d := p.Sub(m.Center)
	return m.Local(d.R, d.C)
}

func (m *Mask) Visible(p geom.Pos) bool { return m.At(p) == Visible }

// Grid renders the window as rows of 1 (visible) and 0 (anything else).
func (m *Mask) Grid() [][]int {
	side := 2*m.View + 1
	out := make([][]int, side)
	for r := 0; r < side; r++ {
		out[r] = make([]int, side)
		for c := 0; c < side; c++ {
			if m.Local(r-m.View, c-m.View) == Visible {
				out[r][c] = 1
			}
		}
	}
	return out
}
