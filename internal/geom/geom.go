package geom

// Pos is a grid cell. R grows downward, C grows rightward.
type Pos struct {
	R int `json:"r"`
	C int `json:"c"`
}

func (p Pos) Add(o Pos) Pos { return Pos{R: p.R + o.R, C: p.C + o.C} }
func (p Pos) Sub(o Pos) Pos { return Pos{R: p.R - o.R, C: p.C - o.C} }

// Vec returns the position as a float vector for norm computations.
func (p Pos) Vec() []float64 { return []float64{float64(p.R), float64(p.C)} }

func (p Pos) ToArray() [2]int { return [2]int{p.R, p.C} }

// Chebyshev is the max-norm distance between two cells.
func Chebyshev(a, b Pos) int {
	dr := abs(a.R - b.R)
	dc := abs(a.C - b.C)
	if dr > dc {
		return dr
	}
	return dc
}

// InRect reports whether p lies inside a rows x cols grid anchored at (0,0).
func InRect(p Pos, rows, cols int) bool {
	return p.R >= 0 && p.R < rows && p.C >= 0 && p.C < cols
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
