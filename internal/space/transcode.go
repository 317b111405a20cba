package space

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dim is the length of the flat encoding of any point of s.
func Dim(s Space) (int, error) {
	switch t := s.(type) {
	case *Box:
		return len(t.Low), nil
	case *Discrete:
		return t.N, nil
	case *Tuple:
		total := 0
		for _, c := range t.Spaces {
			d, err := Dim(c)
			if err != nil {
				return 0, err
			}
			total += d
		}
		return total, nil
	case *Dict:
		total := 0
		for _, e := range t.entries {
			d, err := Dim(e.Space)
			if err != nil {
				return 0, err
			}
			total += d
		}
		return total, nil
	case *MultiBinary:
		return t.N, nil
	case *MultiDiscrete:
		return len(t.Nvec), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedSpace, s)
	}
}

// Flatten encodes v as a vector of length Dim(s). Discrete values become
// one-hot vectors; composites concatenate their children in declaration order.
func Flatten(s Space, v Value) ([]float64, error) {
	d, err := Dim(s)
	if err != nil {
		return nil, err
	}
	out, err := appendFlat(make([]float64, 0, d), s, v)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func appendFlat(dst []float64, s Space, v Value) ([]float64, error) {
	switch t := s.(type) {
	case *Box:
		xs, ok := asFloats(v)
		if !ok || len(xs) != len(t.Low) {
			return nil, fmt.Errorf("%w: %s got %T", ErrMalformedEncoding, t, v)
		}
		if err := checkBox(t, xs); err != nil {
			return nil, err
		}
		return append(dst, xs...), nil

	case *Discrete:
		idx, ok := asInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s got %T", ErrMalformedEncoding, t, v)
		}
		if idx < 0 || idx >= t.N {
			return nil, fmt.Errorf("%w: %s got %d", ErrValueOutOfRange, t, idx)
		}
		start := len(dst)
		dst = append(dst, make([]float64, t.N)...)
		dst[start+idx] = 1
		return dst, nil

	case *Tuple:
		parts, ok := v.([]Value)
		if !ok || len(parts) != len(t.Spaces) {
			return nil, fmt.Errorf("%w: %s got %T", ErrMalformedEncoding, t, v)
		}
		var err error
		for i, c := range t.Spaces {
			if dst, err = appendFlat(dst, c, parts[i]); err != nil {
				return nil, fmt.Errorf("tuple[%d]: %w", i, err)
			}
		}
		return dst, nil

	case *Dict:
		m, ok := v.(map[string]Value)
		if !ok || len(m) != len(t.entries) {
			return nil, fmt.Errorf("%w: %s got %T with %d keys", ErrMalformedEncoding, t, v, len(m))
		}
		var err error
		for _, e := range t.entries {
			part, ok := m[e.Name]
			if !ok {
				return nil, fmt.Errorf("%w: dict missing %q", ErrMalformedEncoding, e.Name)
			}
			if dst, err = appendFlat(dst, e.Space, part); err != nil {
				return nil, fmt.Errorf("dict[%s]: %w", e.Name, err)
			}
		}
		return dst, nil

	case *MultiBinary:
		bits, ok := asInts(v)
		if !ok || len(bits) != t.N {
			return nil, fmt.Errorf("%w: %s got %T", ErrMalformedEncoding, t, v)
		}
		for i, b := range bits {
			if b != 0 && b != 1 {
				return nil, fmt.Errorf("%w: %s element %d is %d", ErrValueOutOfRange, t, i, b)
			}
			dst = append(dst, float64(b))
		}
		return dst, nil

	case *MultiDiscrete:
		xs, ok := asInts(v)
		if !ok || len(xs) != len(t.Nvec) {
			return nil, fmt.Errorf("%w: %s got %T", ErrMalformedEncoding, t, v)
		}
		for i, x := range xs {
			if x < 0 || x >= t.Nvec[i] {
				return nil, fmt.Errorf("%w: %s element %d is %d", ErrValueOutOfRange, t, i, x)
			}
			dst = append(dst, float64(x))
		}
		return dst, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedSpace, s)
	}
}

// Unflatten is the inverse of Flatten. x must have length Dim(s).
func Unflatten(s Space, x []float64) (Value, error) {
	d, err := Dim(s)
	if err != nil {
		return nil, err
	}
	if len(x) != d {
		return nil, fmt.Errorf("%w: %s needs %d elements, got %d", ErrMalformedEncoding, s, d, len(x))
	}
	return unflat(s, x)
}

func unflat(s Space, x []float64) (Value, error) {
	switch t := s.(type) {
	case *Box:
		if err := checkBox(t, x); err != nil {
			return nil, err
		}
		if t.Num == Int {
			out, ok := asInts(x)
			if !ok {
				return nil, fmt.Errorf("%w: %s has non-integral element", ErrMalformedEncoding, t)
			}
			return out, nil
		}
		return append([]float64(nil), x...), nil

	case *Discrete:
		for i, v := range x {
			if v != 0 {
				return i, nil
			}
		}
		return nil, fmt.Errorf("%w: %s one-hot has no nonzero entry", ErrMalformedEncoding, t)

	case *Tuple:
		out := make([]Value, len(t.Spaces))
		off := 0
		for i, c := range t.Spaces {
			d, _ := Dim(c)
			v, err := unflat(c, x[off:off+d])
			if err != nil {
				return nil, fmt.Errorf("tuple[%d]: %w", i, err)
			}
			out[i] = v
			off += d
		}
		return out, nil

	case *Dict:
		out := make(map[string]Value, len(t.entries))
		off := 0
		for _, e := range t.entries {
			d, _ := Dim(e.Space)
			v, err := unflat(e.Space, x[off:off+d])
			if err != nil {
				return nil, fmt.Errorf("dict[%s]: %w", e.Name, err)
			}
			out[e.Name] = v
			off += d
		}
		return out, nil

	case *MultiBinary:
		bits, ok := asInts(x)
		if !ok {
			return nil, fmt.Errorf("%w: %s has non-integral element", ErrMalformedEncoding, t)
		}
		for i, b := range bits {
			if b != 0 && b != 1 {
				return nil, fmt.Errorf("%w: %s element %d is %d", ErrValueOutOfRange, t, i, b)
			}
		}
		return bits, nil

	case *MultiDiscrete:
		xs, ok := asInts(x)
		if !ok {
			return nil, fmt.Errorf("%w: %s has non-integral element", ErrMalformedEncoding, t)
		}
		for i, v := range xs {
			if v < 0 || v >= t.Nvec[i] {
				return nil, fmt.Errorf("%w: %s element %d is %d", ErrValueOutOfRange, t, i, v)
			}
		}
		return xs, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedSpace, s)
	}
}

// FlattenSpace returns the flat bounding box of s: a one-dimensional Box with
// Dim(s) elements that contains Flatten(s, v) for every valid v.
func FlattenSpace(s Space) (*Box, error) {
	var low, high []float64
	isInt := true
	var walk func(Space) error
	walk = func(s Space) error {
		switch t := s.(type) {
		case *Box:
			low = append(low, t.Low...)
			high = append(high, t.High...)
			if t.Num != Int {
				isInt = false
			}
		case *Discrete:
			low, high = appendUniform(low, high, 0, 1, t.N)
		case *Tuple:
			for _, c := range t.Spaces {
				if err := walk(c); err != nil {
					return err
				}
			}
		case *Dict:
			for _, e := range t.entries {
				if err := walk(e.Space); err != nil {
					return err
				}
			}
		case *MultiBinary:
			low, high = appendUniform(low, high, 0, 1, t.N)
		case *MultiDiscrete:
			for _, n := range t.Nvec {
				low = append(low, 0)
				high = append(high, float64(n))
			}
		default:
			return fmt.Errorf("%w: %T", ErrUnsupportedSpace, s)
		}
		return nil
	}
	if err := walk(s); err != nil {
		return nil, err
	}
	num := Float
	if isInt {
		num = Int
	}
	if low == nil {
		low, high = []float64{}, []float64{}
	}
	return &Box{Low: low, High: high, Shape: []int{len(low)}, Num: num}, nil
}

func appendUniform(low, high []float64, lo, hi float64, n int) ([]float64, []float64) {
	seg := make([]float64, 2*n)
	floats.AddConst(lo, seg[:n])
	floats.AddConst(hi, seg[n:])
	return append(low, seg[:n]...), append(high, seg[n:]...)
}

// Bounds returns the box's bounds as flat vectors. A zero-length box has
// nil bounds.
func (b *Box) Bounds() (low, high *mat.VecDense) {
	if len(b.Low) == 0 {
		return nil, nil
	}
	return mat.NewVecDense(len(b.Low), b.Low), mat.NewVecDense(len(b.High), b.High)
}

// contains reports whether every element of x lies within b's bounds.
func (b *Box) contains(x *mat.VecDense) bool {
	low, high := b.Bounds()
	var below, above mat.VecDense
	below.SubVec(x, low)
	above.SubVec(high, x)
	if floats.HasNaN(below.RawVector().Data) || floats.HasNaN(above.RawVector().Data) {
		return false
	}
	return mat.Min(&below) >= 0 && mat.Min(&above) >= 0
}

func checkBox(b *Box, xs []float64) error {
	if len(xs) == 0 {
		return nil
	}
	if b.contains(mat.NewVecDense(len(xs), xs)) {
		if b.Num != Int {
			return nil
		}
		for i, x := range xs {
			if x != math.Trunc(x) {
				return fmt.Errorf("%w: %s element %d is non-integral %v", ErrMalformedEncoding, b, i, x)
			}
		}
		return nil
	}
	// Out of range or an infinite element against an infinite bound; find
	// the element to report.
	for i, x := range xs {
		if math.IsNaN(x) || x < b.Low[i] || x > b.High[i] {
			return fmt.Errorf("%w: %s element %d is %v, bounds [%v, %v]", ErrValueOutOfRange, b, i, x, b.Low[i], b.High[i])
		}
		if b.Num == Int && x != math.Trunc(x) {
			return fmt.Errorf("%w: %s element %d is non-integral %v", ErrMalformedEncoding, b, i, x)
		}
	}
	return nil
}

func asInt(v Value) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func asInts(v Value) ([]int, bool) {
	switch xs := v.(type) {
	case []int:
		return append([]int(nil), xs...), true
	case []float64:
		out := make([]int, len(xs))
		for i, x := range xs {
			if x != math.Trunc(x) || math.IsInf(x, 0) {
				return nil, false
			}
			out[i] = int(x)
		}
		return out, true
	}
	return nil, false
}

func asFloats(v Value) ([]float64, bool) {
	switch xs := v.(type) {
	case []float64:
		return xs, true
	case []int:
		out := make([]float64, len(xs))
		for i, x := range xs {
			out[i] = float64(x)
		}
		return out, true
	case float64:
		return []float64{xs}, true
	case int:
		return []float64{float64(xs)}, true
	}
	return nil, false
}
