package space

import (
	"fmt"
	"math"
)

// Cardinality is the number of distinct points of a finite space. Float
// boxes and integer boxes with unbounded sides have no cardinality.
func Cardinality(s Space) (int, error) {
	radices, err := radices(s, nil)
	if err != nil {
		return 0, err
	}
	n := 1
	for _, r := range radices {
		if n > math.MaxInt/r {
			return 0, fmt.Errorf("%w: %s has too many points to ravel", ErrUnsupportedSpace, s)
		}
		n *= r
	}
	return n, nil
}

// Ravel maps a point of a finite space to a single index in
// [0, Cardinality(s)). Leaves are read in encoding order with the first leaf
// most significant.
func Ravel(s Space, v Value) (int, error) {
	if _, err := Flatten(s, v); err != nil {
		return 0, err
	}
	rad, err := radices(s, nil)
	if err != nil {
		return 0, err
	}
	if _, err := Cardinality(s); err != nil {
		return 0, err
	}
	digits := appendDigits(nil, s, v)
	idx := 0
	for i, d := range digits {
		idx = idx*rad[i] + d
	}
	return idx, nil
}

// Unravel is the inverse of Ravel.
func Unravel(s Space, idx int) (Value, error) {
	n, err := Cardinality(s)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= n {
		return nil, fmt.Errorf("%w: index %d outside [0, %d)", ErrValueOutOfRange, idx, n)
	}
	rad, _ := radices(s, nil)
	digits := make([]int, len(rad))
	for i := len(rad) - 1; i >= 0; i-- {
		digits[i] = idx % rad[i]
		idx /= rad[i]
	}
	v, _ := fromDigits(s, digits)
	return v, nil
}

func radices(s Space, dst []int) ([]int, error) {
	switch t := s.(type) {
	case *Box:
		if t.Num != Int {
			return nil, fmt.Errorf("%w: cannot ravel float %s", ErrUnsupportedSpace, t)
		}
		for i := range t.Low {
			if math.IsInf(t.Low[i], 0) || math.IsInf(t.High[i], 0) {
				return nil, fmt.Errorf("%w: cannot ravel unbounded %s", ErrUnsupportedSpace, t)
			}
			r := math.Floor(t.High[i]) - math.Ceil(t.Low[i]) + 1
			if r < 1 || r > math.MaxInt32 {
				return nil, fmt.Errorf("%w: %s has no ravelable extent at %d", ErrUnsupportedSpace, t, i)
			}
			dst = append(dst, int(r))
		}
	case *Discrete:
		dst = append(dst, t.N)
	case *Tuple:
		var err error
		for _, c := range t.Spaces {
			if dst, err = radices(c, dst); err != nil {
				return nil, err
			}
		}
	case *Dict:
		var err error
		for _, e := range t.entries {
			if dst, err = radices(e.Space, dst); err != nil {
				return nil, err
			}
		}
	case *MultiBinary:
		for i := 0; i < t.N; i++ {
			dst = append(dst, 2)
		}
	case *MultiDiscrete:
		dst = append(dst, t.Nvec...)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedSpace, s)
	}
	return dst, nil
}

// appendDigits assumes v has already been validated against s.
func appendDigits(dst []int, s Space, v Value) []int {
	switch t := s.(type) {
	case *Box:
		xs, _ := asFloats(v)
		for i, x := range xs {
			dst = append(dst, int(x-math.Ceil(t.Low[i])))
		}
	case *Discrete:
		n, _ := asInt(v)
		dst = append(dst, n)
	case *Tuple:
		parts := v.([]Value)
		for i, c := range t.Spaces {
			dst = appendDigits(dst, c, parts[i])
		}
	case *Dict:
		m := v.(map[string]Value)
		for _, e := range t.entries {
			dst = appendDigits(dst, e.Space, m[e.Name])
		}
	case *MultiBinary, *MultiDiscrete:
		xs, _ := asInts(v)
		dst = append(dst, xs...)
	}
	return dst
}

func fromDigits(s Space, digits []int) (Value, []int) {
	switch t := s.(type) {
	case *Box:
		out := make([]int, len(t.Low))
		for i := range out {
			out[i] = digits[i] + int(math.Ceil(t.Low[i]))
		}
		return out, digits[len(out):]
	case *Discrete:
		return digits[0], digits[1:]
	case *Tuple:
		out := make([]Value, len(t.Spaces))
		for i, c := range t.Spaces {
			out[i], digits = fromDigits(c, digits)
		}
		return out, digits
	case *Dict:
		out := make(map[string]Value, len(t.entries))
		for _, e := range t.entries {
			out[e.Name], digits = fromDigits(e.Space, digits)
		}
		return out, digits
	case *MultiBinary:
		return append([]int(nil), digits[:t.N]...), digits[t.N:]
	case *MultiDiscrete:
		n := len(t.Nvec)
		return append([]int(nil), digits[:n]...), digits[n:]
	}
	return nil, digits
}
