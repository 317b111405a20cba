package space

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"reflect"
)

// Contains reports whether v is a well-formed point of s.
func Contains(s Space, v Value) bool {
	_, err := Flatten(s, v)
	return err == nil
}

// Sample draws a uniformly distributed point of s from rng. Unbounded box
// dimensions fall back to normal or exponential draws.
func Sample(s Space, rng *rand.Rand) (Value, error) {
	switch t := s.(type) {
	case *Box:
		if err := Validate(t); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedSpace, err)
		}
		xs := make([]float64, len(t.Low))
		for i := range xs {
			xs[i] = sampleInterval(t.Low[i], t.High[i], t.Num, rng)
		}
		if t.Num == Int {
			out, _ := asInts(xs)
			return out, nil
		}
		return xs, nil
	case *Discrete:
		return rng.Intn(t.N), nil
	case *Tuple:
		out := make([]Value, len(t.Spaces))
		for i, c := range t.Spaces {
			v, err := Sample(c, rng)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *Dict:
		out := make(map[string]Value, len(t.entries))
		for _, e := range t.entries {
			v, err := Sample(e.Space, rng)
			if err != nil {
				return nil, err
			}
			out[e.Name] = v
		}
		return out, nil
	case *MultiBinary:
		out := make([]int, t.N)
		for i := range out {
			out[i] = rng.Intn(2)
		}
		return out, nil
	case *MultiDiscrete:
		out := make([]int, len(t.Nvec))
		for i, n := range t.Nvec {
			out[i] = rng.Intn(n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedSpace, s)
	}
}

func sampleInterval(lo, hi float64, num NumKind, rng *rand.Rand) float64 {
	loInf, hiInf := math.IsInf(lo, -1), math.IsInf(hi, 1)
	if num == Int && !loInf && !hiInf {
		a, b := math.Ceil(lo), math.Floor(hi)
		return a + float64(rng.Int63n(int64(b-a)+1))
	}
	var x float64
	switch {
	case loInf && hiInf:
		x = rng.NormFloat64()
	case loInf:
		x = hi - rng.ExpFloat64()
	case hiInf:
		x = lo + rng.ExpFloat64()
	default:
		x = lo + rng.Float64()*(hi-lo)
	}
	if num == Int {
		x = math.Round(x)
	}
	return x
}

// ValueEqual compares two values structurally. Numeric scalars and slices
// compare by value regardless of int/float representation.
func ValueEqual(a, b Value) bool {
	if fa, ok := asFloats(a); ok {
		fb, ok := asFloats(b)
		if !ok || len(fa) != len(fb) {
			return false
		}
		for i := range fa {
			if fa[i] != fb[i] {
				return false
			}
		}
		return true
	}
	switch ta := a.(type) {
	case []Value:
		tb, ok := b.([]Value)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !ValueEqual(ta[i], tb[i]) {
				return false
			}
		}
		return true
	case map[string]Value:
		tb, ok := b.(map[string]Value)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for k, va := range ta {
			vb, ok := tb[k]
			if !ok || !ValueEqual(va, vb) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	}
	return reflect.DeepEqual(a, b)
}

// Coerce converts a generically decoded JSON value (float64, []any,
// map[string]any) into the canonical representation for s. Nested arrays for
// multi-dimensional boxes are accepted and read in row-major order.
func Coerce(s Space, v any) (Value, error) {
	switch t := s.(type) {
	case *Box:
		xs, err := jsonNumbers(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t, err)
		}
		if t.Num == Int {
			out, ok := asInts(xs)
			if !ok {
				return nil, fmt.Errorf("%w: %s has non-integral element", ErrMalformedEncoding, t)
			}
			return out, nil
		}
		return xs, nil
	case *Discrete:
		n, ok := asInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s got %T", ErrMalformedEncoding, t, v)
		}
		return n, nil
	case *Tuple:
		parts, ok := v.([]any)
		if !ok || len(parts) != len(t.Spaces) {
			return nil, fmt.Errorf("%w: %s got %T", ErrMalformedEncoding, t, v)
		}
		out := make([]Value, len(parts))
		for i, c := range t.Spaces {
			cv, err := Coerce(c, parts[i])
			if err != nil {
				return nil, fmt.Errorf("tuple[%d]: %w", i, err)
			}
			out[i] = cv
		}
		return out, nil
	case *Dict:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s got %T", ErrMalformedEncoding, t, v)
		}
		out := make(map[string]Value, len(m))
		for _, e := range t.entries {
			raw, ok := m[e.Name]
			if !ok {
				return nil, fmt.Errorf("%w: dict missing %q", ErrMalformedEncoding, e.Name)
			}
			cv, err := Coerce(e.Space, raw)
			if err != nil {
				return nil, fmt.Errorf("dict[%s]: %w", e.Name, err)
			}
			out[e.Name] = cv
		}
		return out, nil
	case *MultiBinary, *MultiDiscrete:
		xs, err := jsonNumbers(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t, err)
		}
		out, ok := asInts(xs)
		if !ok {
			return nil, fmt.Errorf("%w: %s has non-integral element", ErrMalformedEncoding, t)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedSpace, s)
	}
}

func jsonNumbers(v any) ([]float64, error) {
	var out []float64
	var walk func(any) error
	walk = func(v any) error {
		switch t := v.(type) {
		case float64:
			out = append(out, t)
		case int:
			out = append(out, float64(t))
		case []float64:
			out = append(out, t...)
		case []int:
			for _, x := range t {
				out = append(out, float64(x))
			}
		case []any:
			for _, x := range t {
				if err := walk(x); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: expected number, got %T", ErrMalformedEncoding, v)
		}
		return nil
	}
	if err := walk(v); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeValue parses raw JSON into a validated point of s.
func DecodeValue(s Space, raw []byte) (Value, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	v, err := Coerce(s, generic)
	if err != nil {
		return nil, err
	}
	if _, err := Flatten(s, v); err != nil {
		return nil, err
	}
	return v, nil
}
