// Package space describes the shape of agent actions and observations and
// converts points of those shapes to and from flat numeric vectors.
package space

import (
	"fmt"
	"math"
	"strings"
)

type Kind int

const (
	KindBox Kind = iota + 1
	KindDiscrete
	KindTuple
	KindDict
	KindMultiBinary
	KindMultiDiscrete
)

func (k Kind) String() string {
	switch k {
	case KindBox:
		return "box"
	case KindDiscrete:
		return "discrete"
	case KindTuple:
		return "tuple"
	case KindDict:
		return "dict"
	case KindMultiBinary:
		return "multi_binary"
	case KindMultiDiscrete:
		return "multi_discrete"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Space is an immutable description of a value's shape and bounds.
// Spaces are always handled through pointers; wrappers rely on pointer
// identity to remember which space they produced.
type Space interface {
	Kind() Kind
	String() string
}

// Value is a point of a Space. Canonical Go representations:
//
//	*Box           []float64 (Float) or []int (Int), row-major, len == Dim
//	*Discrete      int
//	*Tuple         []Value
//	*Dict          map[string]Value
//	*MultiBinary   []int of 0/1
//	*MultiDiscrete []int
type Value = any

type NumKind int

const (
	Float NumKind = iota
	Int
)

func (n NumKind) String() string {
	if n == Int {
		return "int"
	}
	return "float"
}

// Box is a (possibly multi-dimensional) continuous or integer interval.
// Low and High are stored flattened in row-major order.
type Box struct {
	Low   []float64
	High  []float64
	Shape []int
	Num   NumKind
}

func NewBox(low, high []float64, shape []int, num NumKind) (*Box, error) {
	n, err := shapeSize(shape)
	if err != nil {
		return nil, err
	}
	if len(low) != n || len(high) != n {
		return nil, fmt.Errorf("box: bounds length low=%d high=%d, shape %v needs %d", len(low), len(high), shape, n)
	}
	for i := range low {
		if math.IsNaN(low[i]) || math.IsNaN(high[i]) || low[i] > high[i] {
			return nil, fmt.Errorf("box: bad bounds at %d: [%v, %v]", i, low[i], high[i])
		}
		if num == Int && math.Ceil(low[i]) > math.Floor(high[i]) {
			return nil, fmt.Errorf("box: no integer in bounds at %d: [%v, %v]", i, low[i], high[i])
		}
	}
	return &Box{
		Low:   append([]float64(nil), low...),
		High:  append([]float64(nil), high...),
		Shape: append([]int(nil), shape...),
		Num:   num,
	}, nil
}

// UniformBox builds a box where every element shares the same bounds.
// It panics on a non-positive shape, which is a programming error.
func UniformBox(low, high float64, num NumKind, shape ...int) *Box {
	n, err := shapeSize(shape)
	if err != nil {
		panic(err)
	}
	lo := make([]float64, n)
	hi := make([]float64, n)
	for i := 0; i < n; i++ {
		lo[i] = low
		hi[i] = high
	}
	b, err := NewBox(lo, hi, shape, num)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Box) Kind() Kind { return KindBox }

func (b *Box) String() string {
	return fmt.Sprintf("Box(%v, %s)", b.Shape, b.Num)
}

func shapeSize(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("box: empty shape")
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("box: non-positive dimension in shape %v", shape)
		}
		n *= d
	}
	return n, nil
}

type Discrete struct {
	N int
}

func NewDiscrete(n int) *Discrete {
	if n <= 0 {
		panic(fmt.Sprintf("discrete: n must be positive, got %d", n))
	}
	return &Discrete{N: n}
}

func (d *Discrete) Kind() Kind     { return KindDiscrete }
func (d *Discrete) String() string { return fmt.Sprintf("Discrete(%d)", d.N) }

type Tuple struct {
	Spaces []Space
}

func NewTuple(spaces ...Space) *Tuple {
	return &Tuple{Spaces: append([]Space(nil), spaces...)}
}

func (t *Tuple) Kind() Kind { return KindTuple }

func (t *Tuple) String() string {
	parts := make([]string, len(t.Spaces))
	for i, s := range t.Spaces {
		parts[i] = s.String()
	}
	return "Tuple(" + strings.Join(parts, ", ") + ")"
}

type Entry struct {
	Name  string
	Space Space
}

// Dict is a named mapping of sub-spaces. Declaration order is the encoding
// order used by Flatten, Unflatten and FlattenSpace.
type Dict struct {
	entries []Entry
	index   map[string]int
}

func NewDict(entries ...Entry) *Dict {
	d := &Dict{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if _, dup := d.index[e.Name]; dup {
			panic(fmt.Sprintf("dict: duplicate entry %q", e.Name))
		}
		d.index[e.Name] = len(d.entries)
		d.entries = append(d.entries, e)
	}
	return d
}

func (d *Dict) Kind() Kind { return KindDict }
func (d *Dict) Len() int   { return len(d.entries) }

func (d *Dict) Entries() []Entry {
	return append([]Entry(nil), d.entries...)
}

func (d *Dict) Keys() []string {
	out := make([]string, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.Name
	}
	return out
}

func (d *Dict) Get(name string) (Space, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.entries[i].Space, true
}

// With returns a copy of d where name maps to s. An existing entry keeps
// its position; a new one is appended.
func (d *Dict) With(name string, s Space) *Dict {
	entries := d.Entries()
	if i, ok := d.index[name]; ok {
		entries[i].Space = s
	} else {
		entries = append(entries, Entry{Name: name, Space: s})
	}
	return NewDict(entries...)
}

func (d *Dict) String() string {
	parts := make([]string, len(d.entries))
	for i, e := range d.entries {
		parts[i] = e.Name + ": " + e.Space.String()
	}
	return "Dict(" + strings.Join(parts, ", ") + ")"
}

type MultiBinary struct {
	N int
}

func NewMultiBinary(n int) *MultiBinary {
	if n <= 0 {
		panic(fmt.Sprintf("multi_binary: n must be positive, got %d", n))
	}
	return &MultiBinary{N: n}
}

func (m *MultiBinary) Kind() Kind     { return KindMultiBinary }
func (m *MultiBinary) String() string { return fmt.Sprintf("MultiBinary(%d)", m.N) }

type MultiDiscrete struct {
	Nvec []int
}

func NewMultiDiscrete(nvec ...int) *MultiDiscrete {
	for _, n := range nvec {
		if n <= 0 {
			panic(fmt.Sprintf("multi_discrete: category counts must be positive, got %v", nvec))
		}
	}
	return &MultiDiscrete{Nvec: append([]int(nil), nvec...)}
}

func (m *MultiDiscrete) Kind() Kind     { return KindMultiDiscrete }
func (m *MultiDiscrete) String() string { return fmt.Sprintf("MultiDiscrete(%v)", m.Nvec) }

// Validate checks the structural invariants of s and all of its children.
func Validate(s Space) error {
	switch t := s.(type) {
	case *Box:
		_, err := NewBox(t.Low, t.High, t.Shape, t.Num)
		return err
	case *Discrete:
		if t.N <= 0 {
			return fmt.Errorf("discrete: n must be positive, got %d", t.N)
		}
	case *Tuple:
		for i, c := range t.Spaces {
			if err := Validate(c); err != nil {
				return fmt.Errorf("tuple[%d]: %w", i, err)
			}
		}
	case *Dict:
		for _, e := range t.entries {
			if err := Validate(e.Space); err != nil {
				return fmt.Errorf("dict[%s]: %w", e.Name, err)
			}
		}
	case *MultiBinary:
		if t.N <= 0 {
			return fmt.Errorf("multi_binary: n must be positive, got %d", t.N)
		}
	case *MultiDiscrete:
		if len(t.Nvec) == 0 {
			return fmt.Errorf("multi_discrete: empty nvec")
		}
		for _, n := range t.Nvec {
			if n <= 0 {
				return fmt.Errorf("multi_discrete: category counts must be positive, got %v", t.Nvec)
			}
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedSpace, s)
	}
	return nil
}
