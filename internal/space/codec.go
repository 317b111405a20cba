package space

import (
	"encoding/json"
	"fmt"
	"math"
)

// Descriptor is the JSON form of a Space. It is sent to clients in the
// WELCOME message and stored with episode records.
type Descriptor struct {
	Kind    string            `json:"kind"`
	Low     []Bound           `json:"low,omitempty"`
	High    []Bound           `json:"high,omitempty"`
	Shape   []int             `json:"shape,omitempty"`
	DType   string            `json:"dtype,omitempty"`
	N       int               `json:"n,omitempty"`
	Nvec    []int             `json:"nvec,omitempty"`
	Spaces  []Descriptor      `json:"spaces,omitempty"`
	Entries []EntryDescriptor `json:"entries,omitempty"`
}

type EntryDescriptor struct {
	Name  string     `json:"name"`
	Space Descriptor `json:"space"`
}

// Bound is a box bound. Infinite bounds encode as the strings "inf" and
// "-inf" since JSON has no literal for them.
type Bound float64

func (b Bound) MarshalJSON() ([]byte, error) {
	f := float64(b)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-inf"`), nil
	}
	return json.Marshal(f)
}

func (b *Bound) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "inf", "+inf":
			*b = Bound(math.Inf(1))
		case "-inf":
			*b = Bound(math.Inf(-1))
		default:
			return fmt.Errorf("bound: unknown string %q", s)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("bound: %w", err)
	}
	*b = Bound(f)
	return nil
}

func Describe(s Space) (Descriptor, error) {
	switch t := s.(type) {
	case *Box:
		d := Descriptor{
			Kind:  KindBox.String(),
			Low:   make([]Bound, len(t.Low)),
			High:  make([]Bound, len(t.High)),
			Shape: append([]int(nil), t.Shape...),
			DType: t.Num.String(),
		}
		for i := range t.Low {
			d.Low[i] = Bound(t.Low[i])
			d.High[i] = Bound(t.High[i])
		}
		return d, nil
	case *Discrete:
		return Descriptor{Kind: KindDiscrete.String(), N: t.N}, nil
	case *Tuple:
		d := Descriptor{Kind: KindTuple.String(), Spaces: make([]Descriptor, len(t.Spaces))}
		for i, c := range t.Spaces {
			cd, err := Describe(c)
			if err != nil {
				return Descriptor{}, err
			}
			d.Spaces[i] = cd
		}
		return d, nil
	case *Dict:
		d := Descriptor{Kind: KindDict.String(), Entries: make([]EntryDescriptor, len(t.entries))}
		for i, e := range t.entries {
			cd, err := Describe(e.Space)
			if err != nil {
				return Descriptor{}, err
			}
			d.Entries[i] = EntryDescriptor{Name: e.Name, Space: cd}
		}
		return d, nil
	case *MultiBinary:
		return Descriptor{Kind: KindMultiBinary.String(), N: t.N}, nil
	case *MultiDiscrete:
		return Descriptor{Kind: KindMultiDiscrete.String(), Nvec: append([]int(nil), t.Nvec...)}, nil
	default:
		return Descriptor{}, fmt.Errorf("%w: %T", ErrUnsupportedSpace, s)
	}
}

// Build turns a descriptor back into a validated Space.
func (d Descriptor) Build() (Space, error) {
	switch d.Kind {
	case KindBox.String():
		num := Float
		switch d.DType {
		case "int":
			num = Int
		case "", "float":
		default:
			return nil, fmt.Errorf("box: unknown dtype %q", d.DType)
		}
		low := make([]float64, len(d.Low))
		high := make([]float64, len(d.High))
		for i := range d.Low {
			low[i] = float64(d.Low[i])
		}
		for i := range d.High {
			high[i] = float64(d.High[i])
		}
		return NewBox(low, high, d.Shape, num)
	case KindDiscrete.String():
		s := &Discrete{N: d.N}
		return s, Validate(s)
	case KindTuple.String():
		children := make([]Space, len(d.Spaces))
		for i, cd := range d.Spaces {
			c, err := cd.Build()
			if err != nil {
				return nil, fmt.Errorf("tuple[%d]: %w", i, err)
			}
			children[i] = c
		}
		return NewTuple(children...), nil
	case KindDict.String():
		entries := make([]Entry, len(d.Entries))
		seen := make(map[string]bool, len(d.Entries))
		for i, ed := range d.Entries {
			if seen[ed.Name] {
				return nil, fmt.Errorf("dict: duplicate entry %q", ed.Name)
			}
			seen[ed.Name] = true
			c, err := ed.Space.Build()
			if err != nil {
				return nil, fmt.Errorf("dict[%s]: %w", ed.Name, err)
			}
			entries[i] = Entry{Name: ed.Name, Space: c}
		}
		return NewDict(entries...), nil
	case KindMultiBinary.String():
		s := &MultiBinary{N: d.N}
		return s, Validate(s)
	case KindMultiDiscrete.String():
		s := &MultiDiscrete{Nvec: append([]int(nil), d.Nvec...)}
		return s, Validate(s)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedSpace, d.Kind)
}

func MarshalSpace(s Space) ([]byte, error) {
	d, err := Describe(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

func UnmarshalSpace(data []byte) (Space, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("space descriptor: %w", err)
	}
	return d.Build()
}
