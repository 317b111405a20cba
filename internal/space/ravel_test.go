package space

import (
	"errors"
	"math/rand"
	"testing"
)

func TestRavelMultiDiscreteRowMajor(t *testing.T) {
	s := NewMultiDiscrete(3, 4)
	n, err := Cardinality(s)
	if err != nil || n != 12 {
		t.Fatalf("Cardinality=%d err=%v", n, err)
	}
	idx, err := Ravel(s, []int{2, 1})
	if err != nil {
		t.Fatalf("Ravel: %v", err)
	}
	if idx != 2*4+1 {
		t.Fatalf("Ravel=%d want 9", idx)
	}
	v, err := Unravel(s, 9)
	if err != nil {
		t.Fatalf("Unravel: %v", err)
	}
	if !ValueEqual(v, []int{2, 1}) {
		t.Fatalf("Unravel=%v", v)
	}
}

func TestRavelCoversEveryIndex(t *testing.T) {
	s := NewDict(
		Entry{Name: "move", Space: UniformBox(-1, 1, Int, 2)},
		Entry{Name: "attack", Space: NewDiscrete(2)},
		Entry{Name: "flags", Space: NewMultiBinary(2)},
	)
	n, err := Cardinality(s)
	if err != nil {
		t.Fatalf("Cardinality: %v", err)
	}
	if n != 3*3*2*2*2 {
		t.Fatalf("Cardinality=%d", n)
	}
	for i := 0; i < n; i++ {
		v, err := Unravel(s, i)
		if err != nil {
			t.Fatalf("Unravel(%d): %v", i, err)
		}
		back, err := Ravel(s, v)
		if err != nil {
			t.Fatalf("Ravel(%v): %v", v, err)
		}
		if back != i {
			t.Fatalf("Ravel(Unravel(%d))=%d", i, back)
		}
	}
}

func TestRavelRejectsContinuous(t *testing.T) {
	if _, err := Cardinality(UniformBox(0, 1, Float, 1)); !errors.Is(err, ErrUnsupportedSpace) {
		t.Fatalf("float box err=%v", err)
	}
	if _, err := Unravel(NewDiscrete(3), 3); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("index overflow err=%v", err)
	}
	if _, err := Ravel(NewDiscrete(3), 5); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("value overflow err=%v", err)
	}
}

func TestIntBoxWithoutIntegerPoint(t *testing.T) {
	if _, err := NewBox([]float64{0.2}, []float64{0.8}, []int{1}, Int); err == nil {
		t.Fatalf("NewBox accepted an Int box with no integer point")
	}
	if _, err := NewBox([]float64{0.2}, []float64{0.8}, []int{1}, Float); err != nil {
		t.Fatalf("float box rejected: %v", err)
	}

	// A literal bypasses NewBox; ravel and sample must still refuse it.
	b := &Box{Low: []float64{0.2}, High: []float64{0.8}, Shape: []int{1}, Num: Int}
	if err := Validate(b); err == nil {
		t.Fatalf("Validate accepted %s", b)
	}
	if _, err := Cardinality(b); !errors.Is(err, ErrUnsupportedSpace) {
		t.Fatalf("Cardinality err=%v", err)
	}
	if _, err := Sample(b, rand.New(rand.NewSource(1))); !errors.Is(err, ErrUnsupportedSpace) {
		t.Fatalf("Sample err=%v", err)
	}
}
