// Package wrappers holds concrete space wrappers and the SAR wrappers built
// on top of them.
package wrappers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mojoee/Abmarl/internal/space"
)

// ErrForeignSpace is returned when a wrapper is asked to unwrap a space it
// did not produce.
var ErrForeignSpace = errors.New("space not produced by this wrapper")

// SpaceWrapper converts a single space and its points to another
// representation and back. For every s accepted by CheckSpace and every v
// in s, UnwrapPoint(WrapSpace(s), WrapPoint(s, v)) equals v.
type SpaceWrapper interface {
	CheckSpace(s space.Space) bool
	WrapSpace(s space.Space) (space.Space, error)
	UnwrapSpace(wrapped space.Space) (space.Space, error)
	WrapPoint(s space.Space, v space.Value) (space.Value, error)
	UnwrapPoint(wrapped space.Space, v space.Value) (space.Value, error)
}

// origins remembers which space each wrapped space came from. Spaces are
// compared by pointer.
type origins struct {
	mu sync.RWMutex
	m  map[space.Space]space.Space
}

func (o *origins) put(wrapped, orig space.Space) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.m == nil {
		o.m = make(map[space.Space]space.Space)
	}
	o.m[wrapped] = orig
}

func (o *origins) get(wrapped space.Space) (space.Space, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	orig, ok := o.m[wrapped]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrForeignSpace, wrapped)
	}
	return orig, nil
}

// Flattener maps any space onto its flat bounding box.
type Flattener struct {
	origins origins
}

func NewFlattener() *Flattener { return &Flattener{} }

func (f *Flattener) CheckSpace(s space.Space) bool {
	_, err := space.Dim(s)
	return err == nil
}

func (f *Flattener) WrapSpace(s space.Space) (space.Space, error) {
	box, err := space.FlattenSpace(s)
	if err != nil {
		return nil, err
	}
	f.origins.put(box, s)
	return box, nil
}

func (f *Flattener) UnwrapSpace(wrapped space.Space) (space.Space, error) {
	return f.origins.get(wrapped)
}

func (f *Flattener) WrapPoint(s space.Space, v space.Value) (space.Value, error) {
	return space.Flatten(s, v)
}

func (f *Flattener) UnwrapPoint(wrapped space.Space, v space.Value) (space.Value, error) {
	orig, err := f.origins.get(wrapped)
	if err != nil {
		return nil, err
	}
	flat, err := space.Flatten(wrapped, v)
	if err != nil {
		return nil, err
	}
	return space.Unflatten(orig, flat)
}

// Raveler maps a finite space onto a single Discrete whose index enumerates
// every point.
type Raveler struct {
	origins origins
}

func NewRaveler() *Raveler { return &Raveler{} }

func (r *Raveler) CheckSpace(s space.Space) bool {
	_, err := space.Cardinality(s)
	return err == nil
}

func (r *Raveler) WrapSpace(s space.Space) (space.Space, error) {
	n, err := space.Cardinality(s)
	if err != nil {
		return nil, err
	}
	d := space.NewDiscrete(n)
	r.origins.put(d, s)
	return d, nil
}

func (r *Raveler) UnwrapSpace(wrapped space.Space) (space.Space, error) {
	return r.origins.get(wrapped)
}

func (r *Raveler) WrapPoint(s space.Space, v space.Value) (space.Value, error) {
	return space.Ravel(s, v)
}

func (r *Raveler) UnwrapPoint(wrapped space.Space, v space.Value) (space.Value, error) {
	orig, err := r.origins.get(wrapped)
	if err != nil {
		return nil, err
	}
	idx, err := space.Coerce(wrapped, v)
	if err != nil {
		return nil, err
	}
	return space.Unravel(orig, idx.(int))
}
