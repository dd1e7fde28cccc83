// Package localarray implements the shard of a distributed array owned by a
// single engine: a dense float64 buffer addressed through the dimension maps
// that describe its slice of the global index space.
package localarray

import (
	"fmt"
	"math"

	"github.com/dacompute/distarray/pkg/distmap"
)

// LocalArray is one rank's shard of a distributed array. The buffer is
// row-major over the local shape.
type LocalArray struct {
	mm   *distmap.MultiMap
	data []float64
}

// New builds an empty (zeroed) shard from one DimSpec per dimension.
func New(specs []distmap.DimSpec) (*LocalArray, error) {
	mm, err := distmap.FromSpecs(specs)
	if err != nil {
		return nil, err
	}
	return &LocalArray{mm: mm, data: make([]float64, mm.LocalSize())}, nil
}

// FromData builds a shard around an existing buffer. The buffer length must
// match the local size described by the specs.
func FromData(specs []distmap.DimSpec, data []float64) (*LocalArray, error) {
	mm, err := distmap.FromSpecs(specs)
	if err != nil {
		return nil, err
	}
	if len(data) != mm.LocalSize() {
		return nil, fmt.Errorf("buffer has %d elements, local shape %v needs %d",
			len(data), mm.LocalShape(), mm.LocalSize())
	}
	return &LocalArray{mm: mm, data: data}, nil
}

// MultiMap returns the shard's dimension maps.
func (a *LocalArray) MultiMap() *distmap.MultiMap { return a.mm }

// Specs returns the shard's dimension specs.
func (a *LocalArray) Specs() []distmap.DimSpec { return a.mm.Specs() }

// GlobalShape returns the shape of the full distributed array.
func (a *LocalArray) GlobalShape() []int { return a.mm.GlobalShape() }

// LocalShape returns the shape of this shard.
func (a *LocalArray) LocalShape() []int { return a.mm.LocalShape() }

// LocalSize returns the number of elements in this shard.
func (a *LocalArray) LocalSize() int { return len(a.data) }

// Data returns the shard buffer in local row-major order.
func (a *LocalArray) Data() []float64 { return a.data }

// Fill sets every element of the shard to v.
func (a *LocalArray) Fill(v float64) {
	for i := range a.data {
		a.data[i] = v
	}
}

// flatLocal converts local coordinates to a flat buffer offset.
func (a *LocalArray) flatLocal(local []int) int {
	shape := a.mm.LocalShape()
	flat := 0
	for dim, l := range local {
		flat = flat*shape[dim] + l
	}
	return flat
}

// localCoords is the inverse of flatLocal.
func (a *LocalArray) localCoords(flat int) []int {
	shape := a.mm.LocalShape()
	coords := make([]int, len(shape))
	for dim := len(shape) - 1; dim >= 0; dim-- {
		coords[dim] = flat % shape[dim]
		flat /= shape[dim]
	}
	return coords
}

// GetGlobal reads the element at a global index. It fails with
// distmap.ErrNotLocal when the element lives on another rank.
func (a *LocalArray) GetGlobal(global []int) (float64, error) {
	local, err := a.mm.LocalFromGlobal(global)
	if err != nil {
		return 0, err
	}
	return a.data[a.flatLocal(local)], nil
}

// SetGlobal writes the element at a global index. It fails with
// distmap.ErrNotLocal when the element lives on another rank.
func (a *LocalArray) SetGlobal(global []int, v float64) error {
	local, err := a.mm.LocalFromGlobal(global)
	if err != nil {
		return err
	}
	a.data[a.flatLocal(local)] = v
	return nil
}

// Apply fills the shard by evaluating fn at every owned global index.
func (a *LocalArray) Apply(fn func(global []int) float64) {
	for flat := range a.data {
		global, _ := a.mm.GlobalFromLocal(a.localCoords(flat))
		a.data[flat] = fn(global)
	}
}

// GlobalIndices lists the global index of every shard element in local
// row-major order, matching the layout of Data.
func (a *LocalArray) GlobalIndices() [][]int {
	out := make([][]int, len(a.data))
	for flat := range a.data {
		global, _ := a.mm.GlobalFromLocal(a.localCoords(flat))
		out[flat] = global
	}
	return out
}

// Moments are the reduction partials a shard contributes to cluster-wide
// sum, mean, variance and standard deviation.
type Moments struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	SumSq float64 `json:"sum_sq"`
}

// Moments computes the shard's reduction partials.
func (a *LocalArray) Moments() Moments {
	m := Moments{Count: len(a.data)}
	for _, v := range a.data {
		m.Sum += v
		m.SumSq += v * v
	}
	return m
}

// Combine merges another shard's partials into m.
func (m Moments) Combine(other Moments) Moments {
	return Moments{
		Count: m.Count + other.Count,
		Sum:   m.Sum + other.Sum,
		SumSq: m.SumSq + other.SumSq,
	}
}

// Mean returns the mean of the combined partials.
func (m Moments) Mean() float64 {
	if m.Count == 0 {
		return math.NaN()
	}
	return m.Sum / float64(m.Count)
}

// Var returns the population variance of the combined partials.
func (m Moments) Var() float64 {
	if m.Count == 0 {
		return math.NaN()
	}
	mean := m.Mean()
	v := m.SumSq/float64(m.Count) - mean*mean
	if v < 0 {
		// Rounding can push the difference of the two moments slightly
		// below zero.
		v = 0
	}
	return v
}

// Std returns the population standard deviation of the combined partials.
func (m Moments) Std() float64 {
	return math.Sqrt(m.Var())
}
