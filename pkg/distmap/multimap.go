package distmap

import "fmt"

// MultiMap composes one Map per array dimension and translates full n-dim
// indices between global and local coordinates.
type MultiMap struct {
	maps []Map
}

// FromSpecs builds a MultiMap from one DimSpec per dimension.
func FromSpecs(specs []DimSpec) (*MultiMap, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one dimension spec is required")
	}
	maps := make([]Map, len(specs))
	for dim, spec := range specs {
		m, err := FromSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("dimension %d: %w", dim, err)
		}
		maps[dim] = m
	}
	return &MultiMap{maps: maps}, nil
}

// NDim returns the number of dimensions.
func (mm *MultiMap) NDim() int { return len(mm.maps) }

// Dim returns the map for one dimension.
func (mm *MultiMap) Dim(i int) Map { return mm.maps[i] }

// GlobalShape returns the full array shape.
func (mm *MultiMap) GlobalShape() []int {
	shape := make([]int, len(mm.maps))
	for i, m := range mm.maps {
		shape[i] = m.GlobalSize()
	}
	return shape
}

// LocalShape returns the shape of the shard owned by this rank.
func (mm *MultiMap) LocalShape() []int {
	shape := make([]int, len(mm.maps))
	for i, m := range mm.maps {
		shape[i] = m.LocalSize()
	}
	return shape
}

// LocalSize returns the number of elements in the local shard.
func (mm *MultiMap) LocalSize() int {
	size := 1
	for _, m := range mm.maps {
		size *= m.LocalSize()
	}
	return size
}

// LocalFromGlobal converts a full global index to local coordinates.
func (mm *MultiMap) LocalFromGlobal(global []int) ([]int, error) {
	if len(global) != len(mm.maps) {
		return nil, fmt.Errorf("index has %d dimensions, array has %d", len(global), len(mm.maps))
	}
	local := make([]int, len(global))
	for dim, g := range global {
		l, err := mm.maps[dim].LocalFromGlobal(g)
		if err != nil {
			return nil, fmt.Errorf("dimension %d: %w", dim, err)
		}
		local[dim] = l
	}
	return local, nil
}

// GlobalFromLocal converts full local coordinates to a global index.
func (mm *MultiMap) GlobalFromLocal(local []int) ([]int, error) {
	if len(local) != len(mm.maps) {
		return nil, fmt.Errorf("index has %d dimensions, array has %d", len(local), len(mm.maps))
	}
	global := make([]int, len(local))
	for dim, l := range local {
		g, err := mm.maps[dim].GlobalFromLocal(l)
		if err != nil {
			return nil, fmt.Errorf("dimension %d: %w", dim, err)
		}
		global[dim] = g
	}
	return global, nil
}

// Specs serializes every dimension map back to its DimSpec.
func (mm *MultiMap) Specs() []DimSpec {
	specs := make([]DimSpec, len(mm.maps))
	for i, m := range mm.maps {
		specs[i] = m.Spec()
	}
	return specs
}
