// Package distribution holds the client-side view of how a distributed array
// is laid out: the process grid shape and the per-rank dimension specs that
// engines build their local shards from.
package distribution

import (
	"fmt"
	"sort"

	"github.com/dacompute/distarray/pkg/distmap"
)

// Distribution describes the partitioning of one distributed array across an
// ordered set of ranks. Ranks are laid out row-major over the process grid:
// the last grid dimension varies fastest.
type Distribution struct {
	shape      []int
	dist       []distmap.DistType
	gridShape  []int
	blockSizes []int
	numRanks   int
}

// Option adjusts how FromShape lays out an array.
type Option func(*options)

type options struct {
	dist       []distmap.DistType
	gridShape  []int
	blockSizes []int
}

// WithDist sets the per-dimension distribution types. Empty entries default
// to not-distributed. The default distribution is block on dimension zero.
func WithDist(dist []distmap.DistType) Option {
	return func(o *options) { o.dist = dist }
}

// WithGridShape pins the process grid shape instead of deriving it.
func WithGridShape(gridShape []int) Option {
	return func(o *options) { o.gridShape = gridShape }
}

// WithBlockSizes sets per-dimension block sizes for cyclic dimensions,
// turning them block-cyclic.
func WithBlockSizes(blockSizes []int) Option {
	return func(o *options) { o.blockSizes = blockSizes }
}

// FromShape lays out an array of the given shape across numRanks ranks.
func FromShape(shape []int, numRanks int, opts ...Option) (*Distribution, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("shape must have at least one dimension")
	}
	for dim, n := range shape {
		if n <= 0 {
			return nil, fmt.Errorf("dimension %d has non-positive size %d", dim, n)
		}
	}
	if numRanks <= 0 {
		return nil, fmt.Errorf("number of ranks must be positive, got %d", numRanks)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dist := make([]distmap.DistType, len(shape))
	for i := range dist {
		dist[i] = distmap.DistNone
	}
	if o.dist == nil {
		dist[0] = distmap.DistBlock
	} else {
		if len(o.dist) != len(shape) {
			return nil, fmt.Errorf("dist has %d entries for %d dimensions", len(o.dist), len(shape))
		}
		for i, d := range o.dist {
			if d == "" {
				d = distmap.DistNone
			}
			switch d {
			case distmap.DistNone, distmap.DistBlock, distmap.DistCyclic:
				dist[i] = d
			default:
				return nil, fmt.Errorf("dimension %d: dist type %q cannot be derived from a shape", i, d)
			}
		}
	}

	blockSizes := make([]int, len(shape))
	for i := range blockSizes {
		blockSizes[i] = 1
	}
	if o.blockSizes != nil {
		if len(o.blockSizes) != len(shape) {
			return nil, fmt.Errorf("block sizes have %d entries for %d dimensions", len(o.blockSizes), len(shape))
		}
		for i, bs := range o.blockSizes {
			if bs > 1 && dist[i] != distmap.DistCyclic {
				return nil, fmt.Errorf("dimension %d: block size %d requires a cyclic distribution", i, bs)
			}
			if bs > 0 {
				blockSizes[i] = bs
			}
		}
	}

	gridShape := o.gridShape
	if gridShape == nil {
		gridShape = deriveGridShape(shape, dist, numRanks)
	}
	if len(gridShape) != len(shape) {
		return nil, fmt.Errorf("grid shape has %d entries for %d dimensions", len(gridShape), len(shape))
	}
	product := 1
	for dim, g := range gridShape {
		if g <= 0 {
			return nil, fmt.Errorf("grid dimension %d has non-positive size %d", dim, g)
		}
		if dist[dim] == distmap.DistNone && g != 1 {
			return nil, fmt.Errorf("grid dimension %d must be 1 on a non-distributed axis", dim)
		}
		product *= g
	}
	if product != numRanks {
		return nil, fmt.Errorf("grid shape %v covers %d ranks, cluster has %d", gridShape, product, numRanks)
	}

	return &Distribution{
		shape:      append([]int(nil), shape...),
		dist:       dist,
		gridShape:  append([]int(nil), gridShape...),
		blockSizes: blockSizes,
		numRanks:   numRanks,
	}, nil
}

// FromRankSpecs rebuilds a Distribution from the per-rank dimension specs
// pulled off the engines, e.g. after loading an array from disk.
func FromRankSpecs(specs [][]distmap.DimSpec) (*Distribution, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one rank spec is required")
	}
	ndim := len(specs[0])
	for rank, rs := range specs {
		if len(rs) != ndim {
			return nil, fmt.Errorf("rank %d has %d dimensions, rank 0 has %d", rank, len(rs), ndim)
		}
	}

	shape := make([]int, ndim)
	dist := make([]distmap.DistType, ndim)
	gridShape := make([]int, ndim)
	blockSizes := make([]int, ndim)
	for dim := 0; dim < ndim; dim++ {
		ref := specs[0][dim]
		shape[dim] = ref.Size
		dist[dim] = ref.DistType
		gridShape[dim] = ref.GridSize
		if gridShape[dim] == 0 {
			gridShape[dim] = 1
		}
		blockSizes[dim] = ref.BlockSize
		if blockSizes[dim] == 0 {
			blockSizes[dim] = 1
		}
	}

	d := &Distribution{
		shape:      shape,
		dist:       dist,
		gridShape:  gridShape,
		blockSizes: blockSizes,
		numRanks:   len(specs),
	}
	product := 1
	for _, g := range gridShape {
		product *= g
	}
	if product != len(specs) {
		return nil, fmt.Errorf("grid shape %v covers %d ranks, specs describe %d", gridShape, product, len(specs))
	}
	return d, nil
}

// Shape returns the global array shape.
func (d *Distribution) Shape() []int { return append([]int(nil), d.shape...) }

// NDim returns the number of dimensions.
func (d *Distribution) NDim() int { return len(d.shape) }

// Size returns the total number of elements.
func (d *Distribution) Size() int {
	size := 1
	for _, n := range d.shape {
		size *= n
	}
	return size
}

// Dist returns the per-dimension distribution types.
func (d *Distribution) Dist() []distmap.DistType { return append([]distmap.DistType(nil), d.dist...) }

// GridShape returns the process grid shape.
func (d *Distribution) GridShape() []int { return append([]int(nil), d.gridShape...) }

// NumRanks returns the number of ranks the array spans.
func (d *Distribution) NumRanks() int { return d.numRanks }

// gridCoords decomposes a rank into row-major grid coordinates.
func (d *Distribution) gridCoords(rank int) []int {
	coords := make([]int, len(d.gridShape))
	remainder := rank
	for dim := len(d.gridShape) - 1; dim >= 0; dim-- {
		coords[dim] = remainder % d.gridShape[dim]
		remainder /= d.gridShape[dim]
	}
	return coords
}

// rankFromCoords is the inverse of gridCoords.
func (d *Distribution) rankFromCoords(coords []int) int {
	rank := 0
	for dim, c := range coords {
		rank = rank*d.gridShape[dim] + c
	}
	return rank
}

// RankSpecs produces the dimension specs for one rank's shard.
func (d *Distribution) RankSpecs(rank int) ([]distmap.DimSpec, error) {
	if rank < 0 || rank >= d.numRanks {
		return nil, fmt.Errorf("rank %d outside [0, %d)", rank, d.numRanks)
	}
	coords := d.gridCoords(rank)
	specs := make([]distmap.DimSpec, len(d.shape))
	for dim := range d.shape {
		specs[dim] = d.dimSpec(dim, coords[dim])
	}
	return specs, nil
}

func (d *Distribution) dimSpec(dim, coord int) distmap.DimSpec {
	size := d.shape[dim]
	grid := d.gridShape[dim]
	switch d.dist[dim] {
	case distmap.DistBlock:
		chunk := chunkSize(size, grid)
		start := coord * chunk
		if start > size {
			start = size
		}
		stop := start + chunk
		if stop > size {
			stop = size
		}
		return distmap.DimSpec{
			DistType: distmap.DistBlock,
			Size:     size,
			GridRank: coord,
			GridSize: grid,
			Start:    start,
			Stop:     stop,
		}
	case distmap.DistCyclic:
		spec := distmap.DimSpec{
			DistType: distmap.DistCyclic,
			Size:     size,
			GridRank: coord,
			GridSize: grid,
			Start:    coord * d.blockSizes[dim],
		}
		if d.blockSizes[dim] > 1 {
			spec.BlockSize = d.blockSizes[dim]
		}
		return spec
	default:
		return distmap.DimSpec{DistType: distmap.DistNone, Size: size}
	}
}

// OwningRanks returns the ranks that may own the given global index, in
// ascending order. For block, cyclic and not-distributed axes the result is
// a single rank; unstructured axes widen the candidate set to the whole
// grid dimension.
func (d *Distribution) OwningRanks(index []int) ([]int, error) {
	if len(index) != len(d.shape) {
		return nil, fmt.Errorf("index has %d dimensions, array has %d", len(index), len(d.shape))
	}
	perDim := make([][]int, len(index))
	for dim, i := range index {
		if i < 0 || i >= d.shape[dim] {
			return nil, fmt.Errorf("index %d outside dimension %d of size %d", i, dim, d.shape[dim])
		}
		perDim[dim] = d.owningCoords(dim, i)
	}

	ranks := []int{}
	coords := make([]int, len(index))
	var walk func(dim int)
	walk = func(dim int) {
		if dim == len(perDim) {
			ranks = append(ranks, d.rankFromCoords(coords))
			return
		}
		for _, c := range perDim[dim] {
			coords[dim] = c
			walk(dim + 1)
		}
	}
	walk(0)
	sort.Ints(ranks)
	return ranks, nil
}

func (d *Distribution) owningCoords(dim, i int) []int {
	grid := d.gridShape[dim]
	switch d.dist[dim] {
	case distmap.DistBlock:
		return []int{i / chunkSize(d.shape[dim], grid)}
	case distmap.DistCyclic:
		return []int{(i / d.blockSizes[dim]) % grid}
	case distmap.DistUnstructured:
		all := make([]int, grid)
		for c := range all {
			all[c] = c
		}
		return all
	default:
		return []int{0}
	}
}

// chunkSize is the block width used for block partitions: ceil(size/grid).
func chunkSize(size, grid int) int {
	return (size + grid - 1) / grid
}

// deriveGridShape assigns the rank count across the distributed dimensions,
// giving prime factors to the dimension with the most remaining elements per
// grid slot.
func deriveGridShape(shape []int, dist []distmap.DistType, numRanks int) []int {
	grid := make([]int, len(shape))
	for i := range grid {
		grid[i] = 1
	}
	distributed := []int{}
	for dim, dt := range dist {
		if dt != distmap.DistNone {
			distributed = append(distributed, dim)
		}
	}
	if len(distributed) == 0 {
		return grid
	}
	if len(distributed) == 1 {
		grid[distributed[0]] = numRanks
		return grid
	}
	for _, p := range primeFactors(numRanks) {
		best := distributed[0]
		for _, dim := range distributed[1:] {
			if shape[dim]/grid[dim] > shape[best]/grid[best] {
				best = dim
			}
		}
		grid[best] *= p
	}
	return grid
}

func primeFactors(n int) []int {
	factors := []int{}
	for p := 2; p*p <= n; p++ {
		for n%p == 0 {
			factors = append(factors, p)
			n /= p
		}
	}
	if n > 1 {
		factors = append(factors, n)
	}
	// Largest factors first so the biggest dimensions absorb them.
	sort.Sort(sort.Reverse(sort.IntSlice(factors)))
	return factors
}
