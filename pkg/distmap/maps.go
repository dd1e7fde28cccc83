package distmap

import (
	"errors"
	"fmt"
)

// DistType identifies how an axis is partitioned across the process grid.
type DistType string

const (
	// DistNone marks an axis that is not distributed.
	DistNone DistType = "n"
	// DistBlock marks a contiguous block partition.
	DistBlock DistType = "b"
	// DistCyclic marks a cyclic (or block-cyclic) partition.
	DistCyclic DistType = "c"
	// DistUnstructured marks an explicit index-list partition.
	DistUnstructured DistType = "u"
)

var (
	// ErrNotLocal reports a global index that is not owned by the map.
	ErrNotLocal = errors.New("global index not owned by this rank")
	// ErrLocalRange reports a local index outside the shard.
	ErrLocalRange = errors.New("local index out of range")
)

// DimSpec is the wire description of one dimension map. It mirrors the
// per-dimension metadata of the distributed array protocol and is carried
// in array creation requests and .dnpy file headers.
type DimSpec struct {
	DistType  DistType `json:"dist_type" yaml:"dist_type"`
	Size      int      `json:"size" yaml:"size"`
	GridRank  int      `json:"proc_grid_rank,omitempty" yaml:"proc_grid_rank,omitempty"`
	GridSize  int      `json:"proc_grid_size,omitempty" yaml:"proc_grid_size,omitempty"`
	Start     int      `json:"start,omitempty" yaml:"start,omitempty"`
	Stop      int      `json:"stop,omitempty" yaml:"stop,omitempty"`
	BlockSize int      `json:"block_size,omitempty" yaml:"block_size,omitempty"`
	Indices   []int    `json:"indices,omitempty" yaml:"indices,omitempty"`
}

// Map translates between global and local indices along one axis.
type Map interface {
	// DistType reports the distribution type the map was built from.
	DistType() DistType
	// GlobalSize is the full axis length.
	GlobalSize() int
	// LocalSize is the number of elements owned by this rank.
	LocalSize() int
	// LocalFromGlobal converts a global index to a local one. It returns
	// ErrNotLocal when the element lives on another rank.
	LocalFromGlobal(g int) (int, error)
	// GlobalFromLocal converts a local index to its global position. It
	// returns ErrLocalRange when the local index is outside the shard.
	GlobalFromLocal(l int) (int, error)
	// GlobalIndices lists the global indices owned by this rank in local
	// order.
	GlobalIndices() []int
	// Spec serializes the map back to its DimSpec description.
	Spec() DimSpec
}

// FromSpec builds the concrete map described by spec.
func FromSpec(spec DimSpec) (Map, error) {
	switch spec.DistType {
	case DistNone:
		return newBlockMap(DistNone, spec.Size, 1, 0, 0, spec.Size)
	case DistBlock:
		gridSize := spec.GridSize
		if gridSize == 0 {
			gridSize = 1
		}
		return newBlockMap(DistBlock, spec.Size, gridSize, spec.GridRank, spec.Start, spec.Stop)
	case DistCyclic:
		if spec.BlockSize > 1 {
			return newBlockCyclicMap(spec.Size, spec.GridSize, spec.GridRank, spec.Start, spec.BlockSize)
		}
		return newCyclicMap(spec.Size, spec.GridSize, spec.GridRank, spec.Start)
	case DistUnstructured:
		return newUnstructuredMap(spec.Size, spec.GridSize, spec.GridRank, spec.Indices)
	default:
		return nil, fmt.Errorf("unsupported dist_type %q", spec.DistType)
	}
}

// BlockMap owns the contiguous global range [start, stop).
type BlockMap struct {
	dist       DistType
	globalSize int
	gridSize   int
	gridRank   int
	start      int
	stop       int
}

func newBlockMap(dist DistType, globalSize, gridSize, gridRank, start, stop int) (*BlockMap, error) {
	if start < 0 || stop < start || stop > globalSize {
		return nil, fmt.Errorf("block bounds [%d, %d) invalid for size %d", start, stop, globalSize)
	}
	return &BlockMap{
		dist:       dist,
		globalSize: globalSize,
		gridSize:   gridSize,
		gridRank:   gridRank,
		start:      start,
		stop:       stop,
	}, nil
}

// DistType implements Map.
func (m *BlockMap) DistType() DistType { return m.dist }

// GlobalSize implements Map.
func (m *BlockMap) GlobalSize() int { return m.globalSize }

// LocalSize implements Map.
func (m *BlockMap) LocalSize() int { return m.stop - m.start }

// Start returns the first owned global index.
func (m *BlockMap) Start() int { return m.start }

// Stop returns one past the last owned global index.
func (m *BlockMap) Stop() int { return m.stop }

// LocalFromGlobal implements Map.
func (m *BlockMap) LocalFromGlobal(g int) (int, error) {
	if g < m.start || g >= m.stop {
		return 0, fmt.Errorf("global index %d outside block [%d, %d): %w", g, m.start, m.stop, ErrNotLocal)
	}
	return g - m.start, nil
}

// GlobalFromLocal implements Map.
func (m *BlockMap) GlobalFromLocal(l int) (int, error) {
	if l < 0 || l >= m.LocalSize() {
		return 0, fmt.Errorf("local index %d outside [0, %d): %w", l, m.LocalSize(), ErrLocalRange)
	}
	return l + m.start, nil
}

// GlobalIndices implements Map.
func (m *BlockMap) GlobalIndices() []int {
	out := make([]int, 0, m.LocalSize())
	for g := m.start; g < m.stop; g++ {
		out = append(out, g)
	}
	return out
}

// Spec implements Map.
func (m *BlockMap) Spec() DimSpec {
	spec := DimSpec{
		DistType: m.dist,
		Size:     m.globalSize,
	}
	if m.dist == DistBlock {
		spec.GridRank = m.gridRank
		spec.GridSize = m.gridSize
		spec.Start = m.start
		spec.Stop = m.stop
	}
	return spec
}

// CyclicMap owns every gridSize-th global index starting at start.
type CyclicMap struct {
	globalSize int
	gridSize   int
	gridRank   int
	start      int
	localSize  int
}

func newCyclicMap(globalSize, gridSize, gridRank, start int) (*CyclicMap, error) {
	if start != gridRank {
		return nil, fmt.Errorf("cyclic start %d does not equal grid rank %d", start, gridRank)
	}
	if start >= gridSize {
		return nil, fmt.Errorf("cyclic start %d is not below grid size %d", start, gridSize)
	}
	localSize := 0
	if gridRank < globalSize {
		localSize = (globalSize-1-gridRank)/gridSize + 1
	}
	return &CyclicMap{
		globalSize: globalSize,
		gridSize:   gridSize,
		gridRank:   gridRank,
		start:      start,
		localSize:  localSize,
	}, nil
}

// DistType implements Map.
func (m *CyclicMap) DistType() DistType { return DistCyclic }

// GlobalSize implements Map.
func (m *CyclicMap) GlobalSize() int { return m.globalSize }

// LocalSize implements Map.
func (m *CyclicMap) LocalSize() int { return m.localSize }

// LocalFromGlobal implements Map.
func (m *CyclicMap) LocalFromGlobal(g int) (int, error) {
	if g < m.start || (g-m.start)%m.gridSize != 0 {
		return 0, fmt.Errorf("global index %d not on cycle (start %d, stride %d): %w", g, m.start, m.gridSize, ErrNotLocal)
	}
	l := (g - m.start) / m.gridSize
	if l >= m.localSize {
		return 0, fmt.Errorf("global index %d beyond axis of size %d: %w", g, m.globalSize, ErrNotLocal)
	}
	return l, nil
}

// GlobalFromLocal implements Map.
func (m *CyclicMap) GlobalFromLocal(l int) (int, error) {
	if l < 0 || l >= m.localSize {
		return 0, fmt.Errorf("local index %d outside [0, %d): %w", l, m.localSize, ErrLocalRange)
	}
	return l*m.gridSize + m.start, nil
}

// GlobalIndices implements Map.
func (m *CyclicMap) GlobalIndices() []int {
	out := make([]int, 0, m.localSize)
	for g := m.start; g < m.globalSize; g += m.gridSize {
		out = append(out, g)
	}
	return out
}

// Spec implements Map.
func (m *CyclicMap) Spec() DimSpec {
	return DimSpec{
		DistType: DistCyclic,
		Size:     m.globalSize,
		GridRank: m.gridRank,
		GridSize: m.gridSize,
		Start:    m.start,
	}
}

// BlockCyclicMap owns whole blocks of blockSize elements dealt out cyclically
// across the grid.
type BlockCyclicMap struct {
	globalSize int
	gridSize   int
	gridRank   int
	start      int
	startBlock int
	blockSize  int
	localSize  int
}

func newBlockCyclicMap(globalSize, gridSize, gridRank, start, blockSize int) (*BlockCyclicMap, error) {
	if blockSize <= 0 || start%blockSize != 0 {
		return nil, fmt.Errorf("block-cyclic start %d not aligned to block size %d", start, blockSize)
	}
	globalBlocks := globalSize / blockSize
	if globalBlocks*blockSize != globalSize {
		return nil, fmt.Errorf("axis size %d not divisible by block size %d", globalSize, blockSize)
	}
	localBlocks := 0
	if gridRank < globalBlocks {
		localBlocks = (globalBlocks-1-gridRank)/gridSize + 1
	}
	return &BlockCyclicMap{
		globalSize: globalSize,
		gridSize:   gridSize,
		gridRank:   gridRank,
		start:      start,
		startBlock: start / blockSize,
		blockSize:  blockSize,
		localSize:  localBlocks * blockSize,
	}, nil
}

// DistType implements Map.
func (m *BlockCyclicMap) DistType() DistType { return DistCyclic }

// GlobalSize implements Map.
func (m *BlockCyclicMap) GlobalSize() int { return m.globalSize }

// LocalSize implements Map.
func (m *BlockCyclicMap) LocalSize() int { return m.localSize }

// BlockSize returns the block width of the partition.
func (m *BlockCyclicMap) BlockSize() int { return m.blockSize }

// LocalFromGlobal implements Map.
func (m *BlockCyclicMap) LocalFromGlobal(g int) (int, error) {
	globalBlock, offset := g/m.blockSize, g%m.blockSize
	if globalBlock < m.startBlock || (globalBlock-m.startBlock)%m.gridSize != 0 {
		return 0, fmt.Errorf("global index %d not in an owned block: %w", g, ErrNotLocal)
	}
	l := m.blockSize*((globalBlock-m.startBlock)/m.gridSize) + offset
	if l >= m.localSize {
		return 0, fmt.Errorf("global index %d beyond axis of size %d: %w", g, m.globalSize, ErrNotLocal)
	}
	return l, nil
}

// GlobalFromLocal implements Map.
func (m *BlockCyclicMap) GlobalFromLocal(l int) (int, error) {
	if l < 0 || l >= m.localSize {
		return 0, fmt.Errorf("local index %d outside [0, %d): %w", l, m.localSize, ErrLocalRange)
	}
	localBlock, offset := l/m.blockSize, l%m.blockSize
	globalBlock := localBlock*m.gridSize + m.startBlock
	return globalBlock*m.blockSize + offset, nil
}

// GlobalIndices implements Map.
func (m *BlockCyclicMap) GlobalIndices() []int {
	out := make([]int, m.localSize)
	for l := range out {
		g, _ := m.GlobalFromLocal(l)
		out[l] = g
	}
	return out
}

// Spec implements Map.
func (m *BlockCyclicMap) Spec() DimSpec {
	return DimSpec{
		DistType:  DistCyclic,
		Size:      m.globalSize,
		GridRank:  m.gridRank,
		GridSize:  m.gridSize,
		Start:     m.start,
		BlockSize: m.blockSize,
	}
}

// UnstructuredMap owns an explicit list of global indices.
type UnstructuredMap struct {
	globalSize int
	gridSize   int
	gridRank   int
	indices    []int
	localOf    map[int]int
}

func newUnstructuredMap(globalSize, gridSize, gridRank int, indices []int) (*UnstructuredMap, error) {
	localOf := make(map[int]int, len(indices))
	for l, g := range indices {
		if g < 0 || g >= globalSize {
			return nil, fmt.Errorf("unstructured index %d outside axis of size %d", g, globalSize)
		}
		if _, dup := localOf[g]; dup {
			return nil, fmt.Errorf("duplicate unstructured index %d", g)
		}
		localOf[g] = l
	}
	owned := make([]int, len(indices))
	copy(owned, indices)
	return &UnstructuredMap{
		globalSize: globalSize,
		gridSize:   gridSize,
		gridRank:   gridRank,
		indices:    owned,
		localOf:    localOf,
	}, nil
}

// DistType implements Map.
func (m *UnstructuredMap) DistType() DistType { return DistUnstructured }

// GlobalSize implements Map.
func (m *UnstructuredMap) GlobalSize() int { return m.globalSize }

// LocalSize implements Map.
func (m *UnstructuredMap) LocalSize() int { return len(m.indices) }

// LocalFromGlobal implements Map.
func (m *UnstructuredMap) LocalFromGlobal(g int) (int, error) {
	l, ok := m.localOf[g]
	if !ok {
		return 0, fmt.Errorf("global index %d not in index list: %w", g, ErrNotLocal)
	}
	return l, nil
}

// GlobalFromLocal implements Map.
func (m *UnstructuredMap) GlobalFromLocal(l int) (int, error) {
	if l < 0 || l >= len(m.indices) {
		return 0, fmt.Errorf("local index %d outside [0, %d): %w", l, len(m.indices), ErrLocalRange)
	}
	return m.indices[l], nil
}

// GlobalIndices implements Map.
func (m *UnstructuredMap) GlobalIndices() []int {
	out := make([]int, len(m.indices))
	copy(out, m.indices)
	return out
}

// Spec implements Map.
func (m *UnstructuredMap) Spec() DimSpec {
	return DimSpec{
		DistType: DistUnstructured,
		Size:     m.globalSize,
		GridRank: m.gridRank,
		GridSize: m.gridSize,
		Indices:  m.GlobalIndices(),
	}
}
