package distmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNotDistMap(t *testing.T) {
	m, err := FromSpec(DimSpec{DistType: DistNone, Size: 20})
	require.NoError(t, err)

	assert.Equal(t, 20, m.LocalSize())
	for g := 0; g < 20; g++ {
		l, err := m.LocalFromGlobal(g)
		require.NoError(t, err)
		assert.Equal(t, g, l)
	}
	_, err = m.LocalFromGlobal(20)
	assert.ErrorIs(t, err, ErrNotLocal)

	for l := 0; l < 20; l++ {
		g, err := m.GlobalFromLocal(l)
		require.NoError(t, err)
		assert.Equal(t, l, g)
	}
	_, err = m.GlobalFromLocal(20)
	assert.ErrorIs(t, err, ErrLocalRange)
}

func TestBlockMap(t *testing.T) {
	m, err := FromSpec(DimSpec{DistType: DistBlock, Size: 40, GridSize: 2, GridRank: 1, Start: 16, Stop: 39})
	require.NoError(t, err)

	assert.Equal(t, 23, m.LocalSize())
	for g := 16; g < 39; g++ {
		l, err := m.LocalFromGlobal(g)
		require.NoError(t, err)
		assert.Equal(t, g-16, l)
	}

	_, err = m.LocalFromGlobal(15)
	assert.ErrorIs(t, err, ErrNotLocal)
	_, err = m.LocalFromGlobal(39)
	assert.ErrorIs(t, err, ErrNotLocal)

	for l := 0; l < 23; l++ {
		g, err := m.GlobalFromLocal(l)
		require.NoError(t, err)
		assert.Equal(t, l+16, g)
	}
	_, err = m.GlobalFromLocal(25)
	assert.ErrorIs(t, err, ErrLocalRange)
}

func TestCyclicMap(t *testing.T) {
	m, err := FromSpec(DimSpec{DistType: DistCyclic, Size: 16, GridSize: 4, GridRank: 2, Start: 2})
	require.NoError(t, err)

	assert.Equal(t, 4, m.LocalSize())
	assert.Equal(t, []int{2, 6, 10, 14}, m.GlobalIndices())

	for l, g := range []int{2, 6, 10, 14} {
		got, err := m.LocalFromGlobal(g)
		require.NoError(t, err)
		assert.Equal(t, l, got)

		back, err := m.GlobalFromLocal(l)
		require.NoError(t, err)
		assert.Equal(t, g, back)
	}

	for _, g := range []int{3, 7} {
		_, err := m.LocalFromGlobal(g)
		assert.ErrorIs(t, err, ErrNotLocal)
	}
	_, err = m.GlobalFromLocal(5)
	assert.ErrorIs(t, err, ErrLocalRange)
}

func TestCyclicMapValidation(t *testing.T) {
	_, err := FromSpec(DimSpec{DistType: DistCyclic, Size: 16, GridSize: 4, GridRank: 1, Start: 2})
	assert.Error(t, err, "start must equal grid rank")

	_, err = FromSpec(DimSpec{DistType: DistCyclic, Size: 16, GridSize: 4, GridRank: 5, Start: 5})
	assert.Error(t, err, "start must be below grid size")
}

func TestBlockCyclicMap(t *testing.T) {
	m, err := FromSpec(DimSpec{DistType: DistCyclic, Size: 16, GridSize: 4, GridRank: 1, Start: 2, BlockSize: 2})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3, 10, 11}, m.GlobalIndices())

	for l, g := range []int{2, 3, 10, 11} {
		got, err := m.LocalFromGlobal(g)
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}

	for _, g := range []int{4, 12} {
		_, err := m.LocalFromGlobal(g)
		assert.ErrorIs(t, err, ErrNotLocal)
	}
	_, err = m.GlobalFromLocal(5)
	assert.ErrorIs(t, err, ErrLocalRange)
}

func TestBlockCyclicMapValidation(t *testing.T) {
	_, err := FromSpec(DimSpec{DistType: DistCyclic, Size: 16, GridSize: 4, GridRank: 0, Start: 1, BlockSize: 2})
	assert.Error(t, err, "start must be aligned to block size")

	_, err = FromSpec(DimSpec{DistType: DistCyclic, Size: 15, GridSize: 4, GridRank: 0, Start: 0, BlockSize: 2})
	assert.Error(t, err, "axis size must divide into whole blocks")
}

// A block-cyclic map whose block covers the whole local chunk behaves like a
// block map, and one with block size one behaves like a plain cyclic map.
func TestMapEquivalences(t *testing.T) {
	t.Run("block-cyclic vs block", func(t *testing.T) {
		bcm, err := FromSpec(DimSpec{DistType: DistCyclic, Size: 16, GridSize: 4, GridRank: 1, Start: 4, BlockSize: 4})
		require.NoError(t, err)
		bm, err := FromSpec(DimSpec{DistType: DistBlock, Size: 16, GridSize: 4, GridRank: 1, Start: 4, Stop: 8})
		require.NoError(t, err)

		for g := 4; g < 8; g++ {
			fromBC, err := bcm.LocalFromGlobal(g)
			require.NoError(t, err)
			fromB, err := bm.LocalFromGlobal(g)
			require.NoError(t, err)
			assert.Equal(t, fromB, fromBC)
		}
	})

	t.Run("block-cyclic vs cyclic", func(t *testing.T) {
		bcm, err := FromSpec(DimSpec{DistType: DistCyclic, Size: 16, GridSize: 4, GridRank: 1, Start: 1, BlockSize: 1})
		require.NoError(t, err)
		cm, err := FromSpec(DimSpec{DistType: DistCyclic, Size: 16, GridSize: 4, GridRank: 1, Start: 1})
		require.NoError(t, err)

		for g := 1; g < 16; g += 4 {
			fromBC, err := bcm.LocalFromGlobal(g)
			require.NoError(t, err)
			fromC, err := cm.LocalFromGlobal(g)
			require.NoError(t, err)
			assert.Equal(t, fromC, fromBC)
		}
	})
}

func TestUnstructuredMap(t *testing.T) {
	m, err := FromSpec(DimSpec{DistType: DistUnstructured, Size: 10, GridSize: 2, GridRank: 0, Indices: []int{7, 2, 5}})
	require.NoError(t, err)

	assert.Equal(t, 3, m.LocalSize())
	assert.Equal(t, []int{7, 2, 5}, m.GlobalIndices())

	l, err := m.LocalFromGlobal(2)
	require.NoError(t, err)
	assert.Equal(t, 1, l)

	_, err = m.LocalFromGlobal(3)
	assert.ErrorIs(t, err, ErrNotLocal)
	_, err = m.GlobalFromLocal(3)
	assert.ErrorIs(t, err, ErrLocalRange)

	_, err = FromSpec(DimSpec{DistType: DistUnstructured, Size: 10, Indices: []int{1, 1}})
	assert.Error(t, err, "duplicate indices must be rejected")
}

func TestSpecRoundTrip(t *testing.T) {
	specs := []DimSpec{
		{DistType: DistNone, Size: 12},
		{DistType: DistBlock, Size: 31, GridSize: 4, GridRank: 2, Start: 16, Stop: 24},
		{DistType: DistCyclic, Size: 16, GridSize: 4, GridRank: 3, Start: 3},
		{DistType: DistCyclic, Size: 16, GridSize: 4, GridRank: 0, Start: 0, BlockSize: 2},
		{DistType: DistUnstructured, Size: 9, GridSize: 3, GridRank: 1, Indices: []int{8, 0, 4}},
	}
	for _, spec := range specs {
		m, err := FromSpec(spec)
		require.NoError(t, err)
		again, err := FromSpec(m.Spec())
		require.NoError(t, err)
		assert.Equal(t, m.GlobalIndices(), again.GlobalIndices())
		assert.Equal(t, m.LocalSize(), again.LocalSize())
	}
}

// Every owned global index must map to a distinct local index, and the two
// translations must be inverses of each other.
func TestLocalGlobalRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		gridSize := rapid.IntRange(1, 8).Draw(t, "grid_size")
		gridRank := rapid.IntRange(0, gridSize-1).Draw(t, "grid_rank")

		var spec DimSpec
		switch rapid.IntRange(0, 2).Draw(t, "kind") {
		case 0:
			size := rapid.IntRange(1, 200).Draw(t, "size")
			chunk := (size + gridSize - 1) / gridSize
			start := gridRank * chunk
			if start > size {
				start = size
			}
			stop := start + chunk
			if stop > size {
				stop = size
			}
			spec = DimSpec{DistType: DistBlock, Size: size, GridSize: gridSize, GridRank: gridRank, Start: start, Stop: stop}
		case 1:
			size := rapid.IntRange(1, 200).Draw(t, "size")
			spec = DimSpec{DistType: DistCyclic, Size: size, GridSize: gridSize, GridRank: gridRank, Start: gridRank}
		default:
			blockSize := rapid.IntRange(1, 5).Draw(t, "block_size")
			blocks := rapid.IntRange(1, 40).Draw(t, "blocks")
			spec = DimSpec{
				DistType:  DistCyclic,
				Size:      blocks * blockSize,
				GridSize:  gridSize,
				GridRank:  gridRank,
				Start:     gridRank * blockSize,
				BlockSize: blockSize,
			}
		}

		m, err := FromSpec(spec)
		require.NoError(t, err)

		globals := m.GlobalIndices()
		require.Len(t, globals, m.LocalSize())

		seen := make(map[int]bool)
		for l, g := range globals {
			back, err := m.LocalFromGlobal(g)
			require.NoError(t, err)
			require.Equal(t, l, back)

			forward, err := m.GlobalFromLocal(l)
			require.NoError(t, err)
			require.Equal(t, g, forward)

			require.False(t, seen[g], "global index %d owned twice", g)
			seen[g] = true
		}
	})
}
