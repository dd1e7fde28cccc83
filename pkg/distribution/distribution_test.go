package distribution

import (
	"testing"

	"github.com/dacompute/distarray/pkg/distmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestOwningRanksBlockNone(t *testing.T) {
	d, err := FromShape([]int{31, 53}, 4,
		WithDist([]distmap.DistType{distmap.DistBlock, distmap.DistNone}),
		WithGridShape([]int{4, 1}))
	require.NoError(t, err)

	chunk := 31/4 + 1
	for r := 0; r < 31; r++ {
		for _, c := range []int{0, 13, 52} {
			ranks, err := d.OwningRanks([]int{r, c})
			require.NoError(t, err)
			assert.Equal(t, []int{r / chunk}, ranks)
		}
	}
}

func TestOwningRanksBlockBlock(t *testing.T) {
	d, err := FromShape([]int{3, 5}, 4,
		WithDist([]distmap.DistType{distmap.DistBlock, distmap.DistBlock}),
		WithGridShape([]int{2, 2}))
	require.NoError(t, err)

	rowChunk, colChunk := 2, 3
	for r := 0; r < 3; r++ {
		for c := 0; c < 5; c++ {
			ranks, err := d.OwningRanks([]int{r, c})
			require.NoError(t, err)
			assert.Equal(t, []int{(r/rowChunk)*2 + c/colChunk}, ranks)
		}
	}
}

func TestOwningRanksCyclicCyclic(t *testing.T) {
	d, err := FromShape([]int{3, 5}, 4,
		WithDist([]distmap.DistType{distmap.DistCyclic, distmap.DistCyclic}),
		WithGridShape([]int{2, 2}))
	require.NoError(t, err)

	for r := 0; r < 3; r++ {
		for c := 0; c < 5; c++ {
			ranks, err := d.OwningRanks([]int{r, c})
			require.NoError(t, err)
			assert.Equal(t, []int{(r%2)*2 + c%2}, ranks)
		}
	}
}

func TestOwningRanksErrors(t *testing.T) {
	d, err := FromShape([]int{4, 4}, 2)
	require.NoError(t, err)

	_, err = d.OwningRanks([]int{4, 0})
	assert.Error(t, err)
	_, err = d.OwningRanks([]int{0})
	assert.Error(t, err)
}

func TestDefaultDistribution(t *testing.T) {
	d, err := FromShape([]int{16, 16}, 4)
	require.NoError(t, err)

	assert.Equal(t, []distmap.DistType{distmap.DistBlock, distmap.DistNone}, d.Dist())
	assert.Equal(t, []int{4, 1}, d.GridShape())
	assert.Equal(t, 256, d.Size())
}

func TestDerivedGridShape(t *testing.T) {
	d, err := FromShape([]int{64, 64}, 6,
		WithDist([]distmap.DistType{distmap.DistBlock, distmap.DistBlock}))
	require.NoError(t, err)

	grid := d.GridShape()
	assert.Equal(t, 6, grid[0]*grid[1])
	assert.NotEqual(t, 1, grid[0], "ranks should spread over both dimensions")
	assert.NotEqual(t, 1, grid[1], "ranks should spread over both dimensions")
}

func TestRankSpecsCoverShape(t *testing.T) {
	d, err := FromShape([]int{31, 53}, 4,
		WithDist([]distmap.DistType{distmap.DistBlock, distmap.DistNone}),
		WithGridShape([]int{4, 1}))
	require.NoError(t, err)

	total := 0
	for rank := 0; rank < 4; rank++ {
		specs, err := d.RankSpecs(rank)
		require.NoError(t, err)
		mm, err := distmap.FromSpecs(specs)
		require.NoError(t, err)
		total += mm.LocalSize()
	}
	assert.Equal(t, 31*53, total)

	_, err = d.RankSpecs(4)
	assert.Error(t, err)
}

func TestFromShapeValidation(t *testing.T) {
	_, err := FromShape(nil, 4)
	assert.Error(t, err)

	_, err = FromShape([]int{0}, 4)
	assert.Error(t, err)

	_, err = FromShape([]int{8}, 0)
	assert.Error(t, err)

	_, err = FromShape([]int{8, 8}, 4, WithGridShape([]int{2, 1}))
	assert.Error(t, err, "grid product must equal rank count")

	_, err = FromShape([]int{8, 8}, 4,
		WithDist([]distmap.DistType{distmap.DistBlock, distmap.DistNone}),
		WithGridShape([]int{2, 2}))
	assert.Error(t, err, "non-distributed axes cannot span multiple grid slots")

	_, err = FromShape([]int{8}, 4,
		WithDist([]distmap.DistType{distmap.DistBlock}),
		WithBlockSizes([]int{2}))
	assert.Error(t, err, "block sizes only apply to cyclic axes")
}

func TestFromRankSpecs(t *testing.T) {
	d, err := FromShape([]int{16, 8}, 4,
		WithDist([]distmap.DistType{distmap.DistBlock, distmap.DistCyclic}),
		WithGridShape([]int{2, 2}))
	require.NoError(t, err)

	all := make([][]distmap.DimSpec, 4)
	for rank := range all {
		specs, err := d.RankSpecs(rank)
		require.NoError(t, err)
		all[rank] = specs
	}

	rebuilt, err := FromRankSpecs(all)
	require.NoError(t, err)
	assert.Equal(t, d.Shape(), rebuilt.Shape())
	assert.Equal(t, d.GridShape(), rebuilt.GridShape())
	assert.Equal(t, d.Dist(), rebuilt.Dist())
}

// Each global index must be owned by exactly one rank, and the owner's specs
// must actually contain the index.
func TestSingleOwnerProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numRanks := rapid.SampledFrom([]int{1, 2, 4, 6}).Draw(t, "num_ranks")
		rows := rapid.IntRange(numRanks, 24).Draw(t, "rows")
		cols := rapid.IntRange(1, 24).Draw(t, "cols")
		dists := rapid.SampledFrom([][]distmap.DistType{
			{distmap.DistBlock, distmap.DistNone},
			{distmap.DistCyclic, distmap.DistNone},
		}).Draw(t, "dist")

		d, err := FromShape([]int{rows, cols}, numRanks, WithDist(dists))
		require.NoError(t, err)

		mms := make([]*distmap.MultiMap, numRanks)
		for rank := 0; rank < numRanks; rank++ {
			specs, err := d.RankSpecs(rank)
			require.NoError(t, err)
			mms[rank], err = distmap.FromSpecs(specs)
			require.NoError(t, err)
		}

		r := rapid.IntRange(0, rows-1).Draw(t, "r")
		c := rapid.IntRange(0, cols-1).Draw(t, "c")

		ranks, err := d.OwningRanks([]int{r, c})
		require.NoError(t, err)
		require.Len(t, ranks, 1)

		owners := 0
		for rank := 0; rank < numRanks; rank++ {
			if _, err := mms[rank].LocalFromGlobal([]int{r, c}); err == nil {
				owners++
				require.Equal(t, ranks[0], rank)
			}
		}
		require.Equal(t, 1, owners)
	})
}
