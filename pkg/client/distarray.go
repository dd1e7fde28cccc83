package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/dacompute/distarray/pkg/distmap"
	"github.com/dacompute/distarray/pkg/distribution"
	"github.com/dacompute/distarray/pkg/engine"
	"github.com/dacompute/distarray/pkg/localarray"
)

// DistArray is a proxy for an array whose shards live on the context's
// engines. It holds no element data itself, only the key and the layout.
type DistArray struct {
	ctx  *Context
	key  string
	dist *distribution.Distribution
}

// Key returns the array's storage key.
func (da *DistArray) Key() string { return da.key }

// Shape returns the global shape.
func (da *DistArray) Shape() []int { return da.dist.Shape() }

// NDim returns the number of dimensions.
func (da *DistArray) NDim() int { return da.dist.NDim() }

// Size returns the total number of elements.
func (da *DistArray) Size() int { return da.dist.Size() }

// Dist returns the per-dimension distribution types.
func (da *DistArray) Dist() []distmap.DistType { return da.dist.Dist() }

// GridShape returns the process grid shape.
func (da *DistArray) GridShape() []int { return da.dist.GridShape() }

// Distribution returns the array's layout.
func (da *DistArray) Distribution() *distribution.Distribution { return da.dist }

// normalizeIndex resolves negative indices against the shape and bounds-checks
// the result.
func (da *DistArray) normalizeIndex(index []int) ([]int, error) {
	shape := da.dist.Shape()
	if len(index) != len(shape) {
		return nil, fmt.Errorf("index has %d dimensions, array has %d: %w", len(index), len(shape), ErrIndexOutOfBounds)
	}
	out := make([]int, len(index))
	for dim, i := range index {
		if i < 0 {
			i += shape[dim]
		}
		if i < 0 || i >= shape[dim] {
			return nil, fmt.Errorf("index %d out of range for dimension %d of size %d: %w", index[dim], dim, shape[dim], ErrIndexOutOfBounds)
		}
		out[dim] = i
	}
	return out, nil
}

// GetItem reads one element by global index. Negative indices count from the
// end, as in numpy. Candidate ranks are tried in order: unstructured axes
// widen the candidate set, and only the owning rank answers.
func (da *DistArray) GetItem(ctx context.Context, index ...int) (float64, error) {
	global, err := da.normalizeIndex(index)
	if err != nil {
		return 0, err
	}
	ranks, err := da.dist.OwningRanks(global)
	if err != nil {
		return 0, err
	}
	for _, rank := range ranks {
		v, err := da.ctx.Engine(rank).Get(ctx, da.key, global)
		if errors.Is(err, ErrNotLocal) {
			continue
		}
		return v, err
	}
	return 0, fmt.Errorf("no engine owns index %v: %w", index, ErrNotLocal)
}

// SetItem writes one element by global index. Every candidate rank that owns
// the element is updated so replicated layouts stay consistent; ranks that
// answer not-local are skipped.
func (da *DistArray) SetItem(ctx context.Context, value float64, index ...int) error {
	global, err := da.normalizeIndex(index)
	if err != nil {
		return err
	}
	ranks, err := da.dist.OwningRanks(global)
	if err != nil {
		return err
	}
	owners := 0
	for _, rank := range ranks {
		err := da.ctx.Engine(rank).Set(ctx, da.key, global, value)
		if errors.Is(err, ErrNotLocal) {
			continue
		}
		if err != nil {
			return err
		}
		owners++
	}
	if owners == 0 {
		return fmt.Errorf("no engine owns index %v: %w", index, ErrNotLocal)
	}
	return nil
}

// Fill sets every element to value.
func (da *DistArray) Fill(ctx context.Context, value float64) error {
	return da.ctx.each(ctx, func(rank int, ec *EngineClient) error {
		return ec.Fill(ctx, da.key, value)
	})
}

// moments gathers and combines the per-shard reduction partials.
func (da *DistArray) moments(ctx context.Context) (localarray.Moments, error) {
	partials := make([]localarray.Moments, da.ctx.NumEngines())
	err := da.ctx.each(ctx, func(rank int, ec *EngineClient) error {
		m, err := ec.Moments(ctx, da.key)
		if err != nil {
			return err
		}
		partials[rank] = m
		return nil
	})
	if err != nil {
		return localarray.Moments{}, err
	}
	var total localarray.Moments
	for _, m := range partials {
		total = total.Combine(m)
	}
	return total, nil
}

// Sum returns the sum of all elements.
func (da *DistArray) Sum(ctx context.Context) (float64, error) {
	m, err := da.moments(ctx)
	return m.Sum, err
}

// Mean returns the arithmetic mean of all elements.
func (da *DistArray) Mean(ctx context.Context) (float64, error) {
	m, err := da.moments(ctx)
	if err != nil {
		return 0, err
	}
	return m.Mean(), nil
}

// Var returns the population variance of all elements.
func (da *DistArray) Var(ctx context.Context) (float64, error) {
	m, err := da.moments(ctx)
	if err != nil {
		return 0, err
	}
	return m.Var(), nil
}

// Std returns the population standard deviation of all elements.
func (da *DistArray) Std(ctx context.Context) (float64, error) {
	m, err := da.moments(ctx)
	if err != nil {
		return 0, err
	}
	return m.Std(), nil
}

// LocalShapes returns the shard shape on each rank.
func (da *DistArray) LocalShapes(ctx context.Context) ([][]int, error) {
	shapes := make([][]int, da.ctx.NumEngines())
	err := da.ctx.each(ctx, func(rank int, ec *EngineClient) error {
		specs, err := ec.Specs(ctx, da.key)
		if err != nil {
			return err
		}
		mm, err := distmap.FromSpecs(specs)
		if err != nil {
			return err
		}
		shapes[rank] = mm.LocalShape()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shapes, nil
}

// ToNDArray gathers every shard into a dense array on the client.
func (da *DistArray) ToNDArray(ctx context.Context) (*localarray.NDArray, error) {
	nd, err := localarray.NewNDArray(da.dist.Shape())
	if err != nil {
		return nil, err
	}
	parts := make([]engine.LocalPartResponse, da.ctx.NumEngines())
	err = da.ctx.each(ctx, func(rank int, ec *EngineClient) error {
		part, err := ec.LocalPart(ctx, da.key)
		if err != nil {
			return err
		}
		parts[rank] = part
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, part := range parts {
		shard, err := localarray.FromData(part.DimSpecs, part.Data)
		if err != nil {
			return nil, err
		}
		for i, global := range shard.GlobalIndices() {
			if err := nd.Set(shard.Data()[i], global...); err != nil {
				return nil, err
			}
		}
	}
	return nd, nil
}
