package client

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dacompute/distarray/pkg/distmap"
	"github.com/dacompute/distarray/pkg/distribution"
	"github.com/dacompute/distarray/pkg/engine"
	"github.com/dacompute/distarray/pkg/localarray"
	"github.com/google/uuid"
)

// Context manages the engines that DistArray values live on. Engines are
// ordered by rank: engines[i] is rank i. Typically one context spans the
// whole cluster, but a context over a subset of engines is also valid as
// long as their ranks are contiguous from zero.
type Context struct {
	engines []*EngineClient
	key     string
	logger  *slog.Logger
}

// ContextOption adjusts context construction.
type ContextOption func(*Context)

// WithLogger sets the context logger.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *Context) { c.logger = logger }
}

// uid generates a short unique identifier, usable as a key fragment.
func uid() string {
	return "da" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NewContext connects to the given engine addresses, orders them by rank and
// returns a ready context.
func NewContext(ctx context.Context, addrs []string, opts ...ContextOption) (*Context, error) {
	if len(addrs) == 0 {
		return nil, ErrNoEngines
	}

	c := &Context{
		key:    "ctx" + uid(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	engines := make([]*EngineClient, len(addrs))
	errs := make([]error, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			ec := NewEngineClient(addr)
			if _, err := ec.Health(ctx); err != nil {
				errs[i] = err
				return
			}
			engines[i] = ec
		}(i, addr)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("engine health check: %w", err)
		}
	}

	// Order engines by the rank they report, and require the ranks to be
	// exactly 0..n-1 so rank i maps to engines[i].
	sort.Slice(engines, func(i, j int) bool { return engines[i].Rank() < engines[j].Rank() })
	for i, ec := range engines {
		if ec.Rank() != i {
			return nil, fmt.Errorf("engine ranks are not contiguous: found rank %d at position %d", ec.Rank(), i)
		}
	}
	c.engines = engines

	c.logger.Debug("Context created", "key", c.key, "engines", len(engines))
	return c, nil
}

// NumEngines returns the number of engines in the context.
func (c *Context) NumEngines() int { return len(c.engines) }

// Engine returns the client for one rank.
func (c *Context) Engine(rank int) *EngineClient { return c.engines[rank] }

// Key returns the context's key prefix. Every array created through the
// context is stored under it.
func (c *Context) Key() string { return c.key }

// generateKey produces a fresh array key under the context prefix.
func (c *Context) generateKey() string {
	return c.key + "." + uid()
}

// each runs fn for every rank concurrently and returns the first error.
func (c *Context) each(ctx context.Context, fn func(rank int, ec *EngineClient) error) error {
	errs := make([]error, len(c.engines))
	var wg sync.WaitGroup
	for rank, ec := range c.engines {
		wg.Add(1)
		go func(rank int, ec *EngineClient) {
			defer wg.Done()
			errs[rank] = fn(rank, ec)
		}(rank, ec)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// create builds one array across all engines with a generator.
func (c *Context) create(ctx context.Context, shape []int, generator string, params map[string]float64, opts []distribution.Option) (*DistArray, error) {
	dist, err := distribution.FromShape(shape, len(c.engines), opts...)
	if err != nil {
		return nil, err
	}
	key := c.generateKey()
	err = c.each(ctx, func(rank int, ec *EngineClient) error {
		specs, err := dist.RankSpecs(rank)
		if err != nil {
			return err
		}
		return ec.Create(ctx, engine.CreateRequest{
			Key:       key,
			DimSpecs:  specs,
			Generator: generator,
			Params:    params,
		})
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Array created", "key", key, "shape", shape, "generator", generator)
	return &DistArray{ctx: c, key: key, dist: dist}, nil
}

// Zeros creates a zero-filled array.
func (c *Context) Zeros(ctx context.Context, shape []int, opts ...distribution.Option) (*DistArray, error) {
	return c.create(ctx, shape, "zeros", nil, opts)
}

// Ones creates a one-filled array.
func (c *Context) Ones(ctx context.Context, shape []int, opts ...distribution.Option) (*DistArray, error) {
	return c.create(ctx, shape, "ones", nil, opts)
}

// Empty creates an array with unspecified contents. Engines zero their
// buffers, so Empty is an alias for Zeros kept for API parity.
func (c *Context) Empty(ctx context.Context, shape []int, opts ...distribution.Option) (*DistArray, error) {
	return c.create(ctx, shape, "zeros", nil, opts)
}

// FromFunction creates an array whose elements are produced by the named
// generator evaluated at each global index on the owning engine.
func (c *Context) FromFunction(ctx context.Context, generator string, params map[string]float64, shape []int, opts ...distribution.Option) (*DistArray, error) {
	return c.create(ctx, shape, generator, params, opts)
}

// FromNDArray scatters a dense array across the engines.
func (c *Context) FromNDArray(ctx context.Context, nd *localarray.NDArray, opts ...distribution.Option) (*DistArray, error) {
	dist, err := distribution.FromShape(nd.Shape, len(c.engines), opts...)
	if err != nil {
		return nil, err
	}
	key := c.generateKey()
	err = c.each(ctx, func(rank int, ec *EngineClient) error {
		specs, err := dist.RankSpecs(rank)
		if err != nil {
			return err
		}
		// Cut this rank's elements out of the dense array in local
		// row-major order.
		shard, err := localarray.New(specs)
		if err != nil {
			return err
		}
		data := make([]float64, 0, shard.LocalSize())
		for _, global := range shard.GlobalIndices() {
			v, err := nd.At(global...)
			if err != nil {
				return err
			}
			data = append(data, v)
		}
		return ec.Create(ctx, engine.CreateRequest{Key: key, DimSpecs: specs, Data: data})
	})
	if err != nil {
		return nil, err
	}
	return &DistArray{ctx: c, key: key, dist: dist}, nil
}

// FromGlobalDimSpecs creates an array from explicit per-rank dimension
// specs, giving full control over the layout.
func (c *Context) FromGlobalDimSpecs(ctx context.Context, rankSpecs [][]distmap.DimSpec) (*DistArray, error) {
	if len(rankSpecs) != len(c.engines) {
		return nil, fmt.Errorf("got specs for %d ranks, context has %d engines", len(rankSpecs), len(c.engines))
	}
	dist, err := distribution.FromRankSpecs(rankSpecs)
	if err != nil {
		return nil, err
	}
	key := c.generateKey()
	err = c.each(ctx, func(rank int, ec *EngineClient) error {
		return ec.Create(ctx, engine.CreateRequest{Key: key, DimSpecs: rankSpecs[rank]})
	})
	if err != nil {
		return nil, err
	}
	return &DistArray{ctx: c, key: key, dist: dist}, nil
}

// SaveDNPY persists an array: every engine writes <prefix>_<rank>.dnpy into
// its data directory.
func (c *Context) SaveDNPY(ctx context.Context, prefix string, da *DistArray) error {
	return c.each(ctx, func(rank int, ec *EngineClient) error {
		return ec.Save(ctx, da.key, prefix)
	})
}

// LoadDNPY restores an array saved with SaveDNPY. Each engine loads its own
// shard file and the distribution is rebuilt from the recovered specs.
func (c *Context) LoadDNPY(ctx context.Context, prefix string) (*DistArray, error) {
	key := c.generateKey()
	rankSpecs := make([][]distmap.DimSpec, len(c.engines))
	err := c.each(ctx, func(rank int, ec *EngineClient) error {
		specs, err := ec.Load(ctx, key, prefix)
		if err != nil {
			return err
		}
		rankSpecs[rank] = specs
		return nil
	})
	if err != nil {
		return nil, err
	}
	dist, err := distribution.FromRankSpecs(rankSpecs)
	if err != nil {
		return nil, err
	}
	return &DistArray{ctx: c, key: key, dist: dist}, nil
}

// Delete removes an array from all engines.
func (c *Context) Delete(ctx context.Context, da *DistArray) error {
	return c.each(ctx, func(rank int, ec *EngineClient) error {
		return ec.Delete(ctx, da.key)
	})
}

// Close releases the context's engine connections. Arrays the context
// created stay on the engines; call Cleanup first to remove them.
func (c *Context) Close() {
	for _, ec := range c.engines {
		ec.Close()
	}
}

// Cleanup removes every array this context created.
func (c *Context) Cleanup(ctx context.Context) error {
	return c.each(ctx, func(rank int, ec *EngineClient) error {
		removed, err := ec.DeletePrefix(ctx, c.key+".")
		if err != nil {
			return err
		}
		c.logger.Debug("Context keys removed", "rank", rank, "removed", removed)
		return nil
	})
}
