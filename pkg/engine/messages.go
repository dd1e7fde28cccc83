package engine

import (
	"github.com/dacompute/distarray/pkg/distmap"
	"github.com/dacompute/distarray/pkg/localarray"
)

// CreateRequest asks an engine to build the local shard described by the
// rank-specific dimension specs. The shard is filled by the named generator
// (zeros when empty) evaluated with the given parameters.
type CreateRequest struct {
	Key       string             `json:"key"`
	DimSpecs  []distmap.DimSpec  `json:"dim_data"`
	Generator string             `json:"generator,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
	// Data scatters explicit shard contents instead of running a
	// generator. Length must match the local size of the specs.
	Data []float64 `json:"data,omitempty"`
}

// FillRequest sets every element of a shard to one value.
type FillRequest struct {
	Value float64 `json:"value"`
}

// ElementRequest addresses one element by its global index.
type ElementRequest struct {
	Index []int   `json:"index"`
	Value float64 `json:"value,omitempty"`
}

// ElementResponse carries one element value back to the client.
type ElementResponse struct {
	Value float64 `json:"value"`
}

// LocalPartResponse carries a shard's buffer and layout back to the client
// for gather operations.
type LocalPartResponse struct {
	DimSpecs   []distmap.DimSpec `json:"dim_data"`
	LocalShape []int             `json:"local_shape"`
	Data       []float64         `json:"data"`
}

// SpecsResponse carries a shard's dimension specs.
type SpecsResponse struct {
	DimSpecs []distmap.DimSpec `json:"dim_data"`
}

// MomentsResponse carries a shard's reduction partials.
type MomentsResponse struct {
	Moments localarray.Moments `json:"moments"`
}

// SaveRequest persists a shard to <prefix>_<rank>.dnpy under the engine's
// data directory.
type SaveRequest struct {
	Prefix string `json:"prefix"`
}

// LoadRequest restores a shard from <prefix>_<rank>.dnpy and stores it
// under Key.
type LoadRequest struct {
	Key    string `json:"key"`
	Prefix string `json:"prefix"`
}

// KeysResponse lists the array keys held by an engine.
type KeysResponse struct {
	Keys []string `json:"keys"`
}

// DeletedResponse reports how many shards a delete-by-prefix removed.
type DeletedResponse struct {
	Removed int `json:"removed"`
}

// HealthResponse identifies a live engine.
type HealthResponse struct {
	Status string `json:"status"`
	Rank   int    `json:"rank"`
	Arrays int    `json:"arrays"`
}

// ErrorResponse is the JSON error envelope for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
