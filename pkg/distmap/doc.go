// Package distmap implements the per-dimension index maps that describe how
// one axis of a distributed array is partitioned across a process grid.
//
// A map translates between global indices (positions in the full array) and
// local indices (positions in the shard owned by one grid rank). Four
// distribution types are supported: block, cyclic, block-cyclic and
// unstructured. A not-distributed axis is represented as a block map that
// spans the whole axis on a grid of size one.
package distmap
