// Package engine implements the daengine worker: it owns the local shards of
// distributed arrays and serves the HTTP API that clients use to create,
// mutate, reduce, gather and persist them.
package engine
