// Package client is the user-facing side of distarray: a Context drives an
// ordered set of engines over HTTP, and DistArray values proxy the shards
// those engines hold.
package client
