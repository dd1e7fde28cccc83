package client

import "errors"

var (
	// ErrIndexOutOfBounds reports an index outside the array shape.
	ErrIndexOutOfBounds = errors.New("index out of bounds")
	// ErrNoEngines reports a context created without any reachable engine.
	ErrNoEngines = errors.New("no engines available")
	// ErrEngine wraps failures reported by an engine.
	ErrEngine = errors.New("engine error")
	// ErrNotLocal reports an element the queried engine does not own.
	ErrNotLocal = errors.New("element not local to engine")
)
