package engine

import "errors"

var (
	// ErrKeyNotFound reports a request for an array key the engine does
	// not hold.
	ErrKeyNotFound = errors.New("array key not found")
	// ErrKeyExists reports an attempt to create an array under a key that
	// is already taken.
	ErrKeyExists = errors.New("array key already exists")
	// ErrUnknownGenerator reports a creation request naming a generator
	// that is not registered.
	ErrUnknownGenerator = errors.New("unknown generator")
)
