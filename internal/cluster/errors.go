package cluster

import "errors"

var (
	// ErrAlreadyRunning reports a start attempt while a cluster is up.
	ErrAlreadyRunning = errors.New("cluster is already running")
	// ErrNotRunning reports an operation on a cluster that is not up.
	ErrNotRunning = errors.New("cluster is not running")
)
