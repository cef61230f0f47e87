package store

import "errors"

// Typed sentinel errors the engine checks with errors.Is.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrSchemaMismatch = errors.New("store: schema version newer than this binary understands")
	ErrPoolTimeout    = errors.New("store: timed out waiting for a connection")
	ErrQueryTimeout   = errors.New("store: query exceeded its deadline")
	ErrClosed         = errors.New("store: store is closed")
)
