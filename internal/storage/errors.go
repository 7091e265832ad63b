package storage

import "errors"

// Setup errors returned by Open. The store is unusable after any of them.
var (
	// ErrMissingContainer means the container directory is unset or does
	// not exist.
	ErrMissingContainer = errors.New("storage: container directory unavailable")

	// ErrMissingModel means Open was called without a data model.
	ErrMissingModel = errors.New("storage: data model missing")

	// ErrMissingSchema means the model has no migrations or a modelled
	// table is absent after migrating.
	ErrMissingSchema = errors.New("storage: data model schema unavailable")

	// ErrMissingStore means the persistent store has been closed or never
	// loaded.
	ErrMissingStore = errors.New("storage: persistent store unavailable")
)

// ErrUnknownKey is returned when a predicate or sort descriptor names a
// column the entity does not have.
var ErrUnknownKey = errors.New("storage: unknown key")
