package smt

import "github.com/pkg/errors"

// Store is the byte-to-byte key-value backend the engine uses for both the
// node store (digest -> node payload) and the value store (path -> raw
// value). The engine drives one Store instance for each; a single
// implementation may back both, or two independent ones may be used.
//
// The engine assumes no concurrent writers and no ordering guarantee
// between node-store and value-store operations beyond what each mutation
// already serializes through the tree.
type Store interface {
	// Get returns the value for key, or an error satisfying errors.Is(err,
	// ErrKeyNotFound) if absent.
	Get(key []byte) ([]byte, error)
	// Put inserts or overwrites the value for key.
	Put(key, value []byte) error
	// Has reports whether key is present.
	Has(key []byte) (bool, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error
}

// ErrKeyNotFound is returned by Store.Get when key has no value.
var ErrKeyNotFound = errors.New("smt: key not found")
