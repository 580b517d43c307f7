package smt

import "github.com/pkg/errors"

// StoreIOError wraps an underlying key-value store failure. The tree is
// left in an undefined state by the mutation that produced it; callers
// should treat the root returned alongside this error (if any) as not
// committed.
type StoreIOError struct {
	cause error
}

func (e *StoreIOError) Error() string {
	return errors.Wrap(e.cause, "store i/o error").Error()
}

func (e *StoreIOError) Unwrap() error {
	return e.cause
}

func wrapStoreErr(cause error) error {
	if cause == nil {
		return nil
	}
	return &StoreIOError{cause: errors.WithStack(cause)}
}

// errNotFound indicates a digest referenced by a node was missing from the
// node store. It never escapes the engine; sidenodes() turns it into a
// StoreIOError, since a missing referenced digest means the store is
// corrupt, not that the key is absent.
var errNotFound = errors.New("node store: digest not found")

// ErrMalformedPayload indicates a node record's length is inconsistent
// with its type prefix. This is fatal: it indicates the node store has
// been corrupted or written to by something other than this package.
var ErrMalformedPayload = errors.New("node payload malformed for its prefix")

// ErrInvariantViolation is returned when a caller violates a contract the
// engine assumes a well-typed caller upholds, e.g. calling Update with an
// empty value.
var ErrInvariantViolation = errors.New("smt: invariant violation")

// ErrKeyAlreadyEmpty is returned by the engine's internal delete step when
// the key's slot is a placeholder. It is not an error condition for the
// caller: Delete and DeleteForRoot do not return it, and instead return the
// root unchanged. It exists so the internal step can distinguish a no-op
// deletion from an I/O failure.
var ErrKeyAlreadyEmpty = errors.New("smt: key already empty")
