// Package xerr defines the error-kind taxonomy used across the tree
// engine. It follows the same wrap-with-context discipline as
// internal/utils.ContextError, adding a Kind so callers can branch on
// errors.As instead of matching strings.
package xerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind uint8

const (
	// Unknown is the zero value; never constructed deliberately.
	Unknown Kind = iota
	// NoMemory means context, level-stack, or spare-node allocation failed.
	NoMemory
	// BadAddress means a child pointer read from a frame was outside the
	// segment or failed addr.IsValid.
	BadAddress
	// BadFormat means a node's header or footer failed validation on load.
	BadFormat
	// RetryExhausted means optimistic restarts exceeded MaxTrials with
	// LOCKALL already engaged.
	RetryExhausted
	// DelayedFreeInUse means a node marked delayed-free was accessed before
	// its refcount reached zero.
	DelayedFreeInUse
	// CallbackError wraps an error returned by the caller's ACT callback.
	CallbackError
	// CloseTimeout means Close found active nodes after the grace period.
	CloseTimeout
	// KeyNotFound means a GET/DEL found no matching record.
	KeyNotFound
	// KeyExists means a PUT found an existing record for the key.
	KeyExists
	// BTreeBoundary means an ITER/SLANT walked off the end of the tree.
	BTreeBoundary
	// PoolExhausted means the tree descriptor pool has no free slot.
	PoolExhausted
)

func (k Kind) String() string {
	switch k {
	case NoMemory:
		return "no-memory"
	case BadAddress:
		return "bad-address"
	case BadFormat:
		return "bad-format"
	case RetryExhausted:
		return "retry-exhausted"
	case DelayedFreeInUse:
		return "delayed-free-in-use"
	case CallbackError:
		return "callback-error"
	case CloseTimeout:
		return "close-timeout"
	case KeyNotFound:
		return "key-not-found"
	case KeyExists:
		return "key-exists"
	case BTreeBoundary:
		return "btree-boundary"
	case PoolExhausted:
		return "pool-exhausted"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with the operation that failed and the
// kind of failure, mirroring internal/utils.ContextError with an added
// Kind field for errors.As-based dispatch.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, xerr.New(SomeKind, "", nil)) match on Kind alone,
// so sentinel-style comparisons work without needing the exact cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error for the given kind and operation, wrapping an
// optional cause.
func New(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Of reports the Kind carried by err, if any, via errors.As.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Unknown, false
}
