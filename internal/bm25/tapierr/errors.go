// Package tapierr defines the typed error surface for the tapi index core.
//
// Every error the core returns across a package boundary is a *Error, so
// callers can switch on Kind without string matching. Kind reuses
// google.golang.org/grpc/codes the same way server/db_error.go reuses it for
// outgoing status errors: the code doubles as both a wire-friendly category
// and a small fixed enum, with no extra type needed.
package tapierr

import (
	"fmt"

	"google.golang.org/grpc/codes"
)

// Kind values used by this package. Each maps onto one of §7's error kinds.
const (
	// KindCorruption covers bad magic, truncated headers, out-of-bounds skip
	// entries, and anything else that means the on-disk format can't be
	// trusted. Recommended remedy is REINDEX.
	KindCorruption = codes.DataLoss
	// KindResourceExhausted covers page-pool exhaustion and memtable OOM.
	KindResourceExhausted = codes.ResourceExhausted
	// KindCancelled covers interrupt trips mid-scan, mid-merge, or mid-build.
	KindCancelled = codes.Canceled
	// KindMisuse covers caller errors: wrong column type, query against an
	// index that doesn't cover it, and similar plan/build-time rejections.
	KindMisuse = codes.InvalidArgument
	// KindTransientIO covers page read/write failures that the buffer
	// manager may retry.
	KindTransientIO = codes.Unavailable
)

// Error is the typed failure returned by the core. It carries a Kind for
// programmatic dispatch, a human Msg, an optional Hint telling the caller
// what to do about it, and an optional Cause for unwrapping.
type Error struct {
	Kind codes.Code
	Msg  string
	Hint string
	err  error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Kind, e.Msg, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Cause implements the ErrorCauser shape carried over from
// server/db_error.go: it returns the proximate wrapped error, or nil.
func (e *Error) Cause() error { return e.err }

// Unwrap lets errors.Is/As see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.err }

// New constructs an *Error with no wrapped cause.
func New(kind codes.Code, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error wrapping cause, or returns nil if cause is nil.
func Wrap(kind codes.Code, msg string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, err: cause}
}

// WithHint attaches a remediation hint and returns the receiver for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// Corruption constructs a KindCorruption error, pre-populated with the
// standard REINDEX hint. Unlike Wrap, it always returns a non-nil error
// even when cause is nil, since most corruption sites have no underlying
// error to wrap — just a violated invariant.
func Corruption(msg string, cause error) *Error {
	e := &Error{Kind: KindCorruption, Msg: msg, err: cause}
	return e.WithHint("REINDEX the relation; the on-disk segment format is inconsistent")
}

// ResourceExhausted constructs a KindResourceExhausted error with a hint
// naming the GUC/threshold the caller should raise.
func ResourceExhausted(msg, raiseThreshold string) *Error {
	return New(KindResourceExhausted, msg).WithHint("raise " + raiseThreshold)
}

// Cancelled constructs a KindCancelled error for an interrupt trip.
func Cancelled(msg string) *Error {
	return New(KindCancelled, msg)
}

// Misuse constructs a KindMisuse error for a caller/plan-time mistake.
func Misuse(msg string) *Error {
	return New(KindMisuse, msg)
}

// TransientIO wraps an I/O failure from the buffer manager.
func TransientIO(msg string, cause error) *Error {
	return Wrap(KindTransientIO, msg, cause)
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind codes.Code) bool {
	te, ok := err.(*Error)
	return ok && te.Kind == kind
}
