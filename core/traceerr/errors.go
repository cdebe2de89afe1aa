// Package traceerr implements the three fault kinds of spec.md §7:
// trace-divergence, non-replayable, and fatal. Recoverable faults are
// ordinary Go errors the caller inspects with errors.As; a fatal fault
// panics, since it signals an internal invariant violation rather than
// something the scheduler can recover from.
//
// Grounded in the teacher's core/errors/classifier.go and types.go:
// typed, inspectable errors rather than bare fmt.Errorf strings.
package traceerr

import "fmt"

// Kind classifies which of the three fault kinds an error represents.
type Kind int

const (
	KindDivergence Kind = iota
	KindNonReplayable
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindDivergence:
		return "trace-divergence"
	case KindNonReplayable:
		return "non-replayable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// DivergenceError is raised when a replayed operation's kind or region
// count no longer matches what was captured, or a precondition check
// fails. Recovery: discard the current template, revert the logical
// trace to LOGICAL_ONLY, re-record on next invocation.
type DivergenceError struct {
	OpIndex int
	Reason  string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("trace-divergence at op %d: %s", e.OpIndex, e.Reason)
}

// classifierKind implements the classifier interface.
func (e *DivergenceError) classifierKind() Kind { return KindDivergence }

// NonReplayableError is raised when a template cannot be marked
// replayable: a blocking call was observed, post is not subsumed by
// pre, or consumed reductions are insufficient. Recovery: keep the
// template for diagnostics, increment nonreplayable_count.
type NonReplayableError struct {
	TraceID uint64
	Reason  string
}

func (e *NonReplayableError) Error() string {
	return fmt.Sprintf("template for trace %d is non-replayable: %s", e.TraceID, e.Reason)
}

func (e *NonReplayableError) classifierKind() Kind { return KindNonReplayable }

// FatalError signals an internal invariant violation: an unknown
// instruction kind, or a slot read before written. Per spec §7 it
// should abort with a descriptive message; Panic does exactly that.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal trace invariant violation: %s", e.Reason)
}

func (e *FatalError) classifierKind() Kind { return KindFatal }

// Panic raises a FatalError as a Go panic, carrying the descriptive
// message spec §7 requires ("abort with a descriptive message").
func Panic(reason string) {
	panic(&FatalError{Reason: reason})
}

// classifier is satisfied by every error type in this package,
// allowing ClassifyKind to dispatch without a type-switch at call
// sites that only care about the fault kind.
type classifier interface {
	error
	classifierKind() Kind
}

// ClassifyKind returns the fault kind of err, and ok=false if err is
// not one of this package's typed errors.
func ClassifyKind(err error) (Kind, bool) {
	if c, ok := err.(classifier); ok {
		return c.classifierKind(), true
	}
	return 0, false
}

// IsRecoverable reports whether err is a divergence or non-replayable
// fault (both are reported to the scheduler via boolean/error return,
// per spec §7 "no out-of-band channel is used") as opposed to a fatal
// invariant violation that can only ever reach the caller via panic.
func IsRecoverable(err error) bool {
	kind, ok := ClassifyKind(err)
	return ok && (kind == KindDivergence || kind == KindNonReplayable)
}
