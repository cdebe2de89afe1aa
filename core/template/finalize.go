package template

import (
	"github.com/adalundhe/retrace/core/traceerr"
)

// Finalize implements spec §4.D.2's `finalize(op, has_blocking_call)`,
// minus the nonreplayable_count bookkeeping a PhysicalTrace performs
// on the return value (spec: "record a nonreplayable_count against
// the parent physical trace").
//
// Step 1: a blocking call always marks the template non-replayable and
// skips condition generation entirely. Steps 2-3: generate_conditions
// and check_replayable. Optimize (step 4) is the caller's
// responsibility once Finalize reports replayable=true, since the
// optimizer needs replayParallelism and may be deferred to a
// background goroutine (spec §5 "fix_trace may return a deferred
// event").
func (t *Template) Finalize(hasBlockingCall bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.finalized = true

	if hasBlockingCall {
		t.replayable = false
		return &traceerr.NonReplayableError{TraceID: t.traceID, Reason: "blocking call observed during recording"}
	}

	t.generateConditionsLocked()

	if err := t.checkReplayableLocked(); err != nil {
		t.replayable = false
		return err
	}

	t.replayable = true
	return nil
}

// generateConditionsLocked partitions the recorded view-use log into
// pre/post condition sets (spec §4.D.2 step 2). Must be called with
// t.mu held.
//
// pre captures the mask required at each (view, eq) pair's first
// touch; post accumulates every touch over the full recording. A
// template that never reads or writes fields beyond what it first
// required ends up with post dominated by pre at every entry, the
// ordinary, replayable case. A template that grows its footprint
// mid-recording (reads or writes a field at a (view, eq) pair beyond
// what the first touch needed) produces a post entry pre does not
// dominate, failing check_replayable.
func (t *Template) generateConditionsLocked() {
	t.pre = newSet()
	t.post = newSet()
	t.preReductions = newSet()
	t.postReductions = newSet()
	t.consumedReductions = newSet()

	seenFirst := make(map[viewEqKey]bool)
	pendingReduction := make(map[viewEqKey]bool)
	lastReductionUse := make(map[viewEqKey]viewUse)

	for _, use := range t.viewUsers {
		key := viewEqKey{view: use.view, eq: use.eq}

		if !seenFirst[key] {
			t.pre.Insert(use.view, use.eq, use.mask)
			seenFirst[key] = true
		}
		t.post.Insert(use.view, use.eq, use.mask)

		if use.reduction {
			t.preReductions.Insert(use.view, use.eq, use.mask)
			pendingReduction[key] = true
			lastReductionUse[key] = use
			continue
		}

		if pendingReduction[key] {
			t.consumedReductions.Insert(use.view, use.eq, use.mask)
			pendingReduction[key] = false
		}
	}

	// Any reduction still pending once recording ends was never
	// consumed by a matching read/write, so it's still outstanding at
	// the template's post-state, spec §4.D.2's post_reductions output.
	for key, stillPending := range pendingReduction {
		if !stillPending {
			continue
		}
		use := lastReductionUse[key]
		t.postReductions.Insert(use.view, use.eq, use.mask)
	}
}

// checkReplayableLocked implements spec §4.D.2 step 3. Must be called
// with t.mu held, after generateConditionsLocked.
func (t *Template) checkReplayableLocked() error {
	if !t.post.SubsumedBy(t.pre) {
		return &traceerr.NonReplayableError{
			TraceID: t.traceID,
			Reason:  "post-condition set is not subsumed by pre-condition set",
		}
	}
	if !t.preReductions.SubsumedBy(t.consumedReductions) {
		return &traceerr.NonReplayableError{
			TraceID: t.traceID,
			Reason:  "pre-reductions are not fully consumed",
		}
	}
	for v, postMask := range t.postFillViews {
		if !t.preFillViews[v].Dominates(postMask) {
			return &traceerr.NonReplayableError{
				TraceID: t.traceID,
				Reason:  "fill footprint is not subsumed by the first fill recorded for the view",
			}
		}
	}
	return nil
}

// Optimize runs the six-pass optimizer of spec §4.D.3, in order. Only
// meaningful after Finalize has reported the template replayable.
func (t *Template) Optimize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.elideFences()
	t.propagateMerges()
	t.transitiveReduction()
	t.propagateCopies()
	t.prepareParallelReplay()
	t.pushCompleteReplays()
}

// checkInvariant is a small helper the optimizer passes use to flag a
// violated slot-producer invariant as a fatal fault rather than
// silently producing an inconsistent instruction stream.
func checkInvariant(cond bool, reason string) {
	if !cond {
		traceerr.Panic(reason)
	}
}
