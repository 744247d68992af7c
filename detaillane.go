// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

// snapshotQueueDepth bounds the number of not-yet-drained window
// snapshots a single thread may have in flight. Window closes are rare
// relative to per-record writes (spec §4.5's post-roll gate), so a small
// buffered channel is an acceptable control-plane cost here, unlike the
// per-record ring path which must never block or allocate.
const snapshotQueueDepth = 8

// DetailLaneController drives the close-for-dump/close-for-discard
// lifecycle of one thread's detail lane and its PersistenceWindow (spec
// §4.5, §4.6's component name "detail-lane control"). Writing the
// payload itself is delegated to appendFn so the same dual-write/
// backpressure path producer.go uses for the index lane also governs the
// detail lane; this type owns only the window/mark bookkeeping and the
// ring-swap decision.
type DetailLaneController struct {
	lane     *Lane
	policy   *MarkingPolicy
	window   *PersistenceWindow
	appendFn func(payload []byte) error

	nextWindowID uint64
	snapshots    chan WindowSnapshot
}

// NewDetailLaneController pairs a detail Lane with a MarkingPolicy and
// the first PersistenceWindow, which the caller has already opened
// (NewPersistenceWindow's nowNS). appendFn is called for
// every detail record and should apply the same mode/backpressure rules
// as the index lane.
func NewDetailLaneController(lane *Lane, policy *MarkingPolicy, window *PersistenceWindow, appendFn func(payload []byte) error) *DetailLaneController {
	return &DetailLaneController{
		lane:         lane,
		policy:       policy,
		window:       window,
		appendFn:     appendFn,
		nextWindowID: window.windowID + 1,
		snapshots:    make(chan WindowSnapshot, snapshotQueueDepth),
	}
}

// Offer evaluates probe, advances the window, writes payload via
// appendFn unconditionally (spec §4.5: pre-roll relies on the ring
// continuously holding recent events, matched or not), then closes the
// window for dump if it has become eligible.
func (d *DetailLaneController) Offer(probe Probe, payload []byte, nowNS uint64) (matched bool, err error) {
	matched = d.policy.Evaluate(probe)
	d.window.Advance(matched, nowNS)
	if err = d.appendFn(payload); err != nil {
		return matched, err
	}
	_, _, err = d.maybeCloseForDump(nowNS)
	return matched, err
}

// maybeCloseForDump closes the current window for persistence if it is
// eligible: snapshots it, swaps the detail lane's active ring onto
// submit, publishes the snapshot for the drain engine to pair with the
// retired ring, and opens a fresh window.
func (d *DetailLaneController) maybeCloseForDump(nowNS uint64) (snap WindowSnapshot, closed bool, err error) {
	if !d.window.EligibleForDump(nowNS) {
		return WindowSnapshot{}, false, nil
	}
	snap = d.window.Snapshot()
	if _, err = d.lane.swapActive(); err != nil {
		return WindowSnapshot{}, false, err
	}
	d.publish(snap)
	d.window.reset(d.nextWindowID, nowNS)
	d.nextWindowID++
	return snap, true, nil
}

func (d *DetailLaneController) publish(snap WindowSnapshot) {
	select {
	case d.snapshots <- snap:
	default:
		// Snapshot queue full: the drain engine has fallen far enough
		// behind that window metadata for this ring is lost. The ring
		// bytes themselves are unaffected; only WindowSnapshot fields
		// (mark counts, timestamps) attributed to that dump are lost.
	}
}

// NextSnapshot returns the oldest not-yet-delivered window snapshot, for
// the drain engine to pair with the next ring it dequeues from this
// thread's detail submit queue. ok is false if none is pending.
func (d *DetailLaneController) NextSnapshot() (snap WindowSnapshot, ok bool) {
	select {
	case snap = <-d.snapshots:
		return snap, true
	default:
		return WindowSnapshot{}, false
	}
}

// CloseForDiscard resets the current window in place without submitting
// its ring — used when a window never saw a mark (spec §8: "start a
// window, never mark it; on session close, window is discarded").
func (d *DetailLaneController) CloseForDiscard(nowNS uint64) {
	d.window.reset(d.nextWindowID, nowNS)
	d.nextWindowID++
}

// CloseForShutdown closes the current window exactly once more at
// session end: for dump if a mark was ever seen, for discard otherwise.
func (d *DetailLaneController) CloseForShutdown(nowNS uint64) (snap WindowSnapshot, dumped bool, err error) {
	if !d.window.markSeen {
		d.CloseForDiscard(nowNS)
		return WindowSnapshot{}, false, nil
	}
	snap = d.window.Snapshot()
	if _, err = d.lane.swapActive(); err != nil {
		return WindowSnapshot{}, false, err
	}
	d.publish(snap)
	d.window.reset(d.nextWindowID, nowNS)
	d.nextWindowID++
	return snap, true, nil
}
