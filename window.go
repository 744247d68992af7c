// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"fmt"
	"time"
)

// PersistenceWindow tracks one contiguous detail-lane time range under
// evaluation for persistence (spec §4.5). It is owned entirely by the
// thread that advances it — no atomics, since each thread's detail lane
// has exactly one writer.
type PersistenceWindow struct {
	windowID uint64
	startNS  uint64

	firstMarkNS uint64
	lastEventNS uint64
	totalEvents uint64
	markedEvents uint64
	markSeen    bool

	preRollNS  uint64
	postRollNS uint64
}

// NewPersistenceWindow returns a window starting at nowNS, validating that
// preRoll worth of avgRecordSize-byte events, at the one-record-per-
// millisecond rate estimatePreRollBytes assumes, would actually fit
// within ringCapacity bytes — the §9 open-question decision
// recorded in DESIGN.md: reject a configuration that could never satisfy
// pre-roll instead of silently truncating it.
func NewPersistenceWindow(windowID uint64, nowNS uint64, preRoll, postRoll time.Duration, ringCapacity, avgRecordSize int) (*PersistenceWindow, error) {
	if avgRecordSize > 0 && preRoll > 0 {
		bytesNeeded := estimatePreRollBytes(preRoll, avgRecordSize)
		if bytesNeeded > ringCapacity {
			return nil, fmt.Errorf("fabric: pre-roll of %s at %d bytes/record needs %d bytes, exceeds ring capacity %d",
				preRoll, avgRecordSize, bytesNeeded, ringCapacity)
		}
	}
	return &PersistenceWindow{
		windowID:   windowID,
		startNS:    nowNS,
		preRollNS:  uint64(preRoll.Nanoseconds()),
		postRollNS: uint64(postRoll.Nanoseconds()),
	}, nil
}

// estimatePreRollBytes assumes one detail record per millisecond as the
// conservative worst case for "is pre-roll even physically possible" —
// a real per-symbol rate is a property of the traced workload, not of
// this library, so the constructor only rejects configurations that
// cannot work under any load, not ones that might be tight under heavy
// load.
func estimatePreRollBytes(preRoll time.Duration, avgRecordSize int) int {
	ms := preRoll.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return int(ms) * avgRecordSize
}

// Advance records one detail event (spec §4.5: "every detail event
// increments total_events and advances last_event_ns"). If matched,
// mark_seen is set, first_mark_ns recorded on the first mark, and
// marked_events incremented.
func (w *PersistenceWindow) Advance(matched bool, nowNS uint64) {
	w.totalEvents++
	w.lastEventNS = nowNS
	if matched {
		if !w.markSeen {
			w.markSeen = true
			w.firstMarkNS = nowNS
		}
		w.markedEvents++
	}
}

// EligibleForDump reports whether this window may close for persistence:
// a mark was seen and post-roll has elapsed since the first mark.
func (w *PersistenceWindow) EligibleForDump(nowNS uint64) bool {
	if !w.markSeen {
		return false
	}
	return nowNS-w.firstMarkNS >= w.postRollNS
}

// Snapshot returns the window's current bookkeeping fields by value.
// Calling Snapshot twice without an intervening Advance yields identical
// results (spec §8's idempotence property) because it only reads fields,
// never mutates them.
func (w *PersistenceWindow) Snapshot() WindowSnapshot {
	return WindowSnapshot{
		WindowID:     w.windowID,
		StartNS:      w.startNS,
		FirstMarkNS:  w.firstMarkNS,
		LastEventNS:  w.lastEventNS,
		TotalEvents:  w.totalEvents,
		MarkedEvents: w.markedEvents,
		MarkSeen:     w.markSeen,
	}
}

// WindowSnapshot is an immutable point-in-time read of a
// PersistenceWindow, handed to a Writer alongside a closed-for-dump ring.
type WindowSnapshot struct {
	WindowID     uint64
	StartNS      uint64
	FirstMarkNS  uint64
	LastEventNS  uint64
	TotalEvents  uint64
	MarkedEvents uint64
	MarkSeen     bool
}

// reset reinitializes the window in place at nowNS with the next
// windowID, for both close-for-dump (after snapshot+submit) and
// close-for-discard (no snapshot taken).
func (w *PersistenceWindow) reset(nextWindowID uint64, nowNS uint64) {
	w.windowID = nextWindowID
	w.startNS = nowNS
	w.firstMarkNS = 0
	w.lastEventNS = 0
	w.totalEvents = 0
	w.markedEvents = 0
	w.markSeen = false
}
