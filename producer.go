// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

// ProducerHandle is the Go-native replacement for a native TLS-cached
// lane pointer (spec §4.4, §9): the caller — typically the out-of-scope
// hook shim — registers once per OS thread and holds the returned handle
// for that thread's whole lifetime, the same way it would cache a raw
// pointer in thread-local storage. Every method here is safe only when
// called by the single goroutine that owns this handle; per-thread lanes
// are single-producer.
type ProducerHandle struct {
	threadID uint64
	agent    *Agent

	slot   int
	index  *Lane
	detail *Lane
	epoch  uint64

	detailCtl *DetailLaneController
}

// ThreadID returns the thread identifier this handle was registered
// under.
func (h *ProducerHandle) ThreadID() uint64 { return h.threadID }

// Registered reports whether this handle currently holds live per-thread
// lanes, as opposed to running orphaned against the fallback lane only.
func (h *ProducerHandle) Registered() bool { return h.index != nil }

// Refresh re-validates this handle against the current registry epoch,
// clearing cached lanes and re-registering if the controller bumped the
// epoch since this handle was issued or last refreshed (spec §4.8: "any
// state: if registry_epoch changes, agent clears cached slot pointers,
// re-registers, and re-enters dual_write"). Called on every emit so the
// fast path never has to special-case staleness beyond one atomic load.
func (h *ProducerHandle) Refresh() error {
	current := h.agent.controlBlock().epoch()
	if current == h.epoch {
		return nil
	}
	h.agent.modeState.ForceDualWrite()
	return h.reRegister(current)
}

func (h *ProducerHandle) reRegister(epoch uint64) error {
	slot, index, detail, err := h.agent.registry.Register(h.threadID)
	h.epoch = epoch
	if err != nil {
		h.index, h.detail, h.detailCtl = nil, nil, nil
		return err
	}
	h.slot, h.index, h.detail = slot, index, detail

	window, werr := NewPersistenceWindow(h.agent.nextWindowID(), h.agent.now(), h.agent.opts.PreRoll, h.agent.opts.PostRoll, h.agent.opts.RingCapacity, h.agent.opts.AvgRecordSize)
	if werr != nil {
		// A pre-roll that does not fit the ring capacity is not checked
		// by NewAgent; here it falls back to a zero-value window (no
		// pre-roll, no post-roll) rather than fail emits.
		window = &PersistenceWindow{}
	}
	h.detailCtl = NewDetailLaneController(detail, h.agent.policy, window, func(payload []byte) error {
		return h.emit(LaneDetail, h.detail, payload)
	})
	detail.bindDetailController(h.detailCtl)
	return nil
}

// Unregister releases this handle's registry slot. The handle becomes
// orphaned; further emits route to the fallback lane only.
func (h *ProducerHandle) Unregister() {
	if h.index != nil {
		h.agent.registry.Unregister(h.slot)
		h.index, h.detail, h.detailCtl = nil, nil, nil
	}
}

// RecordCall emits an always-on index-lane call event.
func (h *ProducerHandle) RecordCall(symbol, module string) error {
	return h.emitIndex(encodeIndexEvent(indexEventCall, symbol, module))
}

// RecordReturn emits an always-on index-lane return event.
func (h *ProducerHandle) RecordReturn(symbol, module string) error {
	return h.emitIndex(encodeIndexEvent(indexEventReturn, symbol, module))
}

// ShouldMark evaluates probe against the marking policy without
// mutating window state, for callers that want to decide whether
// capturing an expensive detail payload (register/stack snapshot) is
// worthwhile before paying that cost. It does not gate RecordDetail:
// every call to RecordDetail is written to the ring and counted,
// regardless of whether ShouldMark was consulted first, because pre-roll
// fidelity (spec §4.5: "prior events in [start_ns-pre_roll_ns,
// first_mark_ns]") depends on the ring continuously holding recent
// events rather than only events that matched.
func (h *ProducerHandle) ShouldMark(probe Probe) bool {
	return h.agent.policy.Evaluate(probe)
}

// RecordDetail offers probe to the marking policy, advances this
// thread's persistence window, and unconditionally writes payload to the
// detail lane (spec §4.5). If the window becomes eligible to close for
// dump, the active detail ring is swapped out and the closed window's
// snapshot is queued for the drain engine.
func (h *ProducerHandle) RecordDetail(probe Probe, payload []byte) error {
	if h.detailCtl == nil {
		return h.emit(LaneDetail, h.detail, payload)
	}
	_, err := h.detailCtl.Offer(probe, payload, h.agent.now())
	return err
}

func (h *ProducerHandle) emitIndex(payload []byte) error {
	return h.emit(LaneIndex, h.index, payload)
}

// metricsSlot returns the registry slot this handle's counters are
// attributed to, or orphanSlot if it currently holds no slot.
func (h *ProducerHandle) metricsSlot() int {
	if h.index == nil {
		return orphanSlot
	}
	return h.slot
}

// emit implements spec §4.8's producer behavior table: which lanes get
// written depends on the agent mode, and ring-full always falls back to
// mirroring before ever dropping.
func (h *ProducerHandle) emit(lane LaneKind, l *Lane, payload []byte) error {
	if err := h.Refresh(); err != nil {
		return h.mirrorOrDrop(lane, l, payload)
	}

	mode := h.agent.modeState.Current()
	if mode != ModePerThreadOnly {
		rec := FallbackRecord{ThreadID: h.threadID, Lane: lane, Kind: recordKindForLane(lane), Payload: payload}
		if err := h.agent.fallback.Enqueue(rec); err != nil {
			h.agent.metrics.recordDrop(h.metricsSlot(), lane, dropReasonPoolExhausted)
		} else {
			h.agent.metrics.recordEmit(h.metricsSlot(), lane, len(payload))
		}
		if mode == ModeGlobalOnly {
			return nil
		}
	}

	if l == nil {
		// Orphaned handle: the fallback lane is its only destination. This
		// is orphan routing, not an overflow mirror, and outside
		// per_thread_only the record was already routed there above.
		if mode != ModePerThreadOnly {
			return nil
		}
		rec := FallbackRecord{ThreadID: h.threadID, Lane: lane, Kind: recordKindForLane(lane), Payload: payload}
		if err := h.agent.fallback.Enqueue(rec); err != nil {
			h.agent.metrics.recordDrop(h.metricsSlot(), lane, dropReasonPoolExhausted)
			return ErrWouldBlock
		}
		h.agent.metrics.recordEmit(h.metricsSlot(), lane, len(payload))
		return nil
	}
	if err := l.Append(recordKindForLane(lane), payload); err != nil {
		return h.mirrorOrDrop(lane, l, payload)
	}
	if mode == ModePerThreadOnly {
		h.agent.metrics.recordEmit(h.metricsSlot(), lane, len(payload))
	}
	return nil
}

// mirrorOrDrop is the last-resort path: mirror to the global fallback
// lane and count an overflow; only if that also fails does the producer
// drop-oldest on its own active ring (spec §5).
func (h *ProducerHandle) mirrorOrDrop(lane LaneKind, l *Lane, payload []byte) error {
	rec := FallbackRecord{ThreadID: h.threadID, Lane: lane, Kind: recordKindForLane(lane), Payload: payload}
	if err := h.agent.fallback.EnqueueOverflow(rec); err == nil {
		h.agent.metrics.recordFallbackActivation()
		return nil
	}
	if l != nil && l.DropOldest() {
		h.agent.metrics.recordDrop(h.metricsSlot(), lane, dropReasonRingFull)
		return nil
	}
	h.agent.metrics.recordDrop(h.metricsSlot(), lane, dropReasonRingFull)
	return ErrWouldBlock
}

// recordKindForLane maps a write's destination lane to the RecordKind its
// frame must carry, whether that write lands on the lane's own per-thread
// ring or is mirrored/last-resort routed to the fallback lane, so a Writer
// switching on kind (spec §6: "record-kind field is u8") never sees a
// detail payload tagged as an index record.
func recordKindForLane(lane LaneKind) RecordKind {
	if lane == LaneDetail {
		return RecordKindDetail
	}
	return RecordKindIndex
}

const (
	indexEventCall   uint8 = 1
	indexEventReturn uint8 = 2
)

// encodeIndexEvent frames a call/return event as
// [tag u8][len(symbol) u16][symbol][len(module) u16][module].
func encodeIndexEvent(tag uint8, symbol, module string) []byte {
	buf := make([]byte, 1+2+len(symbol)+2+len(module))
	buf[0] = tag
	off := 1
	off += putString16(buf[off:], symbol)
	putString16(buf[off:], module)
	return buf
}

func putString16(dst []byte, s string) int {
	n := len(s)
	dst[0] = byte(n)
	dst[1] = byte(n >> 8)
	copy(dst[2:], s)
	return 2 + n
}

// decodeIndexEvent reverses encodeIndexEvent, used by a Writer or test
// that needs to inspect index-lane payloads.
func decodeIndexEvent(payload []byte) (tag uint8, symbol, module string, ok bool) {
	if len(payload) < 1+2+2 {
		return 0, "", "", false
	}
	tag = payload[0]
	off := 1
	symLen := int(payload[off]) | int(payload[off+1])<<8
	off += 2
	if off+symLen > len(payload) {
		return 0, "", "", false
	}
	symbol = string(payload[off : off+symLen])
	off += symLen
	if off+2 > len(payload) {
		return 0, "", "", false
	}
	modLen := int(payload[off]) | int(payload[off+1])<<8
	off += 2
	if off+modLen > len(payload) {
		return 0, "", "", false
	}
	module = string(payload[off : off+modLen])
	return tag, symbol, module, true
}
