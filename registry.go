// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// laneQueueCapacity is the fixed capacity, in ring handles, of every
// lane's free and submit queues when the thread registry is laid out
// inside the shared registry segment (newThreadRegistryOver). A segment's
// byte layout must be identical for every process that attaches it, so
// this caps what Options.RingPrefetch may request there the same way
// MaxThreads caps thread count; the heap-backed NewThreadRegistry used for
// same-process embedding (NewInProcessAgent) is unaffected and still sizes
// queues from RingPrefetch directly.
const laneQueueCapacity = 64

// registrySlotShared is the fixed-offset, cross-process portion of one
// thread registry slot: claim/active flags and thread identity, laid
// directly onto the registry segment the same way ControlBlock is laid
// onto the control segment. This is what lets a genuinely separate Agent
// process's registration become visible to the Controller's drain engine
// (spec §4.1's "two cooperating processes sharing three named memory
// segments", §4.4) instead of each process keeping an invisible private
// copy.
type registrySlotShared struct {
	claimed  atomix.Bool
	active   atomix.Bool
	_        pad
	threadID atomix.Uint64
	_        pad
}

const registrySlotSharedSize = unsafe.Sizeof(registrySlotShared{})

// slotQueueRegionSize is the byte span newThreadRegistryOver reserves per
// slot for its four HandleQueues (index free/submit, detail free/submit).
func slotQueueRegionSize() int {
	return 4 * handleQueueByteSize(laneQueueCapacity)
}

// slotRegionSize is the total byte span one registry slot occupies inside
// a shared registry segment: the claim header plus its four lane queues.
func slotRegionSize() int {
	return int(registrySlotSharedSize) + slotQueueRegionSize()
}

// RegistrySegmentLayoutSize returns the number of bytes newThreadRegistryOver
// and newFallbackLaneOver together need from the registry segment. Callers
// sizing the registry segment (types.go's RegistrySegmentSize) must reserve
// at least this many bytes.
func RegistrySegmentLayoutSize() int {
	return MaxThreads*slotRegionSize() + fallbackLaneLayoutSize(defaultFallbackCapacity)
}

// registrySegmentRegions splits the registry segment's bytes into the
// thread-registry slot table's span and the trailing span reserved for
// the global fallback lane, in the fixed layout RegistrySegmentLayoutSize
// describes.
func registrySegmentRegions(buf []byte) (registryBuf, fallbackBuf []byte) {
	n := MaxThreads * slotRegionSize()
	return buf[:n], buf[n:]
}

// registrySlot is one of the fixed MaxThreads registry slots. shared holds
// the cross-process claim state; index/detail are this process's own Lane
// wrappers over that slot's queues — built by Register when this process
// is the one registering the thread, or lazily by attachSlot when this
// process's Visit first observes a slot another process registered.
type registrySlot struct {
	shared *registrySlotShared
	index  *Lane
	detail *Lane
}

// ThreadRegistry is the fixed 64-slot table backing per-thread lane
// assignment (spec §4.4, §5's "≤64 threads" resource limit). regions is
// nil for a heap-backed registry (NewThreadRegistry); when non-nil, each
// entry is the byte span of that slot's queues inside the registry
// segment, used both to register a new slot (newLaneOver) and to lazily
// attach to a slot registered by a different process (attachLaneOver).
type ThreadRegistry struct {
	slots    [MaxThreads]registrySlot
	regions  [MaxThreads][]byte
	pool     *RingPool
	prefetch int
}

// NewThreadRegistry returns an empty, heap-backed registry drawing rings
// from pool, prefetching `prefetch` rings per lane on registration. Used
// for same-process embedding (NewInProcessAgent) and tests.
func NewThreadRegistry(pool *RingPool, prefetch int) *ThreadRegistry {
	r := &ThreadRegistry{pool: pool, prefetch: prefetch}
	for i := range r.slots {
		r.slots[i].shared = &registrySlotShared{}
	}
	return r
}

// newThreadRegistryOver builds a ThreadRegistry whose slot-claim state and
// lane queues are carved directly out of buf (the registry segment's
// bytes) instead of the Go heap, so a separate Agent process registering
// into this registry is visible to a Controller's DrainEngine attached to
// the same segment, and vice versa (spec §4.1, §4.4).
func newThreadRegistryOver(buf []byte, pool *RingPool, prefetch int) *ThreadRegistry {
	region := slotRegionSize()
	need := MaxThreads * region
	if len(buf) < need {
		panic("fabric: registry segment too small for thread registry layout")
	}
	if prefetch < 1 {
		prefetch = 1
	}
	if prefetch*2+2 > laneQueueCapacity {
		prefetch = (laneQueueCapacity - 2) / 2
	}

	r := &ThreadRegistry{pool: pool, prefetch: prefetch}
	for i := range r.slots {
		off := i * region
		slotBuf := buf[off : off+region]
		r.slots[i].shared = (*registrySlotShared)(unsafe.Pointer(unsafe.SliceData(slotBuf)))
		r.regions[i] = slotBuf[registrySlotSharedSize:]
	}
	return r
}

// Register claims the first free slot for threadID, initializes both of
// its lanes, and publishes the slot active. Returns KindRegistryFull if
// every slot is already claimed — the caller routes threadID to the
// global fallback lane and marks it orphan (spec §4.4).
func (r *ThreadRegistry) Register(threadID uint64) (slotIndex int, index *Lane, detail *Lane, err error) {
	for i := range r.slots {
		slot := &r.slots[i]
		if !slot.shared.claimed.CompareAndSwapAcqRel(false, true) {
			continue
		}

		if region := r.regions[i]; region != nil {
			qsize := handleQueueByteSize(laneQueueCapacity)
			index, err = newLaneOver(LaneIndex, r.pool, r.prefetch, region[0*qsize:1*qsize], region[1*qsize:2*qsize])
			if err != nil {
				slot.shared.claimed.StoreRelease(false)
				return 0, nil, nil, err
			}
			detail, err = newLaneOver(LaneDetail, r.pool, r.prefetch, region[2*qsize:3*qsize], region[3*qsize:4*qsize])
			if err != nil {
				slot.shared.claimed.StoreRelease(false)
				return 0, nil, nil, err
			}
		} else {
			index, err = newLane(LaneIndex, r.pool, r.prefetch)
			if err != nil {
				slot.shared.claimed.StoreRelease(false)
				return 0, nil, nil, err
			}
			detail, err = newLane(LaneDetail, r.pool, r.prefetch)
			if err != nil {
				slot.shared.claimed.StoreRelease(false)
				return 0, nil, nil, err
			}
		}

		slot.shared.threadID.StoreRelaxed(threadID)
		slot.index = index
		slot.detail = detail
		slot.shared.active.StoreRelease(true)
		return i, index, detail, nil
	}
	return 0, nil, nil, &FabricError{Kind: KindRegistryFull, err: causeRegistryFull}
}

// Unregister marks a slot inactive. The slot's claim is not released
// within an epoch — re-use happens only via ResetAll on an epoch bump —
// so a thread ID can never collide with a still-live lane mid-session.
func (r *ThreadRegistry) Unregister(i int) {
	r.slots[i].shared.active.StoreRelease(false)
}

// attachSlot lazily builds this process's Lane wrappers for a slot that
// some other process (sharing the same registry segment) registered, so
// this process's Visit can drain it without ever having called Register
// itself. Only valid when this registry is segment-backed.
func (r *ThreadRegistry) attachSlot(i int) {
	region := r.regions[i]
	qsize := handleQueueByteSize(laneQueueCapacity)
	slot := &r.slots[i]
	slot.index = attachLaneOver(LaneIndex, r.pool, region[0*qsize:1*qsize], region[1*qsize:2*qsize])
	slot.detail = attachLaneOver(LaneDetail, r.pool, region[2*qsize:3*qsize], region[3*qsize:4*qsize])
}

// Visit calls fn for every currently active slot, in slot order starting
// at `start` and wrapping around — the drain engine's fair rotating-start
// iteration (spec §4.6). For a segment-backed registry, a slot claimed by
// another process is lazily attached on first sight.
func (r *ThreadRegistry) Visit(start int, fn func(slotIndex int, threadID uint64, index, detail *Lane)) {
	n := len(r.slots)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		slot := &r.slots[idx]
		if !slot.shared.active.LoadAcquire() {
			continue
		}
		if slot.index == nil && r.regions[idx] != nil {
			r.attachSlot(idx)
			slot = &r.slots[idx]
		}
		fn(idx, slot.shared.threadID.LoadAcquire(), slot.index, slot.detail)
	}
}

// ResetAll clears every slot. Called by Controller.BumpEpoch just before
// it bumps the registry epoch, so agents that observe the bump re-register
// into a cleared table (spec §4.8: "if registry_epoch changes, agent
// clears cached slot pointers, re-registers").
func (r *ThreadRegistry) ResetAll() {
	for i := range r.slots {
		slot := &r.slots[i]
		slot.shared.active.StoreRelease(false)
		slot.shared.claimed.StoreRelease(false)
		slot.index = nil
		slot.detail = nil
	}
}
