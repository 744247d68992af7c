// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// ptrSize is the size in bytes of a uintptr slot in a HandleQueue buffer.
const ptrSize = int(unsafe.Sizeof(uintptr(0)))

// RingHandle is an index into the ring pool's backing array (spec §4.3:
// producers and the drain engine pass ring handles through free/submit,
// never the ring bytes themselves).
type RingHandle uintptr

// handleQueueShared is the fixed-offset, cross-process portion of a
// HandleQueue: the head/tail atomics every attaching process must observe
// through the same physical bytes. Laid directly onto the registry
// segment by newHandleQueueOver, the same way ControlBlock's fields are
// laid onto the control segment — the rest of HandleQueue (caches, the
// backing buffer slice header, mask) stays process-local, since a Go
// slice header has no meaning outside the process that built it.
type handleQueueShared struct {
	_    pad
	head atomix.Uint64
	_    pad
	tail atomix.Uint64
	_    pad
}

const handleQueueSharedSize = unsafe.Sizeof(handleQueueShared{})

// handleQueueByteSize returns the number of bytes newHandleQueueOver needs
// for a queue of the given capacity (rounded up to a power of two): the
// shared control header plus one uintptr-sized slot per entry.
func handleQueueByteSize(capacity int) int {
	n := roundToPow2(capacity)
	return int(handleQueueSharedSize) + n*ptrSize
}

// HandleQueue is a single-producer single-consumer bounded queue of ring
// handles. It backs every free and submit queue in the fabric: a lane's
// free queue (drain → producer), a lane's submit queue (producer →
// drain), and the global free list feeding per-lane prefetch. Based on
// the teacher's cached-index Lamport algorithm specialized to uintptr
// payloads, with slice-bounds-check elimination via unsafe.Add (spec
// §4.3's free/submit queues are explicitly "strict SPSC").
type HandleQueue struct {
	shared     *handleQueueShared
	cachedTail uint64
	cachedHead uint64
	buffer     []uintptr
	mask       uint64
}

// NewHandleQueue returns a heap-backed HandleQueue with a capacity
// rounded up to the next power of two (minimum 2). Used for same-process
// embedding (NewInProcessAgent) and tests.
func NewHandleQueue(capacity int) *HandleQueue {
	n := uint64(roundToPow2(capacity))
	return &HandleQueue{
		shared: &handleQueueShared{},
		buffer: make([]uintptr, n),
		mask:   n - 1,
	}
}

// newHandleQueueOver builds a HandleQueue whose head/tail counters and
// slot buffer are carved directly out of buf rather than the Go heap, so
// a HandleQueue built this way over the registry segment's bytes in one
// process observes the exact same enqueue/dequeue state as another
// HandleQueue built the same way, over the same bytes, in a different
// process — the mechanism that makes a lane's free/submit queues and the
// thread registry's slot table genuinely cross-process (spec §4.1, §4.3).
func newHandleQueueOver(buf []byte, capacity int) *HandleQueue {
	n := uint64(roundToPow2(capacity))
	need := handleQueueByteSize(int(n))
	if len(buf) < need {
		panic("fabric: buffer too small for handle queue layout")
	}
	shared := (*handleQueueShared)(unsafe.Pointer(unsafe.SliceData(buf)))
	slotsPtr := unsafe.Add(unsafe.Pointer(unsafe.SliceData(buf)), handleQueueSharedSize)
	slots := unsafe.Slice((*uintptr)(slotsPtr), n)
	return &HandleQueue{shared: shared, buffer: slots, mask: n - 1}
}

// Cap returns the queue's capacity.
func (q *HandleQueue) Cap() int { return int(q.mask + 1) }

// Enqueue adds a ring handle (producer only). Returns ErrWouldBlock if
// the queue is full.
func (q *HandleQueue) Enqueue(h RingHandle) error {
	tail := q.shared.tail.LoadRelaxed()
	if tail-q.cachedHead > q.mask {
		q.cachedHead = q.shared.head.LoadAcquire()
		if tail-q.cachedHead > q.mask {
			return ErrWouldBlock
		}
	}

	*(*uintptr)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(q.buffer)), int(tail&q.mask)*ptrSize)) = uintptr(h)
	q.shared.tail.StoreRelease(tail + 1)
	return nil
}

// Dequeue removes and returns a ring handle (consumer only). Returns
// ErrWouldBlock if the queue is empty.
func (q *HandleQueue) Dequeue() (RingHandle, error) {
	head := q.shared.head.LoadRelaxed()
	if head >= q.cachedTail {
		q.cachedTail = q.shared.tail.LoadAcquire()
		if head >= q.cachedTail {
			return 0, ErrWouldBlock
		}
	}

	elem := *(*uintptr)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(q.buffer)), int(head&q.mask)*ptrSize))
	q.shared.head.StoreRelease(head + 1)
	return RingHandle(elem), nil
}
