// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"encoding/binary"

	"code.hybscloud.com/atomix"
)

// ringRecordHeaderSize is the on-wire framing overhead: a u32 little-endian
// length followed by a u8 kind (spec §6).
const ringRecordHeaderSize = 5

// Ring is a single-producer single-consumer, variable-length, wrap-safe
// byte ring carrying length-prefixed records (spec §4.2). It is the
// Lamport cached-index algorithm of a fixed-element SPSC queue (see
// ringqueue.go) generalized to byte-granular, variably-sized records, with
// the span-acquire discipline of a raw byte ring so a record crossing the
// end of the backing array is padded with a wrap marker instead of split.
type Ring struct {
	_           pad
	readPos     atomix.Uint64 // consumer position; producer-owned until the ring is retired to submit
	_           pad
	cachedWrite uint64
	_           pad
	writePos    atomix.Uint64
	_           pad
	cachedRead  uint64
	_           pad
	buf         []byte
	mask        uint64
	dropped     atomix.Uint64
}

// NewRing returns a Ring with a byte capacity rounded up to the next power
// of two (minimum 2).
func NewRing(capacity int) *Ring {
	n := uint64(roundToPow2(capacity))
	return &Ring{buf: make([]byte, n), mask: n - 1}
}

// newRingOver wraps an existing power-of-two-length byte slice as a Ring
// without copying or allocating, for rings carved out of the shared
// rings segment by RingPool.
func newRingOver(buf []byte) *Ring {
	n := uint64(len(buf))
	if n < 2 || n&(n-1) != 0 {
		panic("fabric: ring backing buffer must be a power-of-two length >= 2")
	}
	return &Ring{buf: buf, mask: n - 1}
}

// Cap returns the ring's byte capacity.
func (r *Ring) Cap() int { return int(r.mask + 1) }

func (r *Ring) size() uint64 { return r.mask + 1 }

func (r *Ring) writeHeader(off uint64, kind RecordKind, length int) {
	binary.LittleEndian.PutUint32(r.buf[off:], uint32(length))
	r.buf[off+4] = byte(kind)
}

func (r *Ring) readHeader(off uint64) (RecordKind, int) {
	length := binary.LittleEndian.Uint32(r.buf[off:])
	return RecordKind(r.buf[off+4]), int(length)
}

// Append writes a length-prefixed record (producer only). Returns
// ErrWouldBlock if the record does not fit, even after padding the tail
// with a wrap marker (spec §4.2).
func (r *Ring) Append(kind RecordKind, payload []byte) error {
	need := uint64(ringRecordHeaderSize + len(payload))
	write := r.writePos.LoadRelaxed()
	size := r.size()

	free := size - (write - r.cachedRead)
	if free < need {
		r.cachedRead = r.readPos.LoadAcquire()
		free = size - (write - r.cachedRead)
		if free < need {
			return ErrWouldBlock
		}
	}

	off := write & r.mask
	spaceToEnd := size - off
	if spaceToEnd < need {
		if free < spaceToEnd+need {
			return ErrWouldBlock
		}
		if spaceToEnd >= ringRecordHeaderSize {
			r.writeHeader(off, RecordKindWrap, int(spaceToEnd)-ringRecordHeaderSize)
		}
		write += spaceToEnd
		off = 0
	}

	r.writeHeader(off, kind, len(payload))
	copy(r.buf[off+ringRecordHeaderSize:], payload)
	r.writePos.StoreRelease(write + need)
	return nil
}

// Drain visits up to max records (0 means unbounded) starting at the
// current read position, calling visit once per record before advancing
// past it. Wrap markers are skipped and do not count toward max. Returns
// the number of records visited.
func (r *Ring) Drain(max int, visit func(kind RecordKind, payload []byte)) int {
	drained := 0
	for max <= 0 || drained < max {
		read := r.readPos.LoadRelaxed()
		write := r.cachedWrite
		if read == write {
			write = r.writePos.LoadAcquire()
			r.cachedWrite = write
			if read == write {
				return drained
			}
		}

		size := r.size()
		off := read & r.mask
		spaceToEnd := size - off
		if spaceToEnd < ringRecordHeaderSize {
			r.readPos.StoreRelease(read + spaceToEnd)
			continue
		}

		kind, length := r.readHeader(off)
		recSize := uint64(ringRecordHeaderSize + length)
		if kind == RecordKindWrap {
			r.readPos.StoreRelease(read + recSize)
			continue
		}

		payload := r.buf[off+ringRecordHeaderSize : off+ringRecordHeaderSize+uint64(length)]
		visit(kind, payload)
		r.readPos.StoreRelease(read + recSize)
		drained++
	}
	return drained
}

// Empty reports whether the ring has no unread records, from the
// consumer's point of view.
func (r *Ring) Empty() bool {
	return r.readPos.LoadAcquire() == r.writePos.LoadAcquire()
}

// dropOldest advances the read position past exactly one record without
// delivering it, for the producer-side drop-oldest path (spec §5): when a
// ring is full, refill failed, and the fallback lane is also full, the
// producer drops its own ring's oldest record rather than blocking. This
// is only safe while the ring is the active ring for its lane — once
// retired to submit, the drain engine becomes the sole owner of readPos.
func (r *Ring) dropOldest() bool {
	read := r.readPos.LoadRelaxed()
	write := r.writePos.LoadAcquire()
	if read == write {
		return false
	}
	size := r.size()
	off := read & r.mask
	spaceToEnd := size - off
	if spaceToEnd < ringRecordHeaderSize {
		r.readPos.StoreRelease(read + spaceToEnd)
		r.dropped.AddAcqRel(1)
		return true
	}
	kind, length := r.readHeader(off)
	recSize := uint64(ringRecordHeaderSize + length)
	if kind == RecordKindWrap {
		r.readPos.StoreRelease(read + recSize)
		return r.dropOldest()
	}
	r.readPos.StoreRelease(read + recSize)
	r.dropped.AddAcqRel(1)
	return true
}

// DroppedCount returns the number of records this ring has dropped via
// dropOldest.
func (r *Ring) DroppedCount() uint64 {
	return r.dropped.LoadRelaxed()
}

// reset clears a ring's positions for reuse from the free list, used by
// Lane.Release and RingPool.Release.
func (r *Ring) reset() {
	r.readPos.StoreRelaxed(0)
	r.writePos.StoreRelaxed(0)
	r.cachedRead = 0
	r.cachedWrite = 0
	r.dropped.StoreRelaxed(0)
}
