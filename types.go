// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fabric implements the shared-memory execution-trace fabric: a
// lock-free producer/consumer transport between a traced process (the
// agent) and an out-of-process controller.
package fabric

import "fmt"

// Wire-contract constants. These are part of the cross-process (and
// potentially cross-language) ABI: a consumer that only ever sees the raw
// segment bytes still needs magic/version/offsets to agree with this
// package. See internal/wire for the offset contract that
// controlblock_test.go pins.
const (
	// MagicControl identifies a valid control segment.
	MagicControl uint32 = 0xADA5F7C1
	// VersionControl is the current control-block layout version.
	// A mismatch between agent and controller is fatal (KindVersionMismatch).
	VersionControl uint16 = 1
	// MagicRing identifies a valid ring header.
	MagicRing uint16 = 0xADA0
)

// Segment sizes, fixed for the lifetime of a session.
const (
	ControlSegmentSize = 4 * 1024
	RingsSegmentSize   = 16 * 1024 * 1024
)

// RegistrySegmentSize is sized to fit the thread registry's fixed
// MaxThreads-slot table plus the global fallback lane
// (RegistrySegmentLayoutSize), with headroom for future fields — the same
// margin-for-growth rationale as ControlSegmentSize.
var RegistrySegmentSize = RegistrySegmentLayoutSize() + 4096

// MaxThreads bounds the thread registry. Threads beyond this limit share
// the global fallback lane (spec: resource limits, §5).
const MaxThreads = 64

// RecordKind tags a framed record inside a Ring.
type RecordKind uint8

const (
	// RecordKindIndex is an always-on call/return record.
	RecordKindIndex RecordKind = iota + 1
	// RecordKindDetail is a register/stack payload record.
	RecordKindDetail
	// RecordKindWrap is a zero-payload padding marker written when a
	// record would otherwise straddle the end of the ring's backing array.
	RecordKindWrap
)

// LaneKind identifies one of a thread's two directional streams.
type LaneKind uint8

const (
	// LaneIndex is the always-on, lightweight call/return stream.
	LaneIndex LaneKind = iota
	// LaneDetail is the heavier register/stack stream, persisted only
	// inside a marked window.
	LaneDetail
)

func (k LaneKind) String() string {
	switch k {
	case LaneIndex:
		return "index"
	case LaneDetail:
		return "detail"
	default:
		return "unknown"
	}
}

// AgentMode is the agent-side coordination state (spec §4.8).
type AgentMode int32

const (
	// ModeGlobalOnly is the initial state: producers write only to the
	// global fallback lane.
	ModeGlobalOnly AgentMode = iota
	// ModeDualWrite mirrors every record to both per-thread lanes and
	// the global fallback lane while the controller proves itself healthy.
	ModeDualWrite
	// ModePerThreadOnly is steady state: producers write only to
	// per-thread lanes.
	ModePerThreadOnly
)

func (m AgentMode) String() string {
	switch m {
	case ModeGlobalOnly:
		return "global_only"
	case ModeDualWrite:
		return "dual_write"
	case ModePerThreadOnly:
		return "per_thread_only"
	default:
		return "unknown"
	}
}

// SessionKey names a traced session: the host process PID plus a
// controller-chosen session identifier. Segment names, log lines, and
// fatal-error reports are all keyed by this pair (spec §6, §7).
type SessionKey struct {
	HostPID   int32
	SessionID uint32
}

// segmentPath returns the filesystem path, under /dev/shm, of the POSIX
// shared-memory object /ada_shm_{control,registry,rings}_<pid>_<session>
// for one of the three segments belonging to this session.
func (k SessionKey) segmentPath(segment string) string {
	return fmt.Sprintf("/dev/shm/ada_shm_%s_%d_%d", segment, k.HostPID, k.SessionID)
}

func (k SessionKey) String() string {
	return fmt.Sprintf("pid=%d session=%d", k.HostPID, k.SessionID)
}

// RecordMeta accompanies a drained ring on its way to the external Writer.
type RecordMeta struct {
	ThreadID uint64
	Lane     LaneKind
	// WindowID is set for detail-lane rings; zero for index-lane rings.
	WindowID uint64
	Dropped  uint64
}

// Probe describes one detail-lane event offered to a MarkingPolicy.
type Probe struct {
	Symbol  string
	Module  string
	Message string
}

// Drainer is implemented by queues whose consumer can be told that no
// further producers will enqueue, so it may stop enforcing livelock
// thresholds and drain whatever remains.
//
// Example:
//
//	prodWg.Wait()
//	if d, ok := any(q).(Drainer); ok {
//	    d.Drain()
//	}
type Drainer interface {
	Drain()
}

// pad is cache-line padding used to keep hot atomic fields from sharing a
// cache line with their neighbors (false-sharing avoidance).
type pad [64]byte

// padShort pads out a structure after an 8-byte field to a full cache line.
type padShort [64 - 8]byte
