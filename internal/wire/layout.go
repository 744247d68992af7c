// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import "unsafe"

// ControlBlockLayout mirrors fabric.ControlBlock's field order and
// native-width types byte-for-byte, using plain integer types instead of
// atomix wrappers so this package never depends on the fabric package.
// It is the frozen wire contract: an accidental reorder of
// fabric.ControlBlock's fields is caught by
// controlblock_test.go's TestControlBlockLayout (package fabric), which
// asserts every field's offset against the constants below. A deliberate
// layout change must update both this mirror and VersionControl.
type ControlBlockLayout struct {
	Magic   uint64
	Version uint64
	_       [64]byte

	HostPID   uint64
	SessionID uint64
	_         [64]byte

	Initialized   uint32
	AgentAttached uint32
	RegistryReady uint32
	ShutdownReq   uint32
	_             [64]byte

	Mode          uint64
	RegistryEpoch uint64
	_             [64]byte

	DrainHeartbeatNS uint64
	HealthyTicks     uint64
	_                [64]byte
}

// Offsets of every ControlBlock field, computed once from the mirror
// layout above.
var (
	OffsetMagic            = unsafe.Offsetof(ControlBlockLayout{}.Magic)
	OffsetVersion          = unsafe.Offsetof(ControlBlockLayout{}.Version)
	OffsetHostPID          = unsafe.Offsetof(ControlBlockLayout{}.HostPID)
	OffsetSessionID        = unsafe.Offsetof(ControlBlockLayout{}.SessionID)
	OffsetInitialized      = unsafe.Offsetof(ControlBlockLayout{}.Initialized)
	OffsetAgentAttached    = unsafe.Offsetof(ControlBlockLayout{}.AgentAttached)
	OffsetRegistryReady    = unsafe.Offsetof(ControlBlockLayout{}.RegistryReady)
	OffsetShutdownReq      = unsafe.Offsetof(ControlBlockLayout{}.ShutdownReq)
	OffsetMode             = unsafe.Offsetof(ControlBlockLayout{}.Mode)
	OffsetRegistryEpoch    = unsafe.Offsetof(ControlBlockLayout{}.RegistryEpoch)
	OffsetDrainHeartbeatNS = unsafe.Offsetof(ControlBlockLayout{}.DrainHeartbeatNS)
	OffsetHealthyTicks     = unsafe.Offsetof(ControlBlockLayout{}.HealthyTicks)
)
