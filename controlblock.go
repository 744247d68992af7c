// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// ControlBlock is the fixed-offset layout mapped onto the head of the
// control segment. It is part of the wire contract (spec §6): magic,
// version, and every field offset below must stay stable — see
// TestControlBlockLayout in controlblock_test.go, which pins them against
// internal/wire's mirror layout.
//
// Only the controller writes fields other than agent_attached and
// registry_epoch-driven re-registration bookkeeping; everything else is
// controller-release, agent-acquire (spec §5).
type ControlBlock struct {
	magic   atomix.Uint64 // low 32 bits hold MagicControl; see verifyWireContract
	version atomix.Uint64 // low 16 bits hold VersionControl
	_       pad

	hostPID   atomix.Uint64
	sessionID atomix.Uint64
	_         pad

	initialized      atomix.Bool
	agentAttached    atomix.Bool
	registryReady    atomix.Bool
	shutdownReq      atomix.Bool
	_                pad

	mode          atomix.Uint64 // AgentMode
	registryEpoch atomix.Uint64
	_             pad

	drainHeartbeatNS atomix.Uint64
	healthyTicks     atomix.Uint64
	_                pad
}

// mapControlBlock reinterprets the first bytes of a mapped control
// segment as a *ControlBlock. The segment is sized generously larger
// than sizeof(ControlBlock) (ControlSegmentSize reserves room for
// future fields without a layout version bump).
func mapControlBlock(b []byte) *ControlBlock {
	return (*ControlBlock)(unsafe.Pointer(unsafe.SliceData(b)))
}

// initControlBlock stamps magic/version/identity fields on a freshly
// created control segment. Called by the controller only, before
// publishing initialized=1.
func (cb *ControlBlock) initControlBlock(session SessionKey) {
	cb.hostPID.StoreRelaxed(uint64(uint32(session.HostPID)))
	cb.sessionID.StoreRelaxed(uint64(session.SessionID))
	cb.mode.StoreRelease(uint64(ModeGlobalOnly))
	cb.registryEpoch.StoreRelease(0)
	cb.healthyTicks.StoreRelaxed(0)
	cb.drainHeartbeatNS.StoreRelease(0)
	cb.shutdownReq.StoreRelease(false)
	cb.registryReady.StoreRelease(false)
	cb.agentAttached.StoreRelease(false)
	cb.version.StoreRelease(uint64(VersionControl))
	// magic published last: attach checks it once via
	// verifyWireContract before spin-waiting on initialized.
	cb.magic.StoreRelease(uint64(MagicControl))
}

// markInitialized publishes initialized=1 (release), the signal
// attachSegments spin-waits for.
func (cb *ControlBlock) markInitialized() {
	cb.initialized.StoreRelease(true)
}

func (cb *ControlBlock) isInitialized() bool {
	return cb.initialized.LoadAcquire()
}

// verifyWireContract checks magic and version (acquire reads, per spec
// §5's "Magic/version reads use acquire"). A magic mismatch means the
// segment is not a fabric control block at all (fatal, non-retryable);
// a version mismatch means a newer/older fabric library (fatal,
// non-retryable).
func (cb *ControlBlock) verifyWireContract() error {
	magic := uint32(cb.magic.LoadAcquire())
	if magic != MagicControl {
		return &FabricError{Kind: KindMagicMismatch, err: causeMagicMismatch}
	}
	version := uint16(cb.version.LoadAcquire())
	if version != VersionControl {
		return &FabricError{Kind: KindVersionMismatch, err: causeVersionMismatch}
	}
	return nil
}

func (cb *ControlBlock) currentMode() AgentMode {
	return AgentMode(cb.mode.LoadAcquire())
}

func (cb *ControlBlock) setMode(m AgentMode) {
	cb.mode.StoreRelease(uint64(m))
}

func (cb *ControlBlock) epoch() uint64 {
	return cb.registryEpoch.LoadAcquire()
}

func (cb *ControlBlock) bumpEpoch() uint64 {
	return cb.registryEpoch.AddAcqRel(1)
}

func (cb *ControlBlock) heartbeat() uint64 {
	return cb.drainHeartbeatNS.LoadAcquire()
}

func (cb *ControlBlock) setHeartbeat(nowNS uint64) {
	cb.drainHeartbeatNS.StoreRelease(nowNS)
}

func (cb *ControlBlock) isShutdownRequested() bool {
	return cb.shutdownReq.LoadAcquire()
}

func (cb *ControlBlock) requestShutdown() {
	cb.shutdownReq.StoreRelease(true)
}

func (cb *ControlBlock) markRegistryReady() {
	cb.registryReady.StoreRelease(true)
}

func (cb *ControlBlock) isRegistryReady() bool {
	return cb.registryReady.LoadAcquire()
}

func (cb *ControlBlock) markAgentAttached() {
	cb.agentAttached.StoreRelease(true)
}
