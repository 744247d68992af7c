// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"testing"
	"unsafe"

	"github.com/adatrace/fabric/internal/wire"
)

// TestControlBlockLayout pins ControlBlock's field offsets against the
// frozen wire contract in internal/wire, so an accidental field reorder
// in this file fails a test instead of silently corrupting a running
// trace session.
func TestControlBlockLayout(t *testing.T) {
	var cb ControlBlock

	cases := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"magic", unsafe.Offsetof(cb.magic), wire.OffsetMagic},
		{"version", unsafe.Offsetof(cb.version), wire.OffsetVersion},
		{"hostPID", unsafe.Offsetof(cb.hostPID), wire.OffsetHostPID},
		{"sessionID", unsafe.Offsetof(cb.sessionID), wire.OffsetSessionID},
		{"initialized", unsafe.Offsetof(cb.initialized), wire.OffsetInitialized},
		{"agentAttached", unsafe.Offsetof(cb.agentAttached), wire.OffsetAgentAttached},
		{"registryReady", unsafe.Offsetof(cb.registryReady), wire.OffsetRegistryReady},
		{"shutdownReq", unsafe.Offsetof(cb.shutdownReq), wire.OffsetShutdownReq},
		{"mode", unsafe.Offsetof(cb.mode), wire.OffsetMode},
		{"registryEpoch", unsafe.Offsetof(cb.registryEpoch), wire.OffsetRegistryEpoch},
		{"drainHeartbeatNS", unsafe.Offsetof(cb.drainHeartbeatNS), wire.OffsetDrainHeartbeatNS},
		{"healthyTicks", unsafe.Offsetof(cb.healthyTicks), wire.OffsetHealthyTicks},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("field %s at offset %d, wire contract expects %d", c.name, c.got, c.want)
		}
	}
}

func TestControlBlockMagicVersion(t *testing.T) {
	if MagicControl != 0xADA5F7C1 {
		t.Errorf("MagicControl = %#x, want 0xADA5F7C1", MagicControl)
	}
	if VersionControl != 1 {
		t.Errorf("VersionControl = %d, want 1", VersionControl)
	}
}

func TestControlBlockInitAndVerify(t *testing.T) {
	buf := make([]byte, ControlSegmentSize)
	cb := mapControlBlock(buf)
	cb.initControlBlock(SessionKey{HostPID: 42, SessionID: 7})

	if err := cb.verifyWireContract(); err != nil {
		t.Fatalf("verifyWireContract() = %v, want nil", err)
	}
	if cb.isInitialized() {
		t.Fatalf("isInitialized() = true before markInitialized")
	}
	cb.markInitialized()
	if !cb.isInitialized() {
		t.Fatalf("isInitialized() = false after markInitialized")
	}
	if got := cb.currentMode(); got != ModeGlobalOnly {
		t.Errorf("currentMode() = %v, want ModeGlobalOnly", got)
	}
}

func TestControlBlockEpochBump(t *testing.T) {
	buf := make([]byte, ControlSegmentSize)
	cb := mapControlBlock(buf)
	cb.initControlBlock(SessionKey{HostPID: 1, SessionID: 1})

	if got := cb.epoch(); got != 0 {
		t.Fatalf("epoch() = %d, want 0", got)
	}
	if got := cb.bumpEpoch(); got != 1 {
		t.Errorf("bumpEpoch() = %d, want 1", got)
	}
	if got := cb.epoch(); got != 1 {
		t.Errorf("epoch() = %d, want 1", got)
	}
}
