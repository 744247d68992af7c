// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"testing"
	"unsafe"
)

func TestControlBlockLayoutMonotonic(t *testing.T) {
	offsets := []struct {
		name string
		off  uintptr
	}{
		{"Magic", OffsetMagic},
		{"Version", OffsetVersion},
		{"HostPID", OffsetHostPID},
		{"SessionID", OffsetSessionID},
		{"Initialized", OffsetInitialized},
		{"AgentAttached", OffsetAgentAttached},
		{"RegistryReady", OffsetRegistryReady},
		{"ShutdownReq", OffsetShutdownReq},
		{"Mode", OffsetMode},
		{"RegistryEpoch", OffsetRegistryEpoch},
		{"DrainHeartbeatNS", OffsetDrainHeartbeatNS},
		{"HealthyTicks", OffsetHealthyTicks},
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i].off <= offsets[i-1].off {
			t.Fatalf("field %s at offset %d does not follow %s at offset %d",
				offsets[i].name, offsets[i].off, offsets[i-1].name, offsets[i-1].off)
		}
	}
}

func TestControlBlockFitsSegment(t *testing.T) {
	const controlSegmentSize = 4 * 1024
	if got := unsafe.Sizeof(ControlBlockLayout{}); got > controlSegmentSize {
		t.Fatalf("ControlBlockLayout size %d exceeds control segment size %d", got, controlSegmentSize)
	}
}
