// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import "testing"

func TestMetricsRecordEmitAndDrop(t *testing.T) {
	m := NewMetrics()
	m.recordEmit(3, LaneIndex, 10)
	m.recordEmit(3, LaneIndex, 20)
	m.recordDrop(3, LaneDetail, dropReasonRingFull)
	m.recordEmit(orphanSlot, LaneIndex, 5)

	snap := m.Snapshot()
	if snap.BytesWritten != 35 {
		t.Fatalf("BytesWritten = %d, want 35", snap.BytesWritten)
	}

	var slot3, orphan *ThreadSnapshot
	for i := range snap.Threads {
		switch snap.Threads[i].Slot {
		case 3:
			slot3 = &snap.Threads[i]
		case orphanSlot:
			orphan = &snap.Threads[i]
		}
	}
	if slot3 == nil {
		t.Fatalf("slot 3 missing from snapshot")
	}
	if slot3.IndexEmitted != 2 {
		t.Errorf("slot3.IndexEmitted = %d, want 2", slot3.IndexEmitted)
	}
	if slot3.DetailDropped[dropReasonRingFull] != 1 {
		t.Errorf("slot3.DetailDropped[ring_full] = %d, want 1", slot3.DetailDropped[dropReasonRingFull])
	}
	if orphan == nil {
		t.Fatalf("orphan slot missing from snapshot")
	}
	if orphan.IndexEmitted != 1 {
		t.Errorf("orphan.IndexEmitted = %d, want 1", orphan.IndexEmitted)
	}
}

func TestMetricsSnapshotOmitsIdleThreads(t *testing.T) {
	m := NewMetrics()
	m.recordEmit(0, LaneIndex, 1)
	snap := m.Snapshot()
	if len(snap.Threads) != 1 {
		t.Fatalf("Snapshot().Threads has %d entries, want 1 (idle slots omitted)", len(snap.Threads))
	}
}

func TestMetricsMarkRateAndDumpSuccessRatio(t *testing.T) {
	m := NewMetrics()
	m.recordPolicyEvaluation(true)
	m.recordPolicyEvaluation(true)
	m.recordPolicyEvaluation(false)
	m.recordDump(true)
	m.recordDump(false)

	snap := m.Snapshot()
	if got := snap.MarkRate(); got < 0.666 || got > 0.667 {
		t.Errorf("MarkRate() = %v, want ~0.667", got)
	}
	if got := snap.DumpSuccessRatio(); got != 0.5 {
		t.Errorf("DumpSuccessRatio() = %v, want 0.5", got)
	}
}

func TestMetricsEmptySnapshotDefaults(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	if snap.MarkRate() != 0 {
		t.Errorf("MarkRate() on empty metrics = %v, want 0", snap.MarkRate())
	}
	if snap.DumpSuccessRatio() != 1 {
		t.Errorf("DumpSuccessRatio() on empty metrics = %v, want 1 (vacuously successful)", snap.DumpSuccessRatio())
	}
}
