// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"context"
	"os"
	"testing"
	"time"
)

func testSession(t *testing.T) SessionKey {
	t.Helper()
	return SessionKey{HostPID: int32(os.Getpid()), SessionID: uint32(t.Name()[0])<<16 | uint32(len(t.Name()))}
}

func TestControllerCreateCloseSegments(t *testing.T) {
	session := testSession(t)
	ctrl, err := NewController(session, NewOptions().WithRingCapacity(4096), nil, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	if _, err := NewController(session, nil, nil, nil); !IsFabricErrorKind(err, KindSegmentExists) {
		t.Fatalf("second NewController on live session = %v, want KindSegmentExists", err)
	}
}

func TestControllerInProcessAgentRoundTrip(t *testing.T) {
	session := testSession(t)
	writer := &countingWriter{}
	ctrl, err := NewController(session, NewOptions().WithRingCapacity(4096).WithRingPrefetch(2), nil, writer)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer func() { _ = ctrl.Close() }()

	ag := ctrl.NewInProcessAgent(nil, nil)
	handle, err := ag.Register(1)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	for i := 0; i < 100; i++ {
		if err := handle.RecordCall("sym", "mod"); err != nil {
			t.Fatalf("RecordCall(%d): %v", i, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(runDone)
	}()

	deadline := time.After(2 * time.Second)
	for writer.captured.Load() < 100 {
		select {
		case <-deadline:
			t.Fatalf("writer captured %d of 100 records before timeout", writer.captured.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	<-runDone
	<-ctrl.Stopped()
}

// TestControllerAndAgentRoundTripAcrossSeparateAttach proves the
// cross-process claim in spec §4.1/§4.4: a Controller and an Agent built
// via NewAgent hold entirely independent *ThreadRegistry/*FallbackLane Go
// objects (unlike NewInProcessAgent, which shares the same objects by
// reference) yet still observe each other's registrations and drained
// records, because both are laid out over the same registry segment
// bytes rather than private per-process heap state.
func TestControllerAndAgentRoundTripAcrossSeparateAttach(t *testing.T) {
	session := testSession(t)
	writer := &countingWriter{}
	ctrl, err := NewController(session, NewOptions().WithRingCapacity(4096).WithRingPrefetch(2), nil, writer)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer func() { _ = ctrl.Close() }()

	ag, err := NewAgent(session, nil, NewOptions().WithRingCapacity(4096).WithRingPrefetch(2), nil)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	defer func() { _ = ag.Detach() }()

	if ag.registry == ctrl.registry {
		t.Fatalf("agent and controller share a *ThreadRegistry object; this test requires independent instances")
	}

	handle, err := ag.Register(7)
	if err != nil {
		t.Fatalf("ag.Register: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := handle.RecordCall("sym", "mod"); err != nil {
			t.Fatalf("RecordCall(%d): %v", i, err)
		}
	}

	visited := 0
	ctrl.registry.Visit(0, func(slotIndex int, threadID uint64, index, detail *Lane) {
		visited++
		if threadID != 7 {
			t.Errorf("controller observed threadID = %d, want 7", threadID)
		}
	})
	if visited != 1 {
		t.Fatalf("controller's own ThreadRegistry observed %d active slots, want 1 (agent's registration should be visible through shared registry-segment bytes)", visited)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(runDone)
	}()

	deadline := time.After(2 * time.Second)
	for writer.captured.Load() < 50 {
		select {
		case <-deadline:
			t.Fatalf("writer captured %d of 50 records before timeout", writer.captured.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	<-runDone
	<-ctrl.Stopped()
}

func TestControllerBumpEpochForcesReRegistration(t *testing.T) {
	session := testSession(t)
	ctrl, err := NewController(session, NewOptions().WithRingCapacity(4096).WithRingPrefetch(2), nil, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer func() { _ = ctrl.Close() }()

	ag := ctrl.NewInProcessAgent(nil, nil)
	handle, err := ag.Register(1)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	slotBefore := handle.slot

	ctrl.BumpEpoch()
	if err := handle.RecordCall("sym", "mod"); err != nil {
		t.Fatalf("RecordCall after BumpEpoch: %v", err)
	}
	if !handle.Registered() {
		t.Fatalf("Registered() = false after BumpEpoch-triggered re-registration")
	}
	_ = slotBefore
}
