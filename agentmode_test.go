// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import "testing"

func TestAgentModeStateStartsGlobalOnly(t *testing.T) {
	s := NewAgentModeState(3, 500)
	if got := s.Current(); got != ModeGlobalOnly {
		t.Fatalf("Current() = %v, want ModeGlobalOnly", got)
	}
}

func TestAgentModeStatePromotesThroughDualWriteToPerThreadOnly(t *testing.T) {
	s := NewAgentModeState(3, 500)
	s.Tick(0, true, true)
	if got := s.Current(); got != ModeDualWrite {
		t.Fatalf("Current() after registry ready = %v, want ModeDualWrite", got)
	}

	now := uint64(0)
	for i := 0; i < 3; i++ {
		now += 10
		s.Tick(now, true, true)
	}
	if got := s.Current(); got != ModePerThreadOnly {
		t.Fatalf("Current() after 3 healthy ticks = %v, want ModePerThreadOnly", got)
	}
}

func TestAgentModeStateDegradesInTwoSteps(t *testing.T) {
	s := NewAgentModeState(1, 100)
	s.Tick(0, true, true)
	s.Tick(10, true, true) // promotes to per_thread_only

	if got := s.Current(); got != ModePerThreadOnly {
		t.Fatalf("Current() = %v, want ModePerThreadOnly before degrade test", got)
	}

	s.Tick(20, true, false) // first unhealthy tick, onset at ns=20
	if got := s.Current(); got != ModePerThreadOnly {
		t.Fatalf("Current() = %v immediately after one unhealthy tick, want still ModePerThreadOnly", got)
	}

	s.Tick(130, true, false) // 110ns since onset >= degradeAfterNS(100)
	if got := s.Current(); got != ModeDualWrite {
		t.Fatalf("Current() = %v after degradeAfterNS elapsed, want ModeDualWrite", got)
	}

	s.Tick(230, true, false) // 210ns since onset >= 2*degradeAfterNS(200)
	if got := s.Current(); got != ModeGlobalOnly {
		t.Fatalf("Current() = %v after 2x degradeAfterNS elapsed, want ModeGlobalOnly", got)
	}
}

func TestAgentModeStateForceDualWriteResetsPromotionProgress(t *testing.T) {
	s := NewAgentModeState(3, 500)
	s.Tick(0, true, true)
	s.Tick(10, true, true)
	s.Tick(20, true, true)

	s.ForceDualWrite()
	if got := s.Current(); got != ModeDualWrite {
		t.Fatalf("Current() after ForceDualWrite = %v, want ModeDualWrite", got)
	}
	s.Tick(30, true, true)
	if got := s.Current(); got != ModeDualWrite {
		t.Fatalf("Current() = %v after one healthy tick post-reset, want still ModeDualWrite (promotion counter reset)", got)
	}
}

func TestAgentModeStateRecoversToHealthyWithoutSpuriousDegrade(t *testing.T) {
	s := NewAgentModeState(1, 100)
	s.Tick(0, true, true)
	s.Tick(10, true, true) // per_thread_only

	s.Tick(20, true, false)
	s.Tick(30, true, true) // recovers before degradeAfterNS elapses

	if got := s.Current(); got != ModePerThreadOnly {
		t.Fatalf("Current() = %v after recovery, want still ModePerThreadOnly", got)
	}
}
