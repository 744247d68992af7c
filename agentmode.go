// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import "code.hybscloud.com/atomix"

// AgentModeState machine drives which lanes producers write to (spec
// §4.8). mode is read by every producer goroutine on its fast path, so
// it is the one atomix-backed field; everything else here is touched
// only by the single goroutine that calls Tick.
type AgentModeState struct {
	mode atomix.Uint64 // AgentMode

	healthyTicks          int
	healthyTicksToPromote int

	unhealthy        bool
	unhealthySinceNS uint64
	degradeAfterNS   uint64
}

// NewAgentModeState returns a state machine starting in global_only,
// promoting dual_write to per_thread_only after healthyTicksToPromote
// consecutive healthy ticks and degrading per_thread_only through
// dual_write to global_only after degradeAfter of sustained unhealthy
// heartbeats at each step (spec §4.8).
func NewAgentModeState(healthyTicksToPromote int, degradeAfterNS uint64) *AgentModeState {
	if healthyTicksToPromote < 1 {
		healthyTicksToPromote = 1
	}
	return &AgentModeState{healthyTicksToPromote: healthyTicksToPromote, degradeAfterNS: degradeAfterNS}
}

// Current returns the agent's current lane-write mode (acquire load —
// safe to call from any producer goroutine).
func (s *AgentModeState) Current() AgentMode {
	return AgentMode(s.mode.LoadAcquire())
}

// ForceDualWrite unconditionally enters dual_write, resetting the
// promotion/degrade bookkeeping. Called whenever registry_epoch changes
// and the agent must re-register (spec §4.8: "any state: if
// registry_epoch changes, agent clears cached slot pointers,
// re-registers, and re-enters dual_write").
func (s *AgentModeState) ForceDualWrite() {
	s.mode.StoreRelease(uint64(ModeDualWrite))
	s.healthyTicks = 0
	s.unhealthy = false
}

// Tick advances the state machine by one heartbeat observation. healthy
// reports whether drain_heartbeat_ns is within stall_threshold of nowNS;
// registryReady reports the control block's registry_ready flag. Called
// once per heartbeat poll by the agent's background goroutine — never
// from the producer fast path.
func (s *AgentModeState) Tick(nowNS uint64, registryReady, healthy bool) {
	if healthy {
		s.unhealthy = false
	} else if !s.unhealthy {
		s.unhealthy = true
		s.unhealthySinceNS = nowNS
	}

	switch s.Current() {
	case ModeGlobalOnly:
		if registryReady {
			s.mode.StoreRelease(uint64(ModeDualWrite))
			s.healthyTicks = 0
		}

	case ModeDualWrite:
		if healthy {
			s.healthyTicks++
			if s.healthyTicks >= s.healthyTicksToPromote {
				s.mode.StoreRelease(uint64(ModePerThreadOnly))
				s.healthyTicks = 0
			}
			return
		}
		s.healthyTicks = 0
		if s.unhealthy && nowNS-s.unhealthySinceNS >= 2*s.degradeAfterNS {
			s.mode.StoreRelease(uint64(ModeGlobalOnly))
		}

	case ModePerThreadOnly:
		if !healthy && s.unhealthy && nowNS-s.unhealthySinceNS >= s.degradeAfterNS {
			s.mode.StoreRelease(uint64(ModeDualWrite))
			s.healthyTicks = 0
		}
	}
}
