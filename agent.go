// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"context"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/agilira/go-timecache"
)

// defaultFallbackCapacity sizes the global fallback lane in records. It
// is independent of per-thread ring sizing (Options.RingCapacity), since
// the fallback lane holds framed FallbackRecord values, not raw bytes.
const defaultFallbackCapacity = 4096

// Agent is the traced-process side of a session: it attaches to a
// controller's shared-memory segments and hands out ProducerHandles
// (spec §4.1, §4.4, §6's agent_init entry point).
type Agent struct {
	session SessionKey
	segs    *segments
	cb      *ControlBlock

	pool      *RingPool
	registry  *ThreadRegistry
	fallback  *FallbackLane
	modeState *AgentModeState
	metrics   *Metrics
	policy    *MarkingPolicy
	opts      *Options
	logger    Logger

	clock           *timecache.TimeCache
	windowIDCounter atomix.Uint64
}

// NewAgent attaches to the controller's shared-memory segments for
// session, blocking (spin-wait, bounded by opts.AttachTimeout) until the
// control block reports initialized. policy may be nil, in which case no
// detail record ever marks a window. opts may be nil to use defaults.
func NewAgent(session SessionKey, policy *MarkingPolicy, opts *Options, logger Logger) (*Agent, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if policy == nil {
		policy, _ = NewMarkingPolicy(nil)
	}
	if logger == nil {
		logger = defaultLoggerInstance
	}

	segs, err := attachSegments(session, opts.AttachTimeout)
	if err != nil {
		return nil, err
	}

	pool, err := NewRingPool(segs.rings.bytes(), opts.RingCapacity)
	if err != nil {
		_ = segs.control.unmap()
		_ = segs.registry.unmap()
		_ = segs.rings.unmap()
		return nil, err
	}

	cb := mapControlBlock(segs.control.bytes())
	cb.markAgentAttached()

	registryBuf, fallbackBuf := registrySegmentRegions(segs.registry.bytes())

	a := &Agent{
		session:   session,
		segs:      segs,
		cb:        cb,
		pool:      pool,
		registry:  newThreadRegistryOver(registryBuf, pool, opts.RingPrefetch),
		fallback:  newFallbackLaneOver(fallbackBuf, defaultFallbackCapacity),
		modeState: NewAgentModeState(opts.HealthyTicksToPromote, uint64(opts.DegradeAfter.Nanoseconds())),
		metrics:   NewMetrics(),
		policy:    policy,
		opts:      opts,
		logger:    logger,
		clock:     timecache.NewWithResolution(time.Millisecond),
	}
	return a, nil
}

func (a *Agent) controlBlock() *ControlBlock { return a.cb }

// now returns the current time in nanoseconds from the agent's cached
// clock, never a fresh syscall, matching spec §5's "no operation in the
// producer fast path may block" by keeping even the clock read O(1) and
// allocation-free.
func (a *Agent) now() uint64 { return uint64(a.clock.CachedTime().UnixNano()) }

func (a *Agent) nextWindowID() uint64 { return a.windowIDCounter.AddAcqRel(1) }

// Register self-registers threadID, returning a ProducerHandle the
// caller should cache for that thread's lifetime (spec §4.4's "first
// trace call on a thread calls registry_register"). On registry
// exhaustion the returned handle is still usable — it is orphaned and
// routes every record to the global fallback lane — alongside the
// KindRegistryFull error for the caller to log once.
func (a *Agent) Register(threadID uint64) (*ProducerHandle, error) {
	h := &ProducerHandle{threadID: threadID, agent: a, epoch: a.cb.epoch()}
	if err := h.reRegister(h.epoch); err != nil {
		return h, err
	}
	return h, nil
}

// Metrics returns the agent-side counters (events emitted/dropped,
// bytes, fallback activations, policy mark rate).
func (a *Agent) Metrics() *Metrics { return a.metrics }

// Mode returns the agent's current lane-write mode.
func (a *Agent) Mode() AgentMode { return a.modeState.Current() }

// Run polls the control block's heartbeat and registry-readiness once
// per opts.PollInterval, driving the AgentModeState transitions of spec
// §4.8, until ctx is canceled. It is meant to run in its own goroutine
// for the lifetime of the agent.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *Agent) tick() {
	now := a.now()
	heartbeat := a.cb.heartbeat()
	healthy := heartbeat != 0 && now-heartbeat <= uint64(a.opts.StallThreshold.Nanoseconds())
	a.modeState.Tick(now, a.cb.isRegistryReady(), healthy)
}

// ShutdownRequested reports whether the controller has requested session
// shutdown (spec §5: "producers check it lazily").
func (a *Agent) ShutdownRequested() bool { return a.cb.isShutdownRequested() }

// Detach unmaps this agent's view of the shared segments without
// destroying them — only the controller destroys segments (spec §4.1).
func (a *Agent) Detach() error {
	if err := a.segs.rings.unmap(); err != nil {
		return err
	}
	if err := a.segs.registry.unmap(); err != nil {
		return err
	}
	return a.segs.control.unmap()
}
