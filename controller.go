// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"context"
	"time"

	"github.com/agilira/go-timecache"
)

// Controller is the out-of-process side of a session: it owns segment
// creation and destruction, the thread registry and ring pool every
// registered producer draws from, the global fallback lane, and the
// drain engine that hands finished rings to a Writer (spec §4.1, §4.6).
//
// A Controller is the only component permitted to create or destroy the
// three shared-memory segments (spec §4.1: "destroy... only from the
// controller side").
type Controller struct {
	session SessionKey
	segs    *segments
	cb      *ControlBlock

	pool      *RingPool
	registry  *ThreadRegistry
	fallback  *FallbackLane
	metrics   *Metrics
	opts      *Options
	logger    Logger
	drain     *DrainEngine

	stop chan struct{}
	done chan struct{}
}

// NewController creates the shared-memory segments for session and
// returns a Controller ready to accept agent registrations and drain
// into writer. opts may be nil to use defaults; logger may be nil to log
// via the standard library.
//
// Fails with KindSegmentExists if a prior session under the same
// SessionKey was never cleaned up (spec §4.1).
func NewController(session SessionKey, opts *Options, logger Logger, writer Writer) (*Controller, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if logger == nil {
		logger = defaultLoggerInstance
	}
	if writer == nil {
		writer = DiscardWriter
	}

	segs, err := createSegments(session)
	if err != nil {
		return nil, err
	}

	pool, err := NewRingPool(segs.rings.bytes(), opts.RingCapacity)
	if err != nil {
		_ = destroySegments(segs)
		return nil, err
	}

	cb := mapControlBlock(segs.control.bytes())
	cb.initControlBlock(session)

	registryBuf, fallbackBuf := registrySegmentRegions(segs.registry.bytes())
	registry := newThreadRegistryOver(registryBuf, pool, opts.RingPrefetch)
	fallback := newFallbackLaneOver(fallbackBuf, defaultFallbackCapacity)
	fallback.initCycles()

	c := &Controller{
		session:  session,
		segs:     segs,
		cb:       cb,
		pool:     pool,
		registry: registry,
		fallback: fallback,
		metrics:  NewMetrics(),
		opts:     opts,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.drain = NewDrainEngine(session, c.registry, c.fallback, cb, c.metrics, opts, logger, writer)

	cb.markRegistryReady()
	cb.markInitialized()

	return c, nil
}

// Session returns the session key this controller owns.
func (c *Controller) Session() SessionKey { return c.session }

// Metrics returns the controller-side counters shared with the drain
// engine: drain/idle cycle counts, and a drop for each drained ring the
// drain engine could not return to a free list. Per-thread emit counts
// and dump counts are kept on each Agent's own Metrics.
func (c *Controller) Metrics() *Metrics { return c.metrics }

// NewInProcessAgent builds an Agent sharing this controller's ring pool,
// thread registry, and fallback lane Go objects directly, skipping the
// lazy cross-process attach path in ThreadRegistry.Visit entirely since
// both sides already hold the same *ThreadRegistry. This is the
// same-process fast path of the same segment-backed registry/fallback a
// genuinely separate agent process uses via NewAgent — not a distinct
// mechanism — and is the common case for a sidecar-style collector.
func (c *Controller) NewInProcessAgent(policy *MarkingPolicy, logger Logger) *Agent {
	if policy == nil {
		policy, _ = NewMarkingPolicy(nil)
	}
	if logger == nil {
		logger = c.logger
	}
	c.cb.markAgentAttached()
	return &Agent{
		session:   c.session,
		segs:      c.segs,
		cb:        c.cb,
		pool:      c.pool,
		registry:  c.registry,
		fallback:  c.fallback,
		modeState: NewAgentModeState(c.opts.HealthyTicksToPromote, uint64(c.opts.DegradeAfter.Nanoseconds())),
		metrics:   NewMetrics(),
		policy:    policy,
		opts:      c.opts,
		logger:    logger,
		clock:     timecache.NewWithResolution(time.Millisecond),
	}
}

// Run starts the drain loop in the calling goroutine, blocking until
// ctx is canceled or the control block's shutdown flag is set, then
// performs one final unbounded drain pass before returning (spec §4.6).
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	go func() {
		<-ctx.Done()
		close(c.stop)
	}()
	c.drain.Run(c.stop)
}

// RequestShutdown asks the drain loop to perform its final pass and
// return, without waiting for it to do so.
func (c *Controller) RequestShutdown() {
	c.cb.requestShutdown()
}

// Stopped returns a channel closed once Run has returned.
func (c *Controller) Stopped() <-chan struct{} { return c.done }

// Close tears down this controller's shared-memory segments. Only call
// after Run has returned (Stopped is closed) and every agent sharing
// this controller's segments has detached.
func (c *Controller) Close() error {
	return destroySegments(c.segs)
}

// BumpEpoch increments the registry epoch and resets the thread
// registry, forcing every attached agent to re-register and re-enter
// dual_write on its next emit (spec §4.8). Used to recover from a
// suspected registry corruption without restarting the whole session.
func (c *Controller) BumpEpoch() uint64 {
	c.registry.ResetAll()
	return c.cb.bumpEpoch()
}
