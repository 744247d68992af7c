// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"time"

	"code.hybscloud.com/iox"
	"github.com/agilira/go-timecache"
)

// DrainEngine is the controller-side consumer: a fair rotating-start
// iteration over the thread registry's lanes plus the global fallback
// lane, handing finalized rings to a Writer (spec §4.6).
type DrainEngine struct {
	session  SessionKey
	registry *ThreadRegistry
	fallback *FallbackLane
	writer   Writer
	cb       *ControlBlock
	metrics  *Metrics
	opts     *Options
	logger   Logger
	clock    *timecache.TimeCache

	startIdx int
}

// NewDrainEngine returns a DrainEngine consuming from registry and
// fallback, handing drained records to writer.
func NewDrainEngine(session SessionKey, registry *ThreadRegistry, fallback *FallbackLane, cb *ControlBlock, metrics *Metrics, opts *Options, logger Logger, writer Writer) *DrainEngine {
	if logger == nil {
		logger = defaultLoggerInstance
	}
	return &DrainEngine{
		session:  session,
		registry: registry,
		fallback: fallback,
		writer:   writer,
		cb:       cb,
		metrics:  metrics,
		opts:     opts,
		logger:   logger,
		clock:    timecache.NewWithResolution(time.Millisecond),
	}
}

func (d *DrainEngine) now() uint64 { return uint64(d.clock.CachedTime().UnixNano()) }

// Run drains continuously until stop is closed or the control block's
// shutdown flag is set, then performs one final full pass before
// returning (spec §4.6's "final drain" on session stop). Idle cycles back
// off via iox.Backoff rather than a bare sleep.
func (d *DrainEngine) Run(stop <-chan struct{}) {
	backoff := iox.Backoff{}
	for {
		select {
		case <-stop:
			d.finalDrain()
			return
		default:
		}

		if d.cb.isShutdownRequested() {
			d.finalDrain()
			return
		}

		drained := d.Cycle()
		d.cb.setHeartbeat(d.now())
		d.metrics.recordDrainCycle(drained == 0)
		if drained == 0 {
			backoff.Wait()
		} else {
			backoff.Reset()
		}
	}
}

// finalDrain performs one additional full pass with no per-cycle limits,
// after calling the fallback lane's Drain to record that no more
// enqueues will occur. No flush follows the pass: Writer has no flush
// operation, and finalDrain calls it only through one Accept per drained
// record.
func (d *DrainEngine) finalDrain() {
	d.fallback.Drain()
	d.drainCycle(0, 0, 0)
	d.cb.setHeartbeat(d.now())
}

// Cycle runs one bounded drain pass over up to max_threads_per_cycle
// active threads and the fallback lane, returning the number of records
// drained.
func (d *DrainEngine) Cycle() int {
	return d.drainCycle(d.opts.MaxThreadsPerCycle, d.opts.MaxEventsPerThread, d.opts.FairnessQuantum)
}

func (d *DrainEngine) drainCycle(maxThreads, maxEventsPerThread, fairnessQuantum int) int {
	total := 0
	visited := 0

	d.registry.Visit(d.startIdx, func(slotIndex int, threadID uint64, index, detail *Lane) {
		if maxThreads > 0 && visited >= maxThreads {
			return
		}
		visited++
		total += d.drainLane(slotIndex, threadID, index, maxEventsPerThread, fairnessQuantum)
		total += d.drainLane(slotIndex, threadID, detail, maxEventsPerThread, fairnessQuantum)
	})
	d.startIdx = (d.startIdx + 1) % MaxThreads

	total += d.drainFallback(maxEventsPerThread)
	return total
}

// drainLane pops up to fairnessQuantum submitted rings from lane,
// drains up to maxEventsPerThread total records from them (0 means
// unbounded), hands each to the writer, and returns the ring to the
// lane's free queue.
func (d *DrainEngine) drainLane(slotIndex int, threadID uint64, lane *Lane, maxEventsPerThread, fairnessQuantum int) int {
	if lane == nil {
		return 0
	}
	drained := 0
	for rings := 0; fairnessQuantum <= 0 || rings < fairnessQuantum; rings++ {
		h, err := lane.NextSubmitted()
		if err != nil {
			break
		}
		drained += d.drainRing(slotIndex, threadID, lane, h, maxEventsPerThread-drained)
		if err := lane.Release(h); err != nil {
			d.metrics.recordDrop(slotIndex, lane.kind, dropReasonPoolExhausted)
		}
		if maxEventsPerThread > 0 && drained >= maxEventsPerThread {
			break
		}
	}
	return drained
}

func (d *DrainEngine) drainRing(slotIndex int, threadID uint64, lane *Lane, h RingHandle, budget int) int {
	ring := lane.pool.Ring(h)
	var windowID uint64
	if lane.kind == LaneDetail && lane.detailCtl != nil {
		if snap, ok := lane.detailCtl.NextSnapshot(); ok {
			windowID = snap.WindowID
		}
	}

	max := budget
	if max < 0 {
		max = 0
	}
	return ring.Drain(max, func(kind RecordKind, payload []byte) {
		meta := RecordMeta{ThreadID: threadID, Lane: lane.kind, WindowID: windowID, Dropped: ring.DroppedCount()}
		if err := d.writer.Accept(meta, kind, payload); err != nil {
			d.cb.requestShutdown()
			reportFatal(d.logger, &FabricError{Kind: KindWriterFailure, Session: d.session, err: causeWriterFailure})
		}
	})
}

// drainFallback drains the global fallback lane, which has no ring
// structure of its own — each FallbackRecord is already one whole
// record.
func (d *DrainEngine) drainFallback(maxEvents int) int {
	drained := 0
	for maxEvents <= 0 || drained < maxEvents {
		rec, err := d.fallback.Dequeue()
		if err != nil {
			return drained
		}
		meta := RecordMeta{ThreadID: rec.ThreadID, Lane: rec.Lane}
		if err := d.writer.Accept(meta, rec.Kind, rec.Payload); err != nil {
			d.cb.requestShutdown()
			reportFatal(d.logger, &FabricError{Kind: KindWriterFailure, Session: d.session, err: causeWriterFailure})
			return drained
		}
		drained++
	}
	return drained
}
