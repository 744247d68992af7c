// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import "code.hybscloud.com/atomix"

// dropReason classifies why a record was dropped, for the per-lane
// drop-reason counters spec §4.7 names (ring_full, pool_exhausted).
type dropReason uint8

const (
	dropReasonRingFull dropReason = iota
	dropReasonPoolExhausted
)

func (r dropReason) String() string {
	if r == dropReasonPoolExhausted {
		return "pool_exhausted"
	}
	return "ring_full"
}

// orphanSlot is the metrics bucket for threads that never held a
// registry slot (registration failed or was never refreshed in time).
const orphanSlot = MaxThreads

type threadMetrics struct {
	emitted [2]atomix.Uint64 // indexed by LaneKind
	dropped [2][2]atomix.Uint64 // [LaneKind][dropReason]
	_       pad
}

// Metrics holds every lock-free counter named by spec §4.7, monotonic
// atomix.Uint64 fields written by many producer goroutines and the
// single drain goroutine, read without locking by a single reporter
// (the controller's periodic snapshot caller).
type Metrics struct {
	perThread [MaxThreads + 1]threadMetrics // +1 is orphanSlot

	bytesWritten atomix.Uint64
	_            pad

	drainCycles atomix.Uint64
	idleCycles  atomix.Uint64
	_           pad

	fallbackActivations atomix.Uint64
	_                   pad

	policyEvaluations atomix.Uint64
	policyMarks       atomix.Uint64
	_                 pad

	dumpAttempts  atomix.Uint64
	dumpSuccesses atomix.Uint64
	_             pad
}

// NewMetrics returns a zeroed Metrics.
func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) recordEmit(slot int, lane LaneKind, nBytes int) {
	m.perThread[slot].emitted[lane].AddAcqRel(1)
	m.bytesWritten.AddAcqRel(uint64(nBytes))
}

func (m *Metrics) recordDrop(slot int, lane LaneKind, reason dropReason) {
	m.perThread[slot].dropped[lane][reason].AddAcqRel(1)
}

func (m *Metrics) recordFallbackActivation() {
	m.fallbackActivations.AddAcqRel(1)
}

func (m *Metrics) recordDrainCycle(idle bool) {
	m.drainCycles.AddAcqRel(1)
	if idle {
		m.idleCycles.AddAcqRel(1)
	}
}

func (m *Metrics) recordPolicyEvaluation(matched bool) {
	m.policyEvaluations.AddAcqRel(1)
	if matched {
		m.policyMarks.AddAcqRel(1)
	}
}

func (m *Metrics) recordDump(success bool) {
	m.dumpAttempts.AddAcqRel(1)
	if success {
		m.dumpSuccesses.AddAcqRel(1)
	}
}

// ThreadSnapshot is one thread's (or the orphan bucket's) counters at
// the moment of Snapshot.
type ThreadSnapshot struct {
	Slot             int
	IndexEmitted     uint64
	DetailEmitted    uint64
	IndexDropped     [2]uint64 // [dropReason]
	DetailDropped    [2]uint64 // [dropReason]
}

// Snapshot is a single point-in-time read of every counter, taken lock-
// free by a single reporter (spec §4.7). The drain engine does not take
// snapshots itself; the reporter calls Metrics.Snapshot when it chooses.
type Snapshot struct {
	Threads             []ThreadSnapshot
	BytesWritten        uint64
	DrainCycles         uint64
	IdleCycles          uint64
	FallbackActivations uint64
	PolicyEvaluations   uint64
	PolicyMarks         uint64
	DumpAttempts        uint64
	DumpSuccesses       uint64
}

// MarkRate returns PolicyMarks/PolicyEvaluations, or 0 if no evaluations
// have happened yet.
func (s Snapshot) MarkRate() float64 {
	if s.PolicyEvaluations == 0 {
		return 0
	}
	return float64(s.PolicyMarks) / float64(s.PolicyEvaluations)
}

// DumpSuccessRatio returns DumpSuccesses/DumpAttempts, or 1 if no dumps
// have been attempted yet.
func (s Snapshot) DumpSuccessRatio() float64 {
	if s.DumpAttempts == 0 {
		return 1
	}
	return float64(s.DumpSuccesses) / float64(s.DumpAttempts)
}

// Snapshot reads every counter once. Safe to call from exactly one
// reporter goroutine; individual field reads are relaxed since each is
// independently monotonic and no cross-field ordering is required.
func (m *Metrics) Snapshot() Snapshot {
	threads := make([]ThreadSnapshot, 0, len(m.perThread))
	for i := range m.perThread {
		t := &m.perThread[i]
		ts := ThreadSnapshot{
			Slot:          i,
			IndexEmitted:  t.emitted[LaneIndex].LoadRelaxed(),
			DetailEmitted: t.emitted[LaneDetail].LoadRelaxed(),
		}
		ts.IndexDropped[dropReasonRingFull] = t.dropped[LaneIndex][dropReasonRingFull].LoadRelaxed()
		ts.IndexDropped[dropReasonPoolExhausted] = t.dropped[LaneIndex][dropReasonPoolExhausted].LoadRelaxed()
		ts.DetailDropped[dropReasonRingFull] = t.dropped[LaneDetail][dropReasonRingFull].LoadRelaxed()
		ts.DetailDropped[dropReasonPoolExhausted] = t.dropped[LaneDetail][dropReasonPoolExhausted].LoadRelaxed()
		if ts.IndexEmitted|ts.DetailEmitted|ts.IndexDropped[0]|ts.IndexDropped[1]|ts.DetailDropped[0]|ts.DetailDropped[1] != 0 {
			threads = append(threads, ts)
		}
	}
	return Snapshot{
		Threads:             threads,
		BytesWritten:        m.bytesWritten.LoadRelaxed(),
		DrainCycles:         m.drainCycles.LoadRelaxed(),
		IdleCycles:          m.idleCycles.LoadRelaxed(),
		FallbackActivations: m.fallbackActivations.LoadRelaxed(),
		PolicyEvaluations:   m.policyEvaluations.LoadRelaxed(),
		PolicyMarks:         m.policyMarks.LoadRelaxed(),
		DumpAttempts:        m.dumpAttempts.LoadRelaxed(),
		DumpSuccesses:       m.dumpSuccesses.LoadRelaxed(),
	}
}
