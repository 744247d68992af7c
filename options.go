// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Options configures a Controller or Agent. Zero value is invalid; build
// one with NewOptions and the fluent With* methods, matching the builder
// texture of a fluent configuration chain.
//
// Example:
//
//	opts := fabric.NewOptions().
//		WithRingCapacity(1 << 20).
//		WithFairnessQuantum(4).
//		WithStallThreshold(2 * time.Second)
type Options struct {
	// RingCapacity is the byte capacity of each per-thread ring. Rounds
	// up to the next power of two; must be >= 2.
	RingCapacity int

	// RingPrefetch is how many rings a lane pulls into its free queue on
	// registration (spec §4.3: "implementation choice, ≥2").
	RingPrefetch int

	// MaxThreadsPerCycle bounds how many registry slots the drain
	// engine visits in one cycle. Zero means "all active slots".
	MaxThreadsPerCycle int

	// MaxEventsPerThread bounds records drained per thread per cycle.
	MaxEventsPerThread int

	// FairnessQuantum bounds rings drained per lane per thread visit.
	FairnessQuantum int

	// PollInterval is the period at which Agent.Run polls the control
	// block's heartbeat and registry-ready flag. The drain engine does
	// not use it: its idle cycles back off via iox.Backoff.
	PollInterval time.Duration

	// StallThreshold is how stale drain_heartbeat_ns may get before the
	// agent considers the controller unhealthy (spec §4.8). Default is
	// 2x the expected drain interval.
	StallThreshold time.Duration

	// DegradeAfter is how long an unhealthy heartbeat must persist
	// before per_thread_only degrades to dual_write, and dual_write to
	// global_only (spec §4.8 default: 500ms).
	DegradeAfter time.Duration

	// HealthyTicksToPromote is the number of consecutive healthy
	// heartbeat observations required before dual_write promotes to
	// per_thread_only (spec §9 open question, resolved to 3).
	HealthyTicksToPromote int

	// PreRoll and PostRoll bound a persistence window around a mark
	// (spec §4.5).
	PreRoll  time.Duration
	PostRoll time.Duration

	// AvgRecordSize is the assumed average detail-record size in bytes,
	// used only to validate that PreRoll can physically fit within
	// RingCapacity (spec §9 open question, window.go's
	// estimatePreRollBytes). It is a sizing assumption, not a hard cap:
	// actual records may be larger or smaller.
	AvgRecordSize int

	// AttachTimeout bounds how long NewAgent spin-waits for the
	// control block's initialized flag (spec §4.1, §6).
	AttachTimeout time.Duration

	// warmUp, perSymbolCost, and timeoutTolerance size the agent's
	// startup budget (spec §6's ADA_STARTUP_* variables); they are not
	// part of the synchronization protocol and have no default beyond
	// zero (disabled) until an environment override sets them.
	warmUp           time.Duration
	perSymbolCost    time.Duration
	timeoutTolerance time.Duration
}

// WarmUp returns the configured startup warm-up duration.
func (o *Options) WarmUp() time.Duration { return o.warmUp }

// PerSymbolCost returns the configured per-symbol startup cost estimate.
func (o *Options) PerSymbolCost() time.Duration { return o.perSymbolCost }

// TimeoutTolerance returns the configured startup timeout tolerance.
func (o *Options) TimeoutTolerance() time.Duration { return o.timeoutTolerance }

// NewOptions returns an Options populated with the documented defaults,
// then overridden by any ADA_STARTUP_* environment variables present
// (spec §6 — these override startup sizing only, never synchronization
// semantics).
func NewOptions() *Options {
	o := &Options{
		RingCapacity:          1 << 20,
		RingPrefetch:          2,
		MaxThreadsPerCycle:    0,
		MaxEventsPerThread:    4096,
		FairnessQuantum:       4,
		PollInterval:          200 * time.Microsecond,
		StallThreshold:        2 * time.Second,
		DegradeAfter:          500 * time.Millisecond,
		HealthyTicksToPromote: 3,
		PreRoll:               0,
		PostRoll:              0,
		AvgRecordSize:         128,
		AttachTimeout:         5 * time.Second,
	}
	o.applyStartupEnv()
	return o
}

// applyStartupEnv overrides only the agent startup-sizing knobs from
// environment variables, following agilira-lethe's config.go tolerance
// for a bare number alongside a suffixed one — here the unit is always
// milliseconds (integer or decimal), per spec §6.
func (o *Options) applyStartupEnv() {
	if v, ok := lookupMillis("ADA_STARTUP_TIMEOUT"); ok {
		o.AttachTimeout = v
	}
	if v, ok := lookupMillis("ADA_STARTUP_WARM_UP_DURATION"); ok {
		o.warmUp = v
	}
	if v, ok := lookupMillis("ADA_STARTUP_PER_SYMBOL_COST"); ok {
		o.perSymbolCost = v
	}
	if v, ok := lookupMillis("ADA_STARTUP_TIMEOUT_TOLERANCE"); ok {
		o.timeoutTolerance = v
	}
}

// WithRingCapacity sets the byte capacity of each per-thread ring.
func (o *Options) WithRingCapacity(n int) *Options {
	o.RingCapacity = roundToPow2(n)
	return o
}

// WithRingPrefetch sets how many rings a lane pulls into its free queue
// on registration.
func (o *Options) WithRingPrefetch(n int) *Options {
	if n < 1 {
		n = 1
	}
	o.RingPrefetch = n
	return o
}

// WithMaxThreadsPerCycle bounds how many registry slots the drain engine
// visits per cycle.
func (o *Options) WithMaxThreadsPerCycle(n int) *Options {
	o.MaxThreadsPerCycle = n
	return o
}

// WithMaxEventsPerThread bounds records drained per thread per cycle.
func (o *Options) WithMaxEventsPerThread(n int) *Options {
	o.MaxEventsPerThread = n
	return o
}

// WithFairnessQuantum bounds rings drained per lane per thread visit.
func (o *Options) WithFairnessQuantum(n int) *Options {
	o.FairnessQuantum = n
	return o
}

// WithPollInterval sets the period of Agent.Run's heartbeat poll.
func (o *Options) WithPollInterval(d time.Duration) *Options {
	o.PollInterval = d
	return o
}

// WithStallThreshold sets how stale the heartbeat may get before the
// agent considers the controller unhealthy.
func (o *Options) WithStallThreshold(d time.Duration) *Options {
	o.StallThreshold = d
	return o
}

// WithDegradeAfter sets how long an unhealthy heartbeat must persist
// before the agent mode degrades one step.
func (o *Options) WithDegradeAfter(d time.Duration) *Options {
	o.DegradeAfter = d
	return o
}

// WithHealthyTicksToPromote sets the consecutive healthy-tick count
// required to promote dual_write to per_thread_only.
func (o *Options) WithHealthyTicksToPromote(n int) *Options {
	o.HealthyTicksToPromote = n
	return o
}

// WithPreRoll sets the persistence window's pre-roll duration.
func (o *Options) WithPreRoll(d time.Duration) *Options {
	o.PreRoll = d
	return o
}

// WithPostRoll sets the persistence window's post-roll duration.
func (o *Options) WithPostRoll(d time.Duration) *Options {
	o.PostRoll = d
	return o
}

// WithAvgRecordSize sets the assumed average detail-record size in bytes
// used to validate PreRoll against RingCapacity.
func (o *Options) WithAvgRecordSize(n int) *Options {
	if n < 1 {
		n = 1
	}
	o.AvgRecordSize = n
	return o
}

// WithAttachTimeout sets how long NewAgent spin-waits for the
// control block to report initialized.
func (o *Options) WithAttachTimeout(d time.Duration) *Options {
	o.AttachTimeout = d
	return o
}

// ParseMillis parses a millisecond duration from a decimal string such
// as "500" or "12.5", matching the ADA_STARTUP_* environment variable
// contract (spec §6: "all millisecond integers or floats").
func ParseMillis(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("fabric: empty millisecond duration")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("fabric: invalid millisecond duration %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("fabric: negative millisecond duration %q", s)
	}
	return time.Duration(v * float64(time.Millisecond)), nil
}

func lookupMillis(name string) (time.Duration, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	d, err := ParseMillis(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

// roundToPow2 rounds n up to the next power of 2. Used for ring and
// queue capacity, matching the teacher's rounding rule exactly.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
