// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

// This file collects usage documentation for the fabric package; the
// package-level doc comment itself lives on the package clause in
// types.go.
//
// # Quick Start
//
// The controller creates the session's segments and owns the drain loop:
//
//	session := fabric.SessionKey{HostPID: int32(os.Getpid()), SessionID: 1}
//	ctrl, err := fabric.NewController(session, fabric.NewOptions(), nil, writer)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.Close()
//
//	ctx, cancel := context.WithCancel(context.Background())
//	go ctrl.Run(ctx)
//	defer cancel()
//
// The agent attaches from inside the traced process and registers one
// handle per tracing goroutine:
//
//	policy, _ := fabric.NewMarkingPolicy(rules)
//	ag, err := fabric.NewAgent(session, policy, fabric.NewOptions(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ag.Detach()
//
//	go ag.Run(ctx)
//
//	handle, err := ag.Register(threadID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer handle.Unregister()
//
//	handle.RecordCall(symbol, module)
//	handle.RecordReturn(symbol, module)
//
// # Marking
//
// The detail lane persists register/stack payloads only inside a window
// opened by the marking policy, but every detail event is written to the
// ring regardless of whether it matched — pre-roll fidelity depends on
// the ring continuously holding recent events, not only matched ones.
// RecordDetail offers the event to the policy, advances the window, and
// writes the payload unconditionally:
//
//	handle.RecordDetail(fabric.Probe{Symbol: "parseOrder", Module: "orders"}, registers)
//
// ShouldMark is a separate, non-mutating peek for callers who want to
// decide whether an expensive capture (e.g. walking a full stack) is
// worth the cost before assembling the payload at all; it never gates
// RecordDetail itself:
//
//	if handle.ShouldMark(probe) {
//	    registers = captureExpensiveSnapshot()
//	}
//	handle.RecordDetail(probe, registers)
//
// # Error Handling
//
// Ring and queue operations return [ErrWouldBlock] when they cannot
// proceed immediately — full on enqueue, empty on dequeue. This is a
// control-flow signal, not a failure: producers mirror to the fallback
// lane or drop-count rather than propagate the error. ErrWouldBlock is
// sourced from [code.hybscloud.com/iox] for ecosystem consistency.
//
//	backoff := iox.Backoff{}
//	for {
//	    err := ring.Append(fabric.RecordKindIndex, payload)
//	    if err == nil {
//	        backoff.Reset()
//	        break
//	    }
//	    if !fabric.IsWouldBlock(err) {
//	        return err
//	    }
//	    backoff.Wait()
//	}
//
// Taxonomy errors are [FabricError] values tagged with an [ErrorKind] and
// are returned to the caller; a Writer failure is additionally reported
// through the drain engine's Logger — see errors.go.
//
// # Thread Safety
//
// Each [ProducerHandle] is owned by exactly one goroutine for its whole
// registered lifetime: per-thread rings are single-producer. The global
// fallback lane is multi-producer, single-consumer — any number of
// orphaned or overflow threads may write to it concurrently. The drain
// side is always a single goroutine per [Controller].
//
// # Graceful Shutdown
//
// The fallback lane implements [Drainer]; the ring pool does not. Its
// Drain only records that no more enqueues will occur: Dequeue has no
// livelock threshold and empties whatever remains with or without the
// call. The drain engine's final pass calls it before draining:
//
//	prodWg.Wait()
//	fallback.Drain()
//
// # Race Detection
//
// Go's race detector cannot observe the happens-before relationships
// established by acquire-release atomics on separate variables, so it can
// report false positives against these algorithms even when they are
// correct. Tests that depend on this property skip themselves at run time
// when [RaceEnabled] is true (race.go, built only under -race).
//
// # Dependencies
//
// This package uses [code.hybscloud.com/atomix] for atomic fields with
// explicit memory ordering, [code.hybscloud.com/iox] for semantic errors,
// [code.hybscloud.com/spin] for CPU-pause spin-waits, and
// [github.com/agilira/go-timecache] for the cached clocks (one per Agent,
// one per DrainEngine) behind every timestamp this package writes. Segment creation goes through
// [golang.org/x/sys/unix] for mmap/munmap.
