// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

// Writer is the external collaborator the drain engine hands finalized
// rings to (spec §6: "writer.accept(lane, ring_bytes, meta) returns
// success/failure"). It is out of scope as an implementation (the
// on-disk trace file format is a separate concern) but its contract is
// part of this package: a failing Writer is fatal for the session (spec
// §7 — "drain sets shutdown_requested and returns").
type Writer interface {
	// Accept receives one drained record. meta carries the producing
	// thread, lane, and (for detail-lane dumps) the window the record
	// belongs to. Accept must not retain payload beyond the call.
	Accept(meta RecordMeta, kind RecordKind, payload []byte) error
}

// WriterFunc adapts a plain function to the Writer interface.
type WriterFunc func(meta RecordMeta, kind RecordKind, payload []byte) error

func (f WriterFunc) Accept(meta RecordMeta, kind RecordKind, payload []byte) error {
	return f(meta, kind, payload)
}

// DiscardWriter accepts and drops every record. Useful for benchmarks
// and tests that only care about drain throughput, not persisted output.
var DiscardWriter Writer = WriterFunc(func(RecordMeta, RecordKind, []byte) error { return nil })
