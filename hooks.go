// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

// Hook is the function-instrumentation collaborator consumed by this
// package (spec §6): on_enter/on_leave calls from a trampoline installed
// in the target process. The trampoline/interceptor itself is out of
// scope (§1's Non-goals); this interface is the seam a hook
// implementation plugs a ProducerHandle into.
type Hook interface {
	// OnEnter is called when the traced function is entered. regs and
	// stackPtr are opaque, already-serialized snapshots the hook layer
	// produced (their encoding is the hook implementation's concern, not
	// this package's); fabric only frames and transports them.
	OnEnter(functionID uint64, symbol, module string, regs, stackPtr []byte) error
	// OnLeave is called on return from the traced function.
	OnLeave(functionID uint64, symbol, module string, ret []byte) error
}

// ProducerHook is the default Hook implementation: it drives a single
// ProducerHandle's index lane unconditionally and offers a detail probe
// to the marking policy on every call and return, matching spec §6's
// "calls into core's emit_index_event and emit_detail_event".
type ProducerHook struct {
	Handle *ProducerHandle
}

func (h ProducerHook) OnEnter(functionID uint64, symbol, module string, regs, stackPtr []byte) error {
	if err := h.Handle.RecordCall(symbol, module); err != nil {
		return err
	}
	return h.Handle.RecordDetail(Probe{Symbol: symbol, Module: module}, concatDetailPayload(regs, stackPtr))
}

func (h ProducerHook) OnLeave(functionID uint64, symbol, module string, ret []byte) error {
	if err := h.Handle.RecordReturn(symbol, module); err != nil {
		return err
	}
	return h.Handle.RecordDetail(Probe{Symbol: symbol, Module: module}, ret)
}

func concatDetailPayload(regs, stackPtr []byte) []byte {
	if len(stackPtr) == 0 {
		return regs
	}
	buf := make([]byte, 0, len(regs)+len(stackPtr)+4)
	buf = append(buf, byte(len(regs)), byte(len(regs)>>8), byte(len(regs)>>16), byte(len(regs)>>24))
	buf = append(buf, regs...)
	buf = append(buf, stackPtr...)
	return buf
}
