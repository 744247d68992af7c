// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire documents the cross-process wire contract of the fabric
// control block: the only thing a consumer that never imports the fabric
// package — an out-of-process controller written in another language, or
// a hook shim injected into the traced process — needs to agree on.
//
// The contract is: magic (spec.md §6: 0xADA5F7C1), version (1), and the
// fixed byte offset of every field in fabric.ControlBlock. layout.go holds
// ControlBlockLayout, a dependency-free mirror of that struct, and the
// field offsets computed from it with unsafe.Offsetof. TestControlBlockLayout
// in the fabric package (controlblock_test.go) asserts fabric.ControlBlock
// against those offsets, so a refactor that would silently break the wire
// contract fails a test instead of corrupting a running trace session.
// layout_test.go in this directory checks that the mirror's offsets
// increase in field order and that it fits the 4 KiB control segment.
package wire
