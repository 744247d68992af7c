// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates a ring or queue operation cannot proceed
// immediately (full on enqueue, empty on dequeue).
//
// ErrWouldBlock is a control-flow signal, not a failure: the caller should
// retry with backoff, mirror to the fallback lane, or drop-oldest, rather
// than propagate the error. This is an alias for [iox.ErrWouldBlock] for
// ecosystem consistency.
//
// Example:
//
//	backoff := iox.Backoff{}
//	for {
//	    err := ring.Append(kind, payload)
//	    if err == nil {
//	        backoff.Reset()
//	        break
//	    }
//	    if fabric.IsWouldBlock(err) {
//	        backoff.Wait()
//	        continue
//	    }
//	    return err
//	}
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}

// ErrorKind classifies the error taxonomy of §7. Every kind except the
// non-fatal KindRingFull and KindPoolExhausted has one sentinel cause
// below.
type ErrorKind int

const (
	KindSegmentExists ErrorKind = iota + 1
	KindSegmentMissing
	KindVersionMismatch
	KindMagicMismatch
	KindInitTimeout
	KindRegistryFull
	KindRingFull
	KindPoolExhausted
	KindWriterFailure
	KindInvalidPattern
	KindAlreadyInitialized
	KindNotInitialized
)

func (k ErrorKind) String() string {
	switch k {
	case KindSegmentExists:
		return "segment_exists"
	case KindSegmentMissing:
		return "segment_missing"
	case KindVersionMismatch:
		return "version_mismatch"
	case KindMagicMismatch:
		return "magic_mismatch"
	case KindInitTimeout:
		return "init_timeout"
	case KindRegistryFull:
		return "registry_full"
	case KindRingFull:
		return "ring_full"
	case KindPoolExhausted:
		return "pool_exhausted"
	case KindWriterFailure:
		return "writer_failure"
	case KindInvalidPattern:
		return "invalid_pattern"
	case KindAlreadyInitialized:
		return "already_initialized"
	case KindNotInitialized:
		return "not_initialized"
	default:
		return "unknown"
	}
}

// FabricError is a taxonomy-tagged error (§7). Non-fatal kinds
// (KindRingFull, KindPoolExhausted) are control-flow signals the producer
// path handles by mirroring or dropping. Every other kind is returned to
// the caller; only KindWriterFailure is also reported through a Logger
// (the drain engine's).
type FabricError struct {
	Kind    ErrorKind
	Session SessionKey
	Segment string
	err     error
}

func (e *FabricError) Error() string {
	if e.Segment != "" {
		return fmt.Sprintf("fabric: %s: %s (%s)", e.Kind, e.err, e.Segment)
	}
	return fmt.Sprintf("fabric: %s: %s (%s)", e.Kind, e.err, e.Session)
}

func (e *FabricError) Unwrap() error { return e.err }

func newFabricError(kind ErrorKind, session SessionKey, segment string, cause error) *FabricError {
	return &FabricError{Kind: kind, Session: session, Segment: segment, err: cause}
}

// Fatal sentinel causes, wrapped with session/segment context by
// newFabricError at the call site.
var (
	causeSegmentExists      = errors.New("shared memory segment already exists")
	causeSegmentMissing     = errors.New("shared memory segment does not exist")
	causeVersionMismatch    = errors.New("control block version mismatch")
	causeMagicMismatch      = errors.New("control block magic mismatch")
	causeInitTimeout        = errors.New("timed out waiting for controller initialization")
	causeRegistryFull       = errors.New("thread registry has no free slot")
	causeWriterFailure      = errors.New("external writer rejected a drained ring")
	causeInvalidPattern     = errors.New("marking policy pattern is invalid")
	causeAlreadyInitialized = errors.New("control block already initialized")
	causeNotInitialized     = errors.New("control block not initialized")
)

// IsFabricErrorKind reports whether err is a *FabricError of the given kind.
func IsFabricErrorKind(err error, kind ErrorKind) bool {
	var fe *FabricError
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
