// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"time"

	"code.hybscloud.com/spin"
	"golang.org/x/sys/unix"
)

// segment wraps one mmap'd POSIX shared-memory region.
type segment struct {
	path string
	data []byte
}

func (s *segment) bytes() []byte { return s.data }

func (s *segment) unmap() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}

// createSegment creates a new shared-memory segment at path, sized to
// size, and maps it read-write. Fails with KindSegmentExists if the
// segment name is already taken (spec §4.1: "previous session not
// cleaned up").
func createSegment(session SessionKey, name string, path string, size int) (*segment, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0600)
	if err != nil {
		if err == unix.EEXIST {
			return nil, newFabricError(KindSegmentExists, session, path, causeSegmentExists)
		}
		return nil, newFabricError(KindSegmentExists, session, path, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Unlink(path)
		return nil, newFabricError(KindSegmentExists, session, path, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Unlink(path)
		return nil, newFabricError(KindSegmentExists, session, path, err)
	}

	return &segment{path: path, data: data}, nil
}

// attachSegment opens an existing shared-memory segment and maps it
// read-write. Fails with KindSegmentMissing if the segment does not exist.
func attachSegment(session SessionKey, path string, size int) (*segment, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0600)
	if err != nil {
		if err == unix.ENOENT {
			return nil, newFabricError(KindSegmentMissing, session, path, causeSegmentMissing)
		}
		return nil, newFabricError(KindSegmentMissing, session, path, err)
	}
	defer unix.Close(fd)

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, newFabricError(KindSegmentMissing, session, path, err)
	}

	return &segment{path: path, data: data}, nil
}

// destroySegment unmaps and unlinks a segment. Only the controller ever
// calls this (spec §4.1: "destroy... only from the controller side").
func destroySegment(s *segment) error {
	if s == nil {
		return nil
	}
	path := s.path
	if err := s.unmap(); err != nil {
		return err
	}
	return unix.Unlink(path)
}

// segments bundles the three shared-memory regions belonging to one
// session.
type segments struct {
	control  *segment
	registry *segment
	rings    *segment
}

// createSegments creates all three segments for a new session (spec
// §4.1). If any later segment fails to create, segments already created
// are destroyed before returning the error.
func createSegments(session SessionKey) (*segments, error) {
	controlPath := session.segmentPath("control")
	registryPath := session.segmentPath("registry")
	ringsPath := session.segmentPath("rings")

	control, err := createSegment(session, "control", controlPath, ControlSegmentSize)
	if err != nil {
		return nil, err
	}
	registry, err := createSegment(session, "registry", registryPath, RegistrySegmentSize)
	if err != nil {
		_ = destroySegment(control)
		return nil, err
	}
	rings, err := createSegment(session, "rings", ringsPath, RingsSegmentSize)
	if err != nil {
		_ = destroySegment(registry)
		_ = destroySegment(control)
		return nil, err
	}

	return &segments{control: control, registry: registry, rings: rings}, nil
}

// attachSegments opens all three segments for an existing session, spin-
// waiting up to timeout for the control block to report initialized==1
// (spec §4.1).
func attachSegments(session SessionKey, timeout time.Duration) (*segments, error) {
	control, err := attachSegment(session, session.segmentPath("control"), ControlSegmentSize)
	if err != nil {
		return nil, err
	}
	registry, err := attachSegment(session, session.segmentPath("registry"), RegistrySegmentSize)
	if err != nil {
		_ = control.unmap()
		return nil, err
	}
	rings, err := attachSegment(session, session.segmentPath("rings"), RingsSegmentSize)
	if err != nil {
		_ = registry.unmap()
		_ = control.unmap()
		return nil, err
	}

	cb := mapControlBlock(control.bytes())
	if err := cb.verifyWireContract(); err != nil {
		_ = rings.unmap()
		_ = registry.unmap()
		_ = control.unmap()
		return nil, newFabricErrorFrom(session, controlPathErr(session), err)
	}

	deadline := time.Now().Add(timeout)
	sw := spin.Wait{}
	for !cb.isInitialized() {
		if time.Now().After(deadline) {
			_ = rings.unmap()
			_ = registry.unmap()
			_ = control.unmap()
			return nil, newFabricError(KindInitTimeout, session, session.segmentPath("control"), causeInitTimeout)
		}
		sw.Once()
		time.Sleep(time.Millisecond)
	}

	return &segments{control: control, registry: registry, rings: rings}, nil
}

func controlPathErr(session SessionKey) string { return session.segmentPath("control") }

// newFabricErrorFrom wraps a verifyWireContract error (already a
// *FabricError) with the segment path context if it lacks one.
func newFabricErrorFrom(session SessionKey, path string, err error) error {
	if fe, ok := err.(*FabricError); ok {
		if fe.Segment == "" {
			fe.Segment = path
		}
		return fe
	}
	return newFabricError(KindMagicMismatch, session, path, err)
}

// destroySegments unmaps and unlinks all three segments. Controller-only.
func destroySegments(s *segments) error {
	var firstErr error
	if err := destroySegment(s.rings); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := destroySegment(s.registry); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := destroySegment(s.control); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
