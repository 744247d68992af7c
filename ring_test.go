// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import "testing"

func TestRingAppendDrainRoundTrip(t *testing.T) {
	r := NewRing(64)

	payloads := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	for _, p := range payloads {
		if err := r.Append(RecordKindIndex, p); err != nil {
			t.Fatalf("Append(%q) = %v", p, err)
		}
	}

	var got [][]byte
	n := r.Drain(0, func(kind RecordKind, payload []byte) {
		if kind != RecordKindIndex {
			t.Errorf("kind = %v, want RecordKindIndex", kind)
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)
		got = append(got, cp)
	})
	if n != len(payloads) {
		t.Fatalf("Drain visited %d records, want %d", n, len(payloads))
	}
	for i, p := range payloads {
		if string(got[i]) != string(p) {
			t.Errorf("record %d = %q, want %q", i, got[i], p)
		}
	}
	if !r.Empty() {
		t.Errorf("ring not empty after draining everything")
	}
}

func TestRingAppendFullReturnsWouldBlock(t *testing.T) {
	r := NewRing(16)
	var err error
	for i := 0; i < 1000 && err == nil; i++ {
		err = r.Append(RecordKindIndex, []byte("x"))
	}
	if !IsWouldBlock(err) {
		t.Fatalf("Append on full ring = %v, want ErrWouldBlock", err)
	}
}

func TestRingWrapAroundPreservesOrder(t *testing.T) {
	r := NewRing(32)
	const total = 50
	var written, read int

	for written < total {
		if err := r.Append(RecordKindIndex, []byte{byte(written)}); err != nil {
			if !IsWouldBlock(err) {
				t.Fatalf("Append: %v", err)
			}
			n := r.Drain(0, func(kind RecordKind, payload []byte) {
				if int(payload[0]) != read {
					t.Fatalf("out of order: got %d, want %d", payload[0], read)
				}
				read++
			})
			if n == 0 {
				t.Fatalf("ring full but nothing to drain")
			}
			continue
		}
		written++
	}
	r.Drain(0, func(kind RecordKind, payload []byte) {
		if int(payload[0]) != read {
			t.Fatalf("out of order: got %d, want %d", payload[0], read)
		}
		read++
	})
	if read != total {
		t.Fatalf("read %d records, want %d", read, total)
	}
}

func TestRingDropOldestAdvancesReadPos(t *testing.T) {
	r := NewRing(32)
	if r.dropOldest() {
		t.Fatalf("dropOldest on empty ring returned true")
	}
	if err := r.Append(RecordKindIndex, []byte("one")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := r.Append(RecordKindIndex, []byte("two")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !r.dropOldest() {
		t.Fatalf("dropOldest() = false, want true")
	}
	if got := r.DroppedCount(); got != 1 {
		t.Fatalf("DroppedCount() = %d, want 1", got)
	}
	var remaining [][]byte
	r.Drain(0, func(kind RecordKind, payload []byte) {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		remaining = append(remaining, cp)
	})
	if len(remaining) != 1 || string(remaining[0]) != "two" {
		t.Fatalf("remaining = %v, want [two]", remaining)
	}
}

func TestRingResetClearsState(t *testing.T) {
	r := NewRing(32)
	_ = r.Append(RecordKindIndex, []byte("x"))
	r.dropOldest()
	r.reset()
	if !r.Empty() {
		t.Errorf("ring not empty after reset")
	}
	if r.DroppedCount() != 0 {
		t.Errorf("DroppedCount() = %d after reset, want 0", r.DroppedCount())
	}
}
