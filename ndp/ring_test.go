// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ndp

import (
	"bytes"
	"testing"
)

func TestShadowMappingIsLinearAcrossWrap(t *testing.T) {
	r, err := AllocRing(4, pageSize)
	if err != nil {
		t.Skipf("ring allocation unavailable in this environment: %v", err)
	}
	defer r.Close()

	// Write a recognizable pattern into the first half (the logical
	// [0,S) region) and verify the second half mirrors it exactly, the
	// double-mapping invariant the RX/TX data path depends on for
	// wraparound reads.
	view := r.View()
	pattern := bytes.Repeat([]byte{0xA5}, r.Size)
	copy(view[:r.Size], pattern)
	if !bytes.Equal(view[r.Size:2*r.Size], pattern) {
		t.Fatal("second half of shadow view does not mirror the first")
	}

	// A window straddling the wrap point must read linearly.
	off := r.Size - 16
	w, err := r.Window(off, 32)
	if err != nil {
		t.Fatal(err)
	}
	if len(w) != 32 {
		t.Fatalf("got window length %d, want 32", len(w))
	}
}

func TestAllocRingRejectsNonPow2(t *testing.T) {
	if _, err := AllocRing(3, pageSize); err == nil {
		t.Fatal("expected error for non-power-of-two ring size")
	}
}

func TestAllocRingRejectsBadBlockSize(t *testing.T) {
	if _, err := AllocRing(4, 100); err == nil {
		t.Fatal("expected error for block size not a multiple of the page size")
	}
}
