// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ndp

import "testing"

func TestDesc2RoundTrip(t *testing.T) {
	phys := uint64(0x3FFFFFFF)
	d := Desc2(phys, 1500, 7, true)
	if DescType(d) != DescTypeData {
		t.Fatalf("got type %d, want %d", DescType(d), DescTypeData)
	}
	gotPhys, gotLen, gotMeta, gotNext := Desc2Fields(d)
	if gotPhys != phys || gotLen != 1500 || gotMeta != 7 || !gotNext {
		t.Fatalf("got (%x,%d,%d,%v)", gotPhys, gotLen, gotMeta, gotNext)
	}
}

func TestDesc0Type(t *testing.T) {
	d := Desc0(0x100000000)
	if DescType(d) != DescTypeUpperAddr {
		t.Fatalf("got type %d, want 0", DescType(d))
	}
}

// emitStream reproduces the driver's type-0 insertion rule: exactly one
// type-0 before the first data descriptor, and one more whenever the upper
// address changes relative to the previous data descriptor.
func emitStream(addrs []uint64) []uint64 {
	var stream []uint64
	last := ^uint64(0) // impossible sentinel, as last_upper_addr is initialized.
	for _, a := range addrs {
		if UpperAddr(a) != last {
			stream = append(stream, Desc0(a))
			last = UpperAddr(a)
		}
		stream = append(stream, Desc2(a&0x3FFFFFFF, 64, 0, false))
	}
	return stream
}

func TestType0InsertionRule(t *testing.T) {
	const boundary = 1 << 30
	addrs := []uint64{0x10, boundary + 0x10}
	stream := emitStream(addrs)
	wantTypes := []int{DescTypeUpperAddr, DescTypeData, DescTypeUpperAddr, DescTypeData}
	if len(stream) != len(wantTypes) {
		t.Fatalf("got %d descriptors, want %d", len(stream), len(wantTypes))
	}
	for i, d := range stream {
		if DescType(d) != wantTypes[i] {
			t.Fatalf("descriptor %d: got type %d, want %d", i, DescType(d), wantTypes[i])
		}
	}
}

func TestType0NotRepeatedWithinSameUpperAddr(t *testing.T) {
	addrs := []uint64{0x10, 0x20, 0x30}
	stream := emitStream(addrs)
	count := 0
	for _, d := range stream {
		if DescType(d) == DescTypeUpperAddr {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("got %d type-0 descriptors for addresses sharing an upper page, want 1", count)
	}
}

func TestHdrV2RoundTrip(t *testing.T) {
	h := HdrV2{FrameLen: 1514, HdrLen: 0, Meta: 3, FreeDesc: 2}
	got := DecodeHdrV2(h.Encode())
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestHdrV3RoundTrip(t *testing.T) {
	h := HdrV3{FrameLen: 64, FramePtr: 128, Valid: true, Metadata: 0xabcdef}
	got := DecodeHdrV3(h.Encode())
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}
