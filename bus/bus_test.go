// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bus

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/CESNET/ndk-sw-sub000/errs"
)

func TestReadWriteUint32(t *testing.T) {
	b := NewFake(64, Uncacheable, binary.LittleEndian)
	if err := b.WriteUint32(0x10, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	got, err := b.ReadUint32(0x10)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("got 0x%x, want 0xdeadbeef", got)
	}
}

func TestReadWriteUint64(t *testing.T) {
	b := NewFake(64, Uncacheable, binary.LittleEndian)
	want := uint64(0x1122334455667788)
	if err := b.WriteUint64(0x40, want); err != nil {
		t.Fatal(err)
	}
	if got, err := b.ReadUint64(0x40); err != nil || got != want {
		t.Fatalf("got 0x%x, %v; want 0x%x", got, err, want)
	}
}

func TestOutOfRange(t *testing.T) {
	b := NewFake(16, Uncacheable, binary.LittleEndian)
	if _, err := b.ReadUint32(14); !errors.Is(err, errs.InvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestWriteCombiningFences(t *testing.T) {
	b := NewFake(16, WriteCombining, binary.LittleEndian)
	fm := b.m.(*fakeMapping)
	if err := b.WriteUint32(0, 1); err != nil {
		t.Fatal(err)
	}
	if fm.fences != 1 {
		t.Fatalf("expected one fence on a WC write, got %d", fm.fences)
	}
	if err := b.WriteUint8(4, 1); err == nil {
		// A byte write on this WriteCombining bus fences as well.
	}
}

func TestCopyRoundTrip(t *testing.T) {
	b := NewFake(32, Uncacheable, binary.LittleEndian)
	src := []byte{1, 2, 3, 4, 5, 6, 7}
	if _, err := b.CopyTo(8, src); err != nil {
		t.Fatal(err)
	}
	dst := make([]byte, len(src))
	if _, err := b.Copy(dst, 8); err != nil {
		t.Fatal(err)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("byte %d: got %d, want %d", i, dst[i], src[i])
		}
	}
}

func TestParseResource(t *testing.T) {
	r, err := ParseResource("PCI0,BAR2")
	if err != nil {
		t.Fatal(err)
	}
	if r.PCIIndex != 0 || r.BAR != 2 {
		t.Fatalf("got %+v", r)
	}
	if _, err := ParseResource("garbage"); !errors.Is(err, errs.BadFormat) {
		t.Fatalf("expected BadFormat, got %v", err)
	}
}
