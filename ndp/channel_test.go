// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ndp

import "testing"

// fakeController is a minimal in-memory Controller used to drive Channel's
// rxsync/txsync state machines without real hardware.
type fakeController struct {
	dir       Direction
	hwptr     uint64
	swptr     uint64
	mask      uint64
	flags     Flags
	freeSpace uint64
	hasFree   bool
	started   bool
}

func (f *fakeController) Direction() Direction { return f.dir }
func (f *fakeController) Start(sp StartParams) (uint64, error) {
	f.started = true
	return f.hwptr, nil
}
func (f *fakeController) Stop(force bool) error { f.started = false; return nil }
func (f *fakeController) GetHwptr() uint64      { return f.hwptr }
func (f *fakeController) SetSwptr(ptr uint64)   { f.swptr = ptr }
func (f *fakeController) GetFlags() Flags       { return f.flags }
func (f *fakeController) SetFlags(req Flags) Flags {
	f.flags = req
	return f.flags
}
func (f *fakeController) GetFreeSpace() (uint64, bool)        { return f.freeSpace, f.hasFree }
func (f *fakeController) PtrMask() uint64                     { return f.mask }
func (f *fakeController) Counters() (uint64, uint64)          { return 0, 0 }
func (f *fakeController) FrameSizeRange() (uint32, uint32, error) { return 64, 9000, nil }

func newTestRing(t *testing.T, size int) *RingBuffer {
	t.Helper()
	return &RingBuffer{Size: size, BlockSize: size}
}

func TestChannelRxsyncFarthestBehindSubscriber(t *testing.T) {
	ctrl := &fakeController{dir: RX, mask: 0xFF, hwptr: 0x80}
	ch := NewChannel(RX, 0, ctrl, newTestRing(t, 0x100))

	s1 := NewSubscription()
	s2 := NewSubscription()
	if _, err := s1.Attach(ch, 0); err != nil {
		t.Fatalf("attach s1: %v", err)
	}
	if _, err := s2.Attach(ch, 0); err != nil {
		t.Fatalf("attach s2: %v", err)
	}
	if err := s1.Start(StartParams{}); err != nil {
		t.Fatalf("start s1: %v", err)
	}
	if err := s2.Start(StartParams{}); err != nil {
		t.Fatalf("start s2: %v", err)
	}

	// s1 has consumed up to 0x10, s2 up to 0x40: s1 is farther behind, so
	// the channel must only flush as far as s1's swptr (0x10), never past
	// it, even though s2 asks to sync further.
	if _, err := s1.Sync(SyncArgs{Swptr: 0x10}); err != nil {
		t.Fatalf("sync s1: %v", err)
	}
	if _, err := s2.Sync(SyncArgs{Swptr: 0x40}); err != nil {
		t.Fatalf("sync s2: %v", err)
	}

	if ctrl.swptr != 0x10 {
		t.Fatalf("controller swptr = %#x, want 0x10 (farthest-behind subscriber)", ctrl.swptr)
	}
}

func TestChannelTxsyncExclusiveOwnership(t *testing.T) {
	ctrl := &fakeController{dir: TX, mask: 0xFF, hwptr: 0x00}
	ch := NewChannel(TX, 0, ctrl, newTestRing(t, 0x100))

	s1 := NewSubscription()
	s2 := NewSubscription()
	if _, err := s1.Attach(ch, 0); err != nil {
		t.Fatalf("attach s1: %v", err)
	}
	if _, err := s2.Attach(ch, 0); err != nil {
		t.Fatalf("attach s2: %v", err)
	}
	if err := s1.Start(StartParams{}); err != nil {
		t.Fatalf("start s1: %v", err)
	}
	if err := s2.Start(StartParams{}); err != nil {
		t.Fatalf("start s2: %v", err)
	}

	// s1 requests to publish 0x10 bytes: it should acquire the lock and be
	// granted length up to chlen.
	out1, err := s1.Sync(SyncArgs{Swptr: 0x10, Hwptr: 0x00})
	if err != nil {
		t.Fatalf("sync s1: %v", err)
	}
	if out1.Swptr == 0 {
		t.Fatalf("s1 expected to be granted the TX lock and some length, got swptr=%#x", out1.Swptr)
	}

	// While s1 holds the lock, s2 must be told to stay put (no forward
	// progress) rather than interleave writes into the same region.
	out2, err := s2.Sync(SyncArgs{Swptr: 0x10, Hwptr: 0x00})
	if err != nil {
		t.Fatalf("sync s2: %v", err)
	}
	if out2.Swptr != out2.Hwptr {
		t.Fatalf("s2 expected to be held back (swptr==hwptr) while s1 holds the lock, got swptr=%#x hwptr=%#x", out2.Swptr, out2.Hwptr)
	}
}

func TestChannelStartStopLifecycle(t *testing.T) {
	ctrl := &fakeController{dir: RX, mask: 0xFF, hwptr: 0}
	ch := NewChannel(RX, 0, ctrl, newTestRing(t, 0x100))

	s := NewSubscription()
	if _, err := s.Attach(ch, 0); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := s.Start(StartParams{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !ctrl.started {
		t.Fatal("expected controller to be started")
	}
	if err := s.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if ctrl.started {
		t.Fatal("expected controller to be stopped")
	}
	if err := s.Detach(); err != nil {
		t.Fatalf("detach: %v", err)
	}
}

func TestChannelSubscribeExclusiveRejectsSecond(t *testing.T) {
	ctrl := &fakeController{dir: RX, mask: 0xFF}
	ch := NewChannel(RX, 0, ctrl, newTestRing(t, 0x100))

	s1 := NewSubscription()
	if _, err := s1.Attach(ch, FlagExclusive); err != nil {
		t.Fatalf("attach s1: %v", err)
	}
	s2 := NewSubscription()
	if _, err := s2.Attach(ch, 0); err == nil {
		t.Fatal("expected second subscription to be rejected while exclusive is held")
	}
}
