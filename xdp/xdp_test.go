// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xdp

import (
	"testing"

	"github.com/CESNET/ndk-sw-sub000/ndp"
)

func TestPagePoolRefillRequiresFullBurst(t *testing.T) {
	p := NewPagePool(BurstSize-1, 2048)
	if n := p.Refill(BurstSize); n != 0 {
		t.Fatalf("Refill with fewer than BurstSize free pages = %d, want 0", n)
	}
}

func TestPagePoolRefillAndReclaim(t *testing.T) {
	p := NewPagePool(BurstSize*2, 2048)
	n := p.Refill(BurstSize)
	if n != BurstSize {
		t.Fatalf("Refill = %d, want %d", n, BurstSize)
	}
	if got := len(p.free); got != BurstSize {
		t.Fatalf("free pages after refill = %d, want %d", got, BurstSize)
	}
	p.Reclaim([]uint64{0, 1, 2})
	if got := len(p.free); got != BurstSize+3 {
		t.Fatalf("free pages after reclaim = %d, want %d", got, BurstSize+3)
	}
}

func TestPagePoolDispatchDropReclaimsImmediately(t *testing.T) {
	p := NewPagePool(BurstSize, 2048)
	p.Refill(BurstSize)
	before := len(p.free)
	action, _ := p.Dispatch(Frame{Handle: 0}, func(Frame) Action { return Drop })
	if action != Drop {
		t.Fatalf("action = %v, want Drop", action)
	}
	if len(p.free) != before+1 {
		t.Fatalf("free pages after drop = %d, want %d", len(p.free), before+1)
	}
}

func TestPagePoolDispatchTxPadsShortFrame(t *testing.T) {
	p := NewPagePool(1, 2048)
	short := make([]byte, 40)
	for i := range short {
		short[i] = 0xAA
	}
	_, out := p.Dispatch(Frame{Handle: 0, Data: short}, func(Frame) Action { return Tx })
	if len(out.Data) != EthZlen {
		t.Fatalf("padded length = %d, want %d", len(out.Data), EthZlen)
	}
	for i := 0; i < 40; i++ {
		if out.Data[i] != 0xAA {
			t.Fatalf("byte %d = %#x, want original content preserved", i, out.Data[i])
		}
	}
	for i := 40; i < EthZlen; i++ {
		if out.Data[i] != 0 {
			t.Fatalf("pad byte %d = %#x, want 0", i, out.Data[i])
		}
	}
}

func TestPagePoolDispatchTxLeavesLongFrameUntouched(t *testing.T) {
	p := NewPagePool(1, 2048)
	long := make([]byte, 128)
	_, out := p.Dispatch(Frame{Handle: 0, Data: long}, func(Frame) Action { return Tx })
	if len(out.Data) != 128 {
		t.Fatalf("length = %d, want unchanged 128", len(out.Data))
	}
}

func TestXSKDispatchTxPadsShortFrame(t *testing.T) {
	x := NewXSK(1, 2048)
	short := make([]byte, 20)
	_, out := x.Dispatch(Frame{Handle: 0, Data: short}, func(Frame) Action { return Tx })
	if len(out.Data) != EthZlen {
		t.Fatalf("padded length = %d, want %d", len(out.Data), EthZlen)
	}
}

func TestXSKRefillAndCompletion(t *testing.T) {
	x := NewXSK(BurstSize*2, 2048)
	n := x.Refill(BurstSize)
	if n != BurstSize {
		t.Fatalf("Refill = %d, want %d", n, BurstSize)
	}
	x.Reclaim([]uint64{0, 2048})
	comp := x.Completions()
	if len(comp) != 2 {
		t.Fatalf("completions = %d, want 2", len(comp))
	}
	if got := x.Completions(); len(got) != 0 {
		t.Fatalf("completions should drain on read, got %d", len(got))
	}
}

type fakeChannel struct {
	stopped, started int
	failNextStart     bool
}

func (f *fakeChannel) Stop(force bool) error { f.stopped++; return nil }
func (f *fakeChannel) Start(sp ndp.StartParams) error {
	f.started++
	return nil
}

func TestSwitcherStopsAndRestartsOnModeChange(t *testing.T) {
	ch := &fakeChannel{}
	pp := NewPagePool(BurstSize, 2048)
	sw := NewSwitcher(ch, pp, ndp.StartParams{})

	xsk := NewXSK(BurstSize, 2048)
	if err := sw.SwitchTo(xsk); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	if ch.stopped != 1 || ch.started != 1 {
		t.Fatalf("stopped=%d started=%d, want 1,1", ch.stopped, ch.started)
	}
	if sw.Source().Mode() != ModeXSK {
		t.Fatalf("source mode = %v, want xsk", sw.Source().Mode())
	}
}

func TestSwitcherRejectsSameMode(t *testing.T) {
	ch := &fakeChannel{}
	pp := NewPagePool(BurstSize, 2048)
	sw := NewSwitcher(ch, pp, ndp.StartParams{})
	if err := sw.SwitchTo(NewPagePool(BurstSize, 2048)); err == nil {
		t.Fatal("expected error switching to the same mode")
	}
}
