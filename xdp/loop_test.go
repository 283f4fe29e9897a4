// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xdp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRxTx struct {
	free        int32
	completions []uint64
}

func (f *fakeRxTx) FreeRxSlots() int { return int(atomic.LoadInt32(&f.free)) }
func (f *fakeRxTx) PendingTxCompletions() []uint64 {
	out := f.completions
	f.completions = nil
	return out
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	rt := &fakeRxTx{free: BurstSize, completions: []uint64{1, 2}}
	src := NewPagePool(BurstSize*2, 2048)
	src.Refill(BurstSize) // leave some pages in flight for Reclaim to return

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunLoop(ctx, rt, src, time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context.Canceled, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("RunLoop did not stop after cancel")
	}
}
