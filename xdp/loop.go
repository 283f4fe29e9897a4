// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xdp

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// RxTx is the narrow channel surface a background refill/drain loop
// needs: posting fresh RX buffers and reclaiming completed TX ones,
// without pulling in ndp.Channel's full sync/start/stop API.
type RxTx interface {
	// PendingTxCompletions returns TX buffer handles the hardware has
	// finished with since the last call.
	PendingTxCompletions() []uint64
	// FreeRxSlots reports how many RX buffers the ring currently has room
	// to accept.
	FreeRxSlots() int
}

// RunLoop runs one goroutine posting RX refills and one reclaiming TX
// completions, both under a single cancellable errgroup, replacing the
// kernel driver's per-channel napi poll thread and its
// ndp_kill_signal_pending check with errgroup's context cancellation.
func RunLoop(ctx context.Context, rt RxTx, src Source, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if n := rt.FreeRxSlots(); n >= BurstSize {
					src.Refill(n)
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if handles := rt.PendingTxCompletions(); len(handles) > 0 {
					src.Reclaim(handles)
				}
			}
		}
	})

	return g.Wait()
}
