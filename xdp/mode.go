// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xdp

import (
	"fmt"
	"sync"

	"github.com/CESNET/ndk-sw-sub000/errs"
	"github.com/CESNET/ndk-sw-sub000/ndp"
)

// Channel is the narrow slice of *ndp.Subscription a mode switch needs:
// stop the DMA engine, swap buffer sources, then restart it, mirroring
// nfb_xdp's ndo_bpf handling of XDP_SETUP_XSK_POOL (the driver always
// stops the channel before changing its buffer-source wiring; there is
// no live handoff).
type Channel interface {
	Stop(force bool) error
	Start(sp ndp.StartParams) error
}

// Switcher owns one channel's current buffer Source and mediates
// switching it between page-pool and AF_XDP-socket mode.
type Switcher struct {
	mu      sync.Mutex
	channel Channel
	source  Source
	params  ndp.StartParams
}

// NewSwitcher starts out in src's mode (page-pool for a PagePool) with src
// as the initial source.
func NewSwitcher(ch Channel, src Source, sp ndp.StartParams) *Switcher {
	return &Switcher{channel: ch, source: src, params: sp}
}

// Source returns the currently active buffer source.
func (s *Switcher) Source() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// SwitchTo stops the channel, installs next as the active source, and
// restarts the channel. A failed restart leaves the channel stopped
// rather than silently reverting, since the original driver has no
// defined rollback for a failed nfb_xdp either.
func (s *Switcher) SwitchTo(next Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next.Mode() == s.source.Mode() {
		return fmt.Errorf("ndp: xdp: channel already in %s mode: %w", next.Mode(), errs.InvalidArgument)
	}
	if err := s.channel.Stop(true); err != nil {
		return fmt.Errorf("ndp: xdp: stop before mode switch: %w", err)
	}
	s.source = next
	if err := s.channel.Start(s.params); err != nil {
		return fmt.Errorf("ndp: xdp: restart after mode switch: %w", err)
	}
	return nil
}
