// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xdp

import "sync"

// BurstSize is the refill batch NFB_XDP_CTRL_PACKET_BURST used in
// nfb_xctrl_rx_fill_pp: buffers are only posted to the descriptor ring
// once this many are free, to amortize the upper-address-crossing check
// over a whole batch instead of paying it per packet.
const BurstSize = 64

// page is one page-pool-backed RX buffer.
type page struct {
	buf    []byte
	inUse  bool
	handle uint64
}

// PagePool is a host-side stand-in for the kernel page_pool API: a fixed
// set of frame-sized buffers recycled between RX refill and TX/Verdict
// completion, grounded on ctrl_xdp_pp.c's nfb_xctrl_rx_fill_pp and
// nfb_xctrl_tx_free_buffers(..., type == NFB_XCTRL_BUFF_FRAME_PP).
type PagePool struct {
	mu     sync.Mutex
	pages  []*page
	free   []int
	frameSize int
}

// NewPagePool allocates count buffers of frameSize bytes, all initially
// free.
func NewPagePool(count, frameSize int) *PagePool {
	p := &PagePool{pages: make([]*page, count), frameSize: frameSize}
	for i := range p.pages {
		p.pages[i] = &page{buf: make([]byte, frameSize), handle: uint64(i)}
		p.free = append(p.free, i)
	}
	return p
}

func (p *PagePool) Mode() Mode { return ModePagePool }

// Refill posts up to n free pages for RX, returning how many were
// actually available — mirroring nfb_xctrl_rx_fill_pp's early return of 0
// when fewer than BurstSize buffers or descriptors are free.
func (p *PagePool) Refill(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < BurstSize || n < BurstSize {
		return 0
	}
	filled := 0
	for filled < n && len(p.free) > 0 {
		idx := p.free[0]
		p.free = p.free[1:]
		p.pages[idx].inUse = true
		filled++
	}
	return filled
}

// Reclaim returns the named handles (page indices) to the free list,
// equivalent to page_pool_put_full_page on TX completion.
func (p *PagePool) Reclaim(handles []uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range handles {
		idx := int(h)
		if idx < 0 || idx >= len(p.pages) || !p.pages[idx].inUse {
			continue
		}
		p.pages[idx].inUse = false
		p.free = append(p.free, idx)
	}
}

// Buffer returns the backing slice for handle, for a Verdict function
// that wants to read or mutate the frame in place.
func (p *PagePool) Buffer(handle uint64) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := int(handle)
	if idx < 0 || idx >= len(p.pages) {
		return nil
	}
	return p.pages[idx].buf
}

// Dispatch applies verdict to frame and performs the corresponding
// bookkeeping: Drop and Aborted return the page to the free pool
// immediately (xdp_return_buff); Pass and Redirect leave it outstanding
// until the caller later calls Reclaim; Tx pads the frame up to EthZlen in
// place — XDP_TX never leaves the originating page, it's remapped
// straight onto the TX ring, so the pad has to happen here rather than at
// submission — and leaves it outstanding pending the channel's own TX
// completion pass, matching nfb_xctrl_tx_submit_frame_needs_lock's pp=true
// path which defers the free to nfb_xctrl_tx_free_buffers. Dispatch
// returns the Frame actually queued, data grown in place when padded.
func (p *PagePool) Dispatch(frame Frame, verdict Verdict) (Action, Frame) {
	action := verdict(frame)
	switch action {
	case Drop, Aborted:
		p.Reclaim([]uint64{frame.Handle})
	case Tx:
		frame.Data = p.padInPlace(frame.Handle, frame.Data)
	}
	return action, frame
}

// padInPlace zero-fills data up to EthZlen bytes within handle's backing
// page and returns the (possibly extended) slice. It is a no-op if the
// frame is already long enough or the page is too small to hold EthZlen
// bytes.
func (p *PagePool) padInPlace(handle uint64, data []byte) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := int(handle)
	if idx < 0 || idx >= len(p.pages) {
		return data
	}
	buf := p.pages[idx].buf
	if len(data) >= EthZlen || len(buf) < EthZlen {
		return data
	}
	n := len(data)
	out := buf[:EthZlen]
	copy(out, data)
	for i := n; i < EthZlen; i++ {
		out[i] = 0
	}
	return out
}
