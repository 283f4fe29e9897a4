// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xdp

import "sync"

// UMEMFrame is one fixed-size slot of an AF_XDP UMEM region: userspace
// memory shared directly with the NIC/FPGA so RX/TX incurs no copy,
// grounded on the fill/completion ring pair modeled in the AF_XDP socket
// reference adapter (UMEM/FillRing/CompRing).
type UMEMFrame struct {
	Addr uint64
	Len  uint32
}

// XSK is an AF_XDP-backed buffer source: a UMEM of fixed-size frames plus
// fill and completion rings, replacing PagePool when a consumer wants
// true zero-copy delivery into a userspace AF_XDP socket instead of the
// kernel networking stack, grounded on ctrl_xdp_xsk.c's
// nfb_xctrl_rx_fill_xsk / nfb_xctrl_tx_free_buffers(XSK) paths.
type XSK struct {
	mu sync.Mutex

	umem      []byte
	frameSize uint32

	fillRing       []uint64 // descriptors available for RX refill
	completionRing []uint64 // TX frames the NIC has finished with

	outstanding map[uint64]bool // frames currently posted to the card
}

// NewXSK builds a UMEM of frameCount frames of frameSize bytes, all
// initially queued on the fill ring.
func NewXSK(frameCount int, frameSize uint32) *XSK {
	x := &XSK{
		umem:        make([]byte, frameCount*int(frameSize)),
		frameSize:   frameSize,
		outstanding: make(map[uint64]bool),
	}
	for i := 0; i < frameCount; i++ {
		x.fillRing = append(x.fillRing, uint64(i)*uint64(frameSize))
	}
	return x
}

func (x *XSK) Mode() Mode { return ModeXSK }

// Refill pulls up to n descriptors from the fill ring for posting to the
// card's RX ring, mirroring nfb_xctrl_rx_fill_xsk's xsk_buff_alloc_batch
// call and its BurstSize gating.
func (x *XSK) Refill(n int) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.fillRing) < BurstSize || n < BurstSize {
		return 0
	}
	filled := 0
	for filled < n && len(x.fillRing) > 0 {
		addr := x.fillRing[0]
		x.fillRing = x.fillRing[1:]
		x.outstanding[addr] = true
		filled++
	}
	return filled
}

// Reclaim moves completed TX frame handles onto the completion ring so
// the userspace AF_XDP consumer can observe them and eventually recycle
// them back to the fill ring via Release.
func (x *XSK) Reclaim(handles []uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, h := range handles {
		if x.outstanding[h] {
			delete(x.outstanding, h)
			x.completionRing = append(x.completionRing, h)
		}
	}
}

// Release returns a frame the userspace socket consumer is done with
// (after reading a completion-ring entry) back to the fill ring.
func (x *XSK) Release(addr uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.fillRing = append(x.fillRing, addr)
}

// Completions drains and returns the completion ring.
func (x *XSK) Completions() []uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := x.completionRing
	x.completionRing = nil
	return out
}

// Dispatch applies verdict to frame and performs the corresponding
// bookkeeping, the UMEM/zero-copy counterpart of PagePool.Dispatch: Drop
// and Aborted release the frame back to the fill ring immediately, Tx pads
// it up to EthZlen in place before the caller resubmits it to the TX ring.
func (x *XSK) Dispatch(frame Frame, verdict Verdict) (Action, Frame) {
	action := verdict(frame)
	switch action {
	case Drop, Aborted:
		x.Release(frame.Handle)
	case Tx:
		frame.Data = x.padInPlace(frame.Handle, frame.Data)
	}
	return action, frame
}

// padInPlace zero-fills data up to EthZlen bytes within the UMEM frame at
// addr and returns the (possibly extended) slice. It is a no-op if the
// frame is already long enough or the slot is too small to hold EthZlen
// bytes.
func (x *XSK) padInPlace(addr uint64, data []byte) []byte {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(data) >= EthZlen || uint64(EthZlen) > uint64(x.frameSize) {
		return data
	}
	if addr+uint64(x.frameSize) > uint64(len(x.umem)) {
		return data
	}
	n := len(data)
	out := x.umem[addr : addr+EthZlen]
	copy(out, data)
	for i := n; i < EthZlen; i++ {
		out[i] = 0
	}
	return out
}

// Frame returns the UMEM-backed slice at addr, length len.
func (x *XSK) Frame(addr uint64, length uint32) []byte {
	x.mu.Lock()
	defer x.mu.Unlock()
	if addr+uint64(length) > uint64(len(x.umem)) {
		return nil
	}
	return x.umem[addr : addr+uint64(length)]
}
