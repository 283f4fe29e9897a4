// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package xdp adapts an ndp RX/TX channel pair to the two buffer-source
// modes the NFB XDP driver supports: a kernel page-pool (one mapped page
// per frame, recycled through Verdict) and an AF_XDP (XSK) userspace ring
// pair, grounded on ctrl_xdp_pp.c and ctrl_xdp_xsk.c respectively.
package xdp

import "fmt"

// Action is the disposition an XDP program assigns a received frame,
// mirroring the XDP_* verdicts consumed by nfb_xctrl_tx_submit_frame.
type Action int

const (
	// Pass hands the frame to the normal networking stack.
	Pass Action = iota
	// Drop discards the frame without transmitting it.
	Drop
	// Tx retransmits the frame out the same channel's TX ring.
	Tx
	// Redirect hands the frame to another interface or an AF_XDP socket.
	Redirect
	// Aborted indicates the program itself errored; treated as Drop plus
	// a counted fault.
	Aborted
)

func (a Action) String() string {
	switch a {
	case Pass:
		return "pass"
	case Drop:
		return "drop"
	case Tx:
		return "tx"
	case Redirect:
		return "redirect"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Frame is one RX frame as handed to a verdict function: a view into the
// buffer source's backing memory plus the metadata needed to recycle or
// retransmit it.
type Frame struct {
	Data []byte
	// Handle is buffer-source-private bookkeeping (a page index in the
	// pp source, a UMEM frame address in the xsk source) needed by
	// Source.Reclaim.
	Handle uint64
}

// Verdict is the caller-supplied classifier invoked once per received
// frame, standing in for a loaded eBPF/XDP program.
type Verdict func(f Frame) Action

// Source is the common interface PagePool and XSK implement: a
// burst-oriented RX buffer supplier and TX buffer reclaimer sitting
// between an ndp.Subscription and a Verdict.
type Source interface {
	// Refill tops up the RX ring with up to n fresh buffers, returning the
	// number actually posted (may be less if the source is exhausted).
	Refill(n int) int
	// Reclaim returns completed TX buffers to the source's free pool.
	Reclaim(handles []uint64)
	// Mode reports which buffer-source mode this is, for sysfs-style
	// introspection and mode-switch decisions.
	Mode() Mode
}

// EthZlen is the minimum Ethernet frame length the wire enforces; a short
// Tx verdict must be zero-padded up to this length in place before
// retransmission, mirroring nfb_xctrl_tx_submit_frame's ETH_ZLEN check.
const EthZlen = 60

// Mode is the buffer-source mode a channel is currently configured for.
type Mode int

const (
	// ModePagePool is the default kernel-page-pool-backed mode.
	ModePagePool Mode = iota
	// ModeXSK is the AF_XDP socket-backed zero-copy mode.
	ModeXSK
)

func (m Mode) String() string {
	if m == ModeXSK {
		return "xsk"
	}
	return "page_pool"
}
