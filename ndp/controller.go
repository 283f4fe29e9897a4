// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ndp

// Direction is RX or TX, the second component of a channel's identity
// after its index (ndp_channel_id in ndp.h).
type Direction int

const (
	// RX is a receive channel: HW produces, SW consumes.
	RX Direction = iota
	// TX is a transmit channel: SW produces, HW consumes.
	TX
)

func (d Direction) String() string {
	if d == TX {
		return "tx"
	}
	return "rx"
}

// Flags is the per-channel negotiated bit set (NDP_CHANNEL_FLAG_* in the
// original kernel header).
type Flags uint64

const (
	// FlagDiscard drops RX frames instead of stalling when full.
	FlagDiscard Flags = 1 << iota
	// FlagExclusive allows at most one subscription on the channel.
	FlagExclusive
	// FlagUserspace marks a V3 TX ring as userspace-driven rather than
	// kernel-driven.
	FlagUserspace
	// FlagUseHeader advertises a header ring to consumers.
	FlagUseHeader
	// FlagUseOffset advertises an offset ring to consumers.
	FlagUseOffset
)

// RxMode selects the V2/Medusa RX operating mode.
type RxMode int

const (
	// PacketSimple is the default 1:1 descriptor/header RX mode.
	PacketSimple RxMode = iota
	// Stream computes offsets from rolling frame-length sums; present in
	// the original firmware but not exercised by any current consumer —
	// see SPEC_FULL.md's Open Question resolution.
	Stream
	// User lets userspace itself write offsets and headers.
	User
)

// StartParams carries the sizes a Controller needs to arm itself, mirroring
// nc_ndp_ctrl_start_params. V2/Medusa controllers allocate their own
// descriptor/header/update-buffer Resources from NbDesc/NbHdr (see
// MedusaRX.Start and MedusaTX.Start); DataBuffer/HdrBuffer remain caller-supplied
// physical addresses for V3/Calypte RX, which drives the channel's own data
// ring directly instead of through a host-owned descriptor ring.
type StartParams struct {
	DataBuffer uint64 // physical address of the data ring (V3 RX)
	HdrBuffer  uint64 // physical address of the header ring (V3 RX)
	NbData     uint32
	NbDesc     uint32
	NbHdr      uint32
	// BufferSize is the V2 PACKET_SIMPLE per-buffer size; zero defaults to
	// defaultBufferSize.
	BufferSize uint32
}

// Controller is the per-generation, per-direction driver for one queue's
// DMA ring machinery: descriptor programming, pointer dance, start/stop.
// The source's per-controller vtable (ndp_channel_ops) becomes this
// interface with four concrete implementations (MedusaRX, MedusaTX,
// CalypteRX, CalypteTX), matching the "Deep inheritance of controllers"
// design note: Channel dispatches through this interface once per
// sync/start/stop, never per packet.
type Controller interface {
	Direction() Direction
	// Start arms the controller and returns the initial hardware pointer.
	Start(sp StartParams) (hwptr uint64, err error)
	// Stop quiesces the controller. It returns errs.Again/errs.InProgress
	// while a non-forced stop is still draining, and errs.Dirty if a
	// forced stop had to abandon in-flight data.
	Stop(force bool) error
	// GetHwptr returns the current hardware-side logical pointer
	// (byte-addressed, modulo the ring size).
	GetHwptr() uint64
	// SetSwptr publishes the software-side logical pointer to hardware.
	SetSwptr(ptr uint64)
	GetFlags() Flags
	SetFlags(req Flags) Flags
	// GetFreeSpace reports byte-granularity free space where the
	// generation tracks it (V3 TX); ok is false otherwise.
	GetFreeSpace() (free uint64, ok bool)
	// PtrMask is the controller's descriptor-pointer wraparound mask (MDP),
	// not the byte-space ring mask.
	PtrMask() uint64
	// Counters reports the hardware sent/received and discarded packet
	// counters.
	Counters() (processed, discarded uint64)
	// FrameSizeRange reports frame_size_min/frame_size_max. The Medusa and
	// Calypte controllers in this package do not read the controller's
	// params FDT subnode and always return an errs.NoDevice error.
	FrameSizeRange() (min, max uint32, err error)
}

// maskedSub computes (a-b) mod (mask+1), the wrapping arithmetic used
// throughout the pointer space.
func maskedSub(a, b, mask uint64) uint64 {
	return (a - b) & mask
}
