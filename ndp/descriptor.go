// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ndp

// Wire formats, bit-exact with netcope/dma_ctrl_ndp.h's nc_ndp_desc,
// nc_ndp_hdr and nc_calypte_hdr packed structs. Every descriptor and header
// is a single little-endian 32- or 64-bit word; the layouts below pack and
// unpack those words by hand since Go has no bitfield syntax.

const (
	// DescTypeUpperAddr (type 0) carries the upper 34 bits of a DMA
	// address and must precede the first data descriptor after start and
	// any data descriptor whose upper address differs from the last one.
	DescTypeUpperAddr = 0
	// DescTypeData (type 2) is a normal RX/TX data descriptor.
	DescTypeData = 2
	// DescTypeDualAddr (type 3) is V1-only; not produced by this package.
	DescTypeDualAddr = 3

	// UpperAddrMask isolates the upper 34 bits of a physical address that
	// change together, requiring a fresh type-0 descriptor.
	UpperAddrMask = 0xFFFFFFFFc0000000

	// TxBlockSize is the V3/Calypte TX byte-accounting granularity.
	TxBlockSize = 32
	// RxBlockSize is the V3/Calypte RX slot size in bytes.
	RxBlockSize = 128
	// RxRefillBurst is the unit of V2 PACKET_SIMPLE RX refill.
	RxRefillBurst = 64
	// NextSdpAgeMax bounds how many no-progress USER-mode cycles elapse
	// before the driver forces a short flush to avoid deadlock.
	NextSdpAgeMax = 16
)

// UpperAddr returns the upper 34 address bits that must match between two
// data descriptors for no type-0 descriptor to be required between them.
func UpperAddr(phys uint64) uint64 {
	return phys & UpperAddrMask
}

// Desc0 builds a type-0 (upper-address) descriptor for phys.
func Desc0(phys uint64) uint64 {
	physLo := (phys >> 30) & 0xFFFFFFFF
	physHi := (phys >> 62) & 0x3
	return physLo | physHi<<32 | uint64(DescTypeUpperAddr)<<62
}

// Desc2 builds a type-2 (data) descriptor. next marks a multi-buffer
// continuation (more descriptors belong to the same frame).
func Desc2(phys uint64, length uint16, meta uint16, next bool) uint64 {
	var n uint64
	if next {
		n = 1
	}
	d := uint64(phys&0x3FFFFFFF)
	d |= uint64(length) << 32
	d |= uint64(meta&0xFFF) << 48
	d |= n << 61
	d |= uint64(DescTypeData) << 62
	return d
}

// DescType extracts the 2-bit type tag common to every descriptor layout.
func DescType(desc uint64) int {
	return int(desc >> 62 & 0x3)
}

// Desc2Fields unpacks a type-2 descriptor.
func Desc2Fields(desc uint64) (phys uint64, length uint16, meta uint16, next bool) {
	phys = desc & 0x3FFFFFFF
	length = uint16(desc >> 32 & 0xFFFF)
	meta = uint16(desc >> 48 & 0xFFF)
	next = desc>>61&1 != 0
	return
}

// HdrV2 is the Medusa RX header: {frame_len:16, hdr_len:8, meta:4, _:2, free_desc:2}.
type HdrV2 struct {
	FrameLen uint16
	HdrLen   uint8
	Meta     uint8
	FreeDesc uint8
}

// Encode packs h into its 32-bit wire form.
func (h HdrV2) Encode() uint32 {
	return uint32(h.FrameLen) | uint32(h.HdrLen)<<16 | uint32(h.Meta&0xF)<<24 | uint32(h.FreeDesc&0x3)<<30
}

// DecodeHdrV2 unpacks a 32-bit Medusa RX header word.
func DecodeHdrV2(w uint32) HdrV2 {
	return HdrV2{
		FrameLen: uint16(w & 0xFFFF),
		HdrLen:   uint8(w >> 16 & 0xFF),
		Meta:     uint8(w >> 24 & 0xF),
		FreeDesc: uint8(w >> 30 & 0x3),
	}
}

// HdrV3 is the Calypte RX header: {frame_len:16, frame_ptr:16, valid:1, _:7, metadata:24}.
type HdrV3 struct {
	FrameLen uint16
	FramePtr uint16
	Valid    bool
	Metadata uint32
}

// Encode packs h into its 64-bit wire form.
func (h HdrV3) Encode() uint64 {
	var v uint64
	if h.Valid {
		v = 1
	}
	return uint64(h.FrameLen) | uint64(h.FramePtr)<<16 | v<<32 | uint64(h.Metadata&0xFFFFFF)<<40
}

// DecodeHdrV3 unpacks a 64-bit Calypte RX header word.
func DecodeHdrV3(w uint64) HdrV3 {
	return HdrV3{
		FrameLen: uint16(w & 0xFFFF),
		FramePtr: uint16(w >> 16 & 0xFFFF),
		Valid:    w>>32&1 != 0,
		Metadata: uint32(w >> 40 & 0xFFFFFF),
	}
}

// TxHdrV2 is one Medusa TX header-ring entry: the producer publishes one of
// these per frame before advancing the channel's swptr, giving
// ndp_ctrl_medusa_tx_set_swptr the (offset, frame_len) pair it needs to
// locate the frame's bytes in the data ring and size its descriptor. Unlike
// HdrV2/HdrV3 it is never read by hardware: the host-only TX header ring
// exists purely so SetSwptr can recover per-frame boundaries from a single
// logical byte pointer.
type TxHdrV2 struct {
	Offset   uint32
	FrameLen uint16
	Meta     uint16
}

// Encode packs h into its 64-bit host-side wire form.
func (h TxHdrV2) Encode() uint64 {
	return uint64(h.Offset) | uint64(h.FrameLen)<<32 | uint64(h.Meta&0xFFF)<<48
}

// DecodeTxHdrV2 unpacks a 64-bit Medusa TX header word.
func DecodeTxHdrV2(w uint64) TxHdrV2 {
	return TxHdrV2{
		Offset:   uint32(w & 0xFFFFFFFF),
		FrameLen: uint16(w >> 32 & 0xFFFF),
		Meta:     uint16(w >> 48 & 0xFFF),
	}
}
