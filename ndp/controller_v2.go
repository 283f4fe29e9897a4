// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ndp

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/CESNET/ndk-sw-sub000/comp"
	"github.com/CESNET/ndk-sw-sub000/errs"
)

// Register offsets common to V2/Medusa and V3/Calypte controllers,
// bit-exact with netcope/dma_ctrl_ndp.h.
const (
	regControl    = 0x00
	regStatus     = 0x04
	regSDP        = 0x10
	regSHP        = 0x14
	regHDP        = 0x18
	regHHP        = 0x1C
	regTimeout    = 0x20
	regDescBase   = 0x40
	regHdrBase    = 0x48
	regUpdateBase = 0x50
	regMDP        = 0x58
	regMHP        = 0x5C
	regCntrSent   = 0x60
	regCntrRecv   = 0x60
	regCntrDisc   = 0x70

	controlStop   = 0x0
	controlStart  = 0x1
	statusRunning = 0x1

	lockFeatureDmaCtrl = 1

	// defaultBufferSize is used when StartParams.BufferSize is left zero.
	defaultBufferSize = 4096

	// txFreeDescWaitIters/txFreeDescWaitStep bound MedusaTX.SetSwptr's
	// busy-wait for reclaimed descriptor space. The original driver blocks
	// the producing thread until it observes free_desc>=1 or a kill signal
	// arrives; this package has no cancellation hook on Controller.SetSwptr
	// (see DESIGN.md), so the wait is bounded instead of infinite.
	txFreeDescWaitIters = 1000
	txFreeDescWaitStep  = time.Microsecond
)

// ringBinder is implemented by controllers that need a handle to the
// channel's data RingBuffer to resolve buffer physical addresses (V2/Medusa
// RX refill and TX descriptor emission both address buffers within it).
// Device.OpenChannel binds it after allocating the ring.
type ringBinder interface {
	bindRing(r *RingBuffer)
}

// medusaBase holds the fields and register protocol shared by MedusaRX and
// MedusaTX, mirroring the common part of struct nc_ndp_ctrl plus
// nc_ndp_ctrl_start/_nc_ndp_ctrl_stop in dma_ctrl_ndp.h.
type medusaBase struct {
	c   *comp.Comp
	dir Direction

	lastUpperAddr uint64
	mdp, mhp      uint32
	sdp, hdp      uint32
	shp, hhp      uint32
	updateBuf     []uint32
	descRing      []uint64 // this controller's own descriptor ring
	flags         Flags
	ring          *RingBuffer // the channel's data ring; bound by Device.OpenChannel

	rxMode RxMode
}

func (m *medusaBase) bindRing(r *RingBuffer) { m.ring = r }

func (m *medusaBase) Direction() Direction { return m.dir }

func (m *medusaBase) PtrMask() uint64 {
	return uint64(m.mdp)
}

func (m *medusaBase) GetFlags() Flags { return m.flags }

func (m *medusaBase) SetFlags(req Flags) Flags {
	m.flags = req
	return m.flags
}

func (m *medusaBase) Counters() (processed, discarded uint64) {
	sent, _ := m.c.Read64(regCntrSent)
	disc, _ := m.c.Read64(regCntrDisc)
	return sent, disc
}

func (m *medusaBase) FrameSizeRange() (min, max uint32, err error) {
	return 0, 0, fmt.Errorf("ndp: frame size range must be read from the fdt params node: %w", errs.NoDevice)
}

func (m *medusaBase) hdpUpdate() {
	// rmb: the update buffer is written by HW; an atomic load is a
	// portable stand-in for the kernel's explicit rmb().
	_ = atomic.LoadUint32(&fenceCounter)
	if len(m.updateBuf) < 1 {
		return
	}
	m.hdp = m.updateBuf[0] & m.mdp
}

func (m *medusaBase) hhpUpdate() {
	_ = atomic.LoadUint32(&fenceCounter)
	if len(m.updateBuf) < 2 {
		return
	}
	m.hhp = m.updateBuf[1] & m.mhp
}

var fenceCounter uint32

func (m *medusaBase) spFlush() {
	atomic.AddUint32(&fenceCounter, 1) // wmb
	m.c.Write64(regSDP, uint64(m.sdp)|uint64(m.shp)<<32)
}

// bufPhys resolves the physical address of the channel data ring's byte at
// logical offset off, or 0 if the ring isn't bound or its physical
// addresses couldn't be resolved (best-effort, see RingBuffer/PhysContiguous).
func (m *medusaBase) bufPhys(off int) uint64 {
	if m.ring == nil || m.ring.BlockSize == 0 {
		return 0
	}
	blk := off / m.ring.BlockSize
	if blk < 0 || blk >= len(m.ring.Blocks) {
		return 0
	}
	b := m.ring.Blocks[blk]
	if b.Phys == 0 {
		return 0
	}
	return b.Phys + uint64(off%m.ring.BlockSize)
}

// startCommon validates and locks, then programs the registers common to
// both directions: descriptor ring base, update buffer base, MDP/MHP, and
// (when writeHdrBase) the header ring base — only RX's header ring is ever
// HW-visible; the TX header ring is host-only bookkeeping SetSwptr reads
// itself. descPhys/updatePhys/hdrPhys are physical addresses the caller has
// already resolved by allocating its own Resources (medusaBase owns no
// allocation logic itself: RX and TX need different-shaped header rings).
func (m *medusaBase) startCommon(sp StartParams, descPhys, updatePhys, hdrPhys uint64, writeHdrBase bool) error {
	if sp.NbDesc == 0 || sp.NbDesc&(sp.NbDesc-1) != 0 {
		return fmt.Errorf("ndp: nb_desc %d not a power of two: %w", sp.NbDesc, errs.InvalidArgument)
	}
	if sp.NbHdr == 0 || sp.NbHdr&(sp.NbHdr-1) != 0 {
		return fmt.Errorf("ndp: nb_hdr %d not a power of two: %w", sp.NbHdr, errs.InvalidArgument)
	}
	if err := m.c.TryLock(lockFeatureDmaCtrl); err != nil {
		return err
	}

	m.mdp = sp.NbDesc - 1
	m.mhp = sp.NbHdr - 1
	m.sdp, m.hdp, m.shp, m.hhp = 0, 0, 0, 0
	if len(m.updateBuf) >= 1 {
		m.updateBuf[0] = 0
	}
	if len(m.updateBuf) >= 2 {
		m.updateBuf[1] = 0
	}
	m.lastUpperAddr = ^uint64(0)

	status, _ := m.c.Read32(regStatus)
	if status&statusRunning != 0 {
		m.c.Unlock(lockFeatureDmaCtrl)
		return fmt.Errorf("ndp: controller already running: %w", errs.Again)
	}

	m.c.Write64(regDescBase, descPhys)
	m.c.Write64(regUpdateBase, updatePhys)
	if writeHdrBase {
		m.c.Write64(regHdrBase, hdrPhys)
	}
	m.c.Write32(regMDP, m.mdp)
	m.c.Write32(regMHP, m.mhp)
	m.c.Write64(regSDP, 0)
	m.c.Write32(regTimeout, 0x4000)
	m.c.Write32(regControl, controlStart)
	return nil
}

func (m *medusaBase) stopCommon(force bool) error {
	m.hdpUpdate()
	if !force && m.sdp != m.hdp {
		before := m.hdp
		m.hdpUpdate()
		if before == m.hdp {
			return errs.Again
		}
		return errs.InProgress
	}

	m.c.Write32(regControl, controlStop)

	var ret error = errs.Again
	for i := 0; i < 100; i++ {
		status, _ := m.c.Read32(regStatus)
		if status&statusRunning == 0 {
			ret = nil
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !force && ret != nil {
		return ret
	}
	m.c.Unlock(lockFeatureDmaCtrl)
	if force && ret != nil {
		return errs.Dirty
	}
	return nil
}

// MedusaRX is the V2/Medusa RX controller.
type MedusaRX struct {
	medusaBase

	hdrRing []uint32 // this controller's own header ring (HdrV2 words)

	bufferSize    uint32
	fillIdx       uint32 // next buffer index (mod MHP+1) to refill
	descBurstFree int    // free_desc credits accumulated since the last burst refill
	ageCounter    int    // User-mode consecutive no-progress cycles
}

// OpenMedusaRX constructs a RX controller bound to the given MI component.
func OpenMedusaRX(c *comp.Comp) *MedusaRX {
	return &MedusaRX{medusaBase: medusaBase{c: c, dir: RX}}
}

// Start allocates this controller's descriptor ring, header ring and
// update buffer (spec "Resources"), arms the controller, and pre-fills
// MDP-RxRefillBurst+1 descriptors in PACKET_SIMPLE/USER mode.
func (r *MedusaRX) Start(sp StartParams) (uint64, error) {
	descBytes, descPhys, err := allocCoherent(int(sp.NbDesc) * 8)
	if err != nil {
		return 0, fmt.Errorf("ndp: medusa rx: alloc descriptor ring: %w", err)
	}
	hdrBytes, hdrPhys, err := allocCoherent(int(sp.NbHdr) * 4)
	if err != nil {
		unix.Munmap(descBytes)
		return 0, fmt.Errorf("ndp: medusa rx: alloc header ring: %w", err)
	}
	updateBytes, updatePhys, err := allocCoherent(8)
	if err != nil {
		unix.Munmap(descBytes)
		unix.Munmap(hdrBytes)
		return 0, fmt.Errorf("ndp: medusa rx: alloc update buffer: %w", err)
	}
	r.descRing = uint64View(descBytes, sp.NbDesc)
	r.hdrRing = uint32View(hdrBytes, sp.NbHdr)
	r.updateBuf = uint32View(updateBytes, 2)

	if err := r.startCommon(sp, descPhys, updatePhys, hdrPhys, true); err != nil {
		unix.Munmap(descBytes)
		unix.Munmap(hdrBytes)
		unix.Munmap(updateBytes)
		return 0, err
	}

	r.bufferSize = sp.BufferSize
	if r.bufferSize == 0 {
		r.bufferSize = defaultBufferSize
	}
	r.fillIdx = 0
	r.descBurstFree = 0
	r.ageCounter = 0

	prefill := int(r.mdp) + 1 - RxRefillBurst
	for i := 0; i < prefill; i++ {
		r.fillOneBuffer()
	}
	r.spFlush()
	return 0, nil
}

// Stop quiesces the RX controller.
func (r *MedusaRX) Stop(force bool) error { return r.stopCommon(force) }

// GetHwptr returns the header-ring hardware pointer scaled to bytes, the
// RX consumer-facing logical pointer.
func (r *MedusaRX) GetHwptr() uint64 {
	r.hhpUpdate()
	hw := uint64(r.hhp) * uint64(r.bufferSize)
	if r.ring != nil && r.ring.Size > 0 {
		hw %= uint64(r.ring.Size)
	}
	return hw
}

// fillOneBuffer emits the descriptor(s) refilling one data buffer at
// r.fillIdx, advancing r.sdp by one descriptor slot plus one more if the
// buffer's physical address crosses into a new upper-address region,
// mirroring ndp_ctrl_mps_fill_rx_descs/ndp_ctrl_user_fill_rx_descs.
func (r *MedusaRX) fillOneBuffer() {
	bufIdx := r.fillIdx & r.mhp
	var phys uint64
	if r.bufferSize > 0 && r.ring != nil && r.ring.Size > 0 {
		bufOff := (int(bufIdx) * int(r.bufferSize)) % r.ring.Size
		phys = r.bufPhys(bufOff)
	}
	if UpperAddr(phys) != r.lastUpperAddr {
		r.descRing[r.sdp&r.mdp] = Desc0(phys)
		r.sdp = (r.sdp + 1) & r.mdp
		r.lastUpperAddr = UpperAddr(phys)
	}
	r.descRing[r.sdp&r.mdp] = Desc2(phys, uint16(r.bufferSize), 0, false)
	r.sdp = (r.sdp + 1) & r.mdp
	r.fillIdx++
}

// SetSwptr converts ptr (a byte offset into the data ring) to a header-ring
// slot and, in PacketSimple/User mode, sums the free_desc field of every
// newly-consumed header between the old and new shp. Once RxRefillBurst
// descriptors' worth have accumulated it refills exactly that many buffers
// per burst (the "Refill conservation" rule: sdp only ever advances by
// whole bursts, plus any extra type-0 descriptors those bursts needed).
// User mode additionally forces a short, partial flush after NextSdpAgeMax
// consecutive no-progress calls, so a slow producer can't stall refill
// forever. Stream mode is unimplemented (see SPEC_FULL.md's Open Question
// resolution).
func (r *MedusaRX) SetSwptr(ptr uint64) {
	switch r.rxMode {
	case PacketSimple, User:
		bufSize := uint64(r.bufferSize)
		if bufSize == 0 {
			bufSize = 1
		}
		newShp := uint32(ptr/bufSize) & r.mhp

		for i := r.shp; i != newShp; i = (i + 1) & r.mhp {
			hdr := DecodeHdrV2(r.hdrRing[i])
			r.descBurstFree += int(hdr.FreeDesc)
		}
		r.shp = newShp

		refilled := false
		for r.descBurstFree >= RxRefillBurst {
			for i := 0; i < RxRefillBurst; i++ {
				r.fillOneBuffer()
			}
			r.descBurstFree -= RxRefillBurst
			refilled = true
		}

		if refilled {
			r.ageCounter = 0
		} else if r.rxMode == User {
			r.ageCounter++
			if r.ageCounter >= NextSdpAgeMax && r.descBurstFree > 0 {
				for r.descBurstFree > 0 {
					r.fillOneBuffer()
					r.descBurstFree--
				}
				r.ageCounter = 0
			}
		}
		r.spFlush()
	case Stream:
		// Not exercised by any firmware this package targets.
	}
}

func (r *MedusaRX) GetFreeSpace() (uint64, bool) { return 0, false }

// SetRxMode selects the RX operating mode; Stream is rejected because the
// original driver itself leaves its offset computation as a TODO with no
// defined behavior to reproduce.
func (r *MedusaRX) SetRxMode(mode RxMode) error {
	if mode == Stream {
		return fmt.Errorf("ndp: stream rx mode: %w", errs.InvalidArgument)
	}
	r.rxMode = mode
	return nil
}

// MedusaTX is the V2/Medusa TX controller.
type MedusaTX struct {
	medusaBase

	hdrRing []uint64 // host-only TX header ring (TxHdrV2 words), never HW-visible
	sw      uint64   // last logical byte swptr passed to SetSwptr
}

// OpenMedusaTX constructs a TX controller bound to the given MI component.
func OpenMedusaTX(c *comp.Comp) *MedusaTX {
	return &MedusaTX{medusaBase: medusaBase{c: c, dir: TX}}
}

// Start allocates this controller's descriptor ring, TX header ring and
// update buffer, then arms the controller.
func (t *MedusaTX) Start(sp StartParams) (uint64, error) {
	nbHdr := sp.NbHdr
	if nbHdr == 0 {
		nbHdr = sp.NbDesc
	}

	descBytes, descPhys, err := allocCoherent(int(sp.NbDesc) * 8)
	if err != nil {
		return 0, fmt.Errorf("ndp: medusa tx: alloc descriptor ring: %w", err)
	}
	hdrBytes, _, err := allocCoherent(int(nbHdr) * 8)
	if err != nil {
		unix.Munmap(descBytes)
		return 0, fmt.Errorf("ndp: medusa tx: alloc header ring: %w", err)
	}
	updateBytes, updatePhys, err := allocCoherent(8)
	if err != nil {
		unix.Munmap(descBytes)
		unix.Munmap(hdrBytes)
		return 0, fmt.Errorf("ndp: medusa tx: alloc update buffer: %w", err)
	}
	t.descRing = uint64View(descBytes, sp.NbDesc)
	t.hdrRing = uint64View(hdrBytes, nbHdr)
	t.updateBuf = uint32View(updateBytes, 2)

	spForCommon := sp
	spForCommon.NbHdr = nbHdr
	if err := t.startCommon(spForCommon, descPhys, updatePhys, 0, false); err != nil {
		unix.Munmap(descBytes)
		unix.Munmap(hdrBytes)
		unix.Munmap(updateBytes)
		return 0, err
	}
	t.sw = 0
	return 0, nil
}

// Stop quiesces the TX controller.
func (t *MedusaTX) Stop(force bool) error { return t.stopCommon(force) }

// GetHwptr reclaims completed descriptors: reads HDP from the update
// buffer and reports the descriptor-ring completion point.
func (t *MedusaTX) GetHwptr() uint64 {
	t.hdpUpdate()
	return uint64(t.hdp)
}

// waitFreeDesc busy-waits, refreshing HDP via hdpUpdate, until at least
// want descriptor slots are free or the bound iteration count elapses.
// Stands in for the original's kill-signal-interruptible wait: see the
// txFreeDescWaitIters comment above.
func (t *MedusaTX) waitFreeDesc(want uint32) bool {
	for i := 0; i < txFreeDescWaitIters; i++ {
		used := maskedSub(uint64(t.sdp), uint64(t.hdp), uint64(t.mdp))
		free := uint64(t.mdp) - used
		if free >= uint64(want) {
			return true
		}
		t.hdpUpdate()
		time.Sleep(txFreeDescWaitStep)
	}
	return false
}

// SetSwptr iterates TX header-ring entries newly published since the last
// call, up to byte offset ptr in the channel's data ring: for each it
// resolves the frame's absolute DMA address from its header offset within
// the data ring, waits for enough reclaimed descriptor space, and emits it
// via EmitFrame, mirroring ndp_ctrl_medusa_tx_set_swptr. A frame that never
// sees enough reclaimed space within the bound aborts the remainder of the
// batch, leaving the controller's position (and the logical byte pointer
// the next call resumes from) where it stopped (the nearest
// available stand-in for "kill signal arrives, operation abandoned,
// controller marked dirty").
func (t *MedusaTX) SetSwptr(ptr uint64) {
	if t.ring == nil || len(t.hdrRing) == 0 || len(t.descRing) == 0 {
		t.sdp = uint32(ptr) & t.mdp
		t.spFlush()
		return
	}

	mask := uint64(t.ring.Size - 1)
	delta := maskedSub(ptr, t.sw, mask)

	var consumed uint64
	for consumed < delta {
		hdr := DecodeTxHdrV2(t.hdrRing[t.shp])
		if hdr.FrameLen == 0 {
			break
		}
		if !t.waitFreeDesc(2) {
			break
		}
		phys := t.bufPhys(int(hdr.Offset))
		t.EmitFrame(t.descRing, phys, hdr.FrameLen, hdr.Meta)
		consumed += uint64(hdr.FrameLen)
		t.shp = (t.shp + 1) & t.mhp
	}
	if consumed >= delta {
		t.sw = ptr
	} else {
		t.sw = (t.sw + consumed) & mask
	}
	t.spFlush()
}

// TxHeaderRing returns the host-only TX header ring for a producer to
// publish (offset, frame_len) entries into, indexed modulo mhp+1, before
// advancing the channel's swptr via Subscription.Sync.
func (t *MedusaTX) TxHeaderRing() []uint64 { return t.hdrRing }

// GetFreeSpace is unsupported on V2/Medusa TX (get_free_space == NULL in
// the source); Channel.txsync treats ok == false as "no extra size info".
func (t *MedusaTX) GetFreeSpace() (uint64, bool) { return 0, false }

// EmitFrame programs one TX frame's descriptors at sdp, inserting a type-0
// upper-address descriptor whenever the frame's physical address crosses
// into a new upper-address region. descs is the descriptor ring's backing
// slice, viewed as uint64 words.
func (t *MedusaTX) EmitFrame(descs []uint64, phys uint64, length uint16, meta uint16) {
	idx := t.sdp
	if UpperAddr(phys) != t.lastUpperAddr {
		descs[idx&t.mdp] = Desc0(phys)
		idx++
		t.lastUpperAddr = UpperAddr(phys)
	}
	descs[idx&t.mdp] = Desc2(phys, length, meta, false)
	idx++
	t.sdp = idx & t.mdp
}
