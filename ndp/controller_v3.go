// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ndp

import (
	"fmt"
	"time"

	"github.com/CESNET/ndk-sw-sub000/comp"
	"github.com/CESNET/ndk-sw-sub000/errs"
)

// calypteBase holds the register protocol shared by CalypteRX and
// CalypteTX: unlike Medusa, pointers are read directly from registers
// instead of an update buffer written by HW.
type calypteBase struct {
	c   *comp.Comp
	dir Direction

	mdp, mhp uint32
	sdp, hdp uint32
	shp, hhp uint32
	flags    Flags
}

func (c *calypteBase) Direction() Direction { return c.dir }
func (c *calypteBase) PtrMask() uint64       { return uint64(c.mdp) }
func (c *calypteBase) GetFlags() Flags       { return c.flags }
func (c *calypteBase) SetFlags(req Flags) Flags {
	c.flags = req
	return c.flags
}

func (c *calypteBase) Counters() (processed, discarded uint64) {
	sent, _ := c.c.Read64(regCntrSent)
	disc, _ := c.c.Read64(regCntrDisc)
	return sent, disc
}

func (c *calypteBase) FrameSizeRange() (min, max uint32, err error) {
	return 0, 0, fmt.Errorf("ndp: frame size range must be read from the fdt params node: %w", errs.NoDevice)
}

// hpUpdate reads HDP and HHP with a single combined 64-bit register read,
// exactly as nc_ndp_ctrl_hp_update does for the USERSPACE TX case.
func (c *calypteBase) hpUpdate() {
	hw, _ := c.c.Read64(regHDP)
	c.hdp = uint32(hw) & c.mdp
	c.hhp = uint32(hw>>32) & c.mhp
}

func (c *calypteBase) spFlush() {
	c.c.Write64(regSDP, uint64(c.sdp)|uint64(c.shp)<<32)
}

func (c *calypteBase) stopCommon(force bool, rx bool) error {
	c.hpUpdate()
	if !force && !rx && c.sdp != c.hdp {
		before := c.hdp
		c.hpUpdate()
		if before == c.hdp {
			return errs.Again
		}
		return errs.InProgress
	}

	c.c.Write32(regControl, controlStop)
	if rx {
		// The RX DMA can pass some packets during the stop process; pull
		// SW pointers up to where HW left off so they never trail it.
		hdp, _ := c.c.Read32(regHDP)
		c.c.Write32(regSDP, hdp)
		hhp, _ := c.c.Read32(regHHP)
		c.c.Write32(regSHP, hhp)
	}

	var ret error = errs.Again
	for i := 0; i < 100; i++ {
		status, _ := c.c.Read32(regStatus)
		if status&statusRunning == 0 {
			ret = nil
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !force && ret != nil {
		return ret
	}
	c.c.Unlock(lockFeatureDmaCtrl)
	if force && ret != nil {
		return errs.Dirty
	}
	return nil
}

// CalypteRX is the V3/Calypte RX controller: a single contiguous block of
// NDP_RX_CALYPTE_BLOCK_SIZE-byte slots, consumer readiness signaled by a
// per-slot valid bit instead of a pointer register.
type CalypteRX struct {
	calypteBase
}

// OpenCalypteRX constructs a RX controller bound to the given MI component.
func OpenCalypteRX(c *comp.Comp) *CalypteRX {
	return &CalypteRX{calypteBase{c: c, dir: RX}}
}

func (r *CalypteRX) Start(sp StartParams) (uint64, error) {
	if sp.NbData&(sp.NbData-1) != 0 {
		return 0, fmt.Errorf("ndp: nb_data %d not a power of two: %w", sp.NbData, errs.InvalidArgument)
	}
	if sp.NbHdr&(sp.NbHdr-1) != 0 {
		return 0, fmt.Errorf("ndp: nb_hdr %d not a power of two: %w", sp.NbHdr, errs.InvalidArgument)
	}
	if err := r.c.TryLock(lockFeatureDmaCtrl); err != nil {
		return 0, err
	}
	r.mdp, r.mhp = sp.NbData-1, sp.NbHdr-1
	r.sdp, r.hdp, r.shp, r.hhp = 0, 0, 0, 0

	status, _ := r.c.Read32(regStatus)
	if status&statusRunning != 0 {
		r.c.Unlock(lockFeatureDmaCtrl)
		return 0, fmt.Errorf("ndp: controller already running: %w", errs.Again)
	}
	r.c.Write64(regDescBase, sp.DataBuffer)
	r.c.Write64(regHdrBase, sp.HdrBuffer)
	r.c.Write32(regMDP, r.mdp)
	r.c.Write32(regMHP, r.mhp)
	r.c.Write64(regSDP, 0)
	r.c.Write32(regControl, controlStart)
	return 0, nil
}

func (r *CalypteRX) Stop(force bool) error { return r.stopCommon(force, true) }

func (r *CalypteRX) GetHwptr() uint64 {
	r.hpUpdate()
	return uint64(r.hhp) * RxBlockSize
}

// SetSwptr receives the new logical RX byte pointer and converts it to the
// number of RxBlockSize slots the consumed frames occupy before masking it
// into sdp/shp, since the ring advances in whole slots, not bytes.
func (r *CalypteRX) SetSwptr(ptr uint64) {
	slot := uint32(ptr / RxBlockSize)
	r.shp = slot & r.mhp
	r.sdp = slot & r.mdp
	r.spFlush()
}

func (r *CalypteRX) GetFreeSpace() (uint64, bool) { return 0, false }

// CalypteTX is the V3/Calypte TX controller: byte-granularity free-space
// accounting rounded to TxBlockSize, MDP/MHP are programmed by hardware
// and read back at start rather than supplied by the caller. Unlike
// Medusa TX there is no descriptor ring for this direction: the logical
// byte pointer IS the descriptor-space pointer.
type CalypteTX struct {
	calypteBase
	freeBytes uint64
	sw        uint64 // last logical swptr passed to SetSwptr
}

// roundUpBlock rounds n up to the next TxBlockSize-byte boundary, per
// nc_ndp_ctrl_start_params's TX byte-accounting rule.
func roundUpBlock(n uint64) uint64 {
	return (n + TxBlockSize - 1) &^ (TxBlockSize - 1)
}

// OpenCalypteTX constructs a TX controller bound to the given MI component.
func OpenCalypteTX(c *comp.Comp) *CalypteTX {
	return &CalypteTX{calypteBase: calypteBase{c: c, dir: TX}}
}

func (t *CalypteTX) Start(sp StartParams) (uint64, error) {
	if err := t.c.TryLock(lockFeatureDmaCtrl); err != nil {
		return 0, err
	}
	t.mdp, _ = t.c.Read32(regMDP)
	t.mhp, _ = t.c.Read32(regMHP)
	t.sdp, t.hdp, t.shp, t.hhp = 0, 0, 0, 0

	status, _ := t.c.Read32(regStatus)
	if status&statusRunning != 0 {
		t.c.Unlock(lockFeatureDmaCtrl)
		return 0, fmt.Errorf("ndp: controller already running: %w", errs.Again)
	}
	t.c.Write64(regSDP, 0)
	t.c.Write32(regControl, controlStart)
	t.freeBytes = uint64(t.mdp+1) * TxBlockSize
	return 0, nil
}

// Stop drains, but for a USERSPACE-driven ring first advances SW pointers
// to the current HW pointers to avoid a spurious dirty state, mirroring
// ctrl_ndp.c's special-cased stop path for Calypte TX USERSPACE.
func (t *CalypteTX) Stop(force bool) error {
	if t.flags&FlagUserspace != 0 {
		t.hpUpdate()
		t.sdp, t.shp = t.hdp, t.hhp
	}
	return t.stopCommon(force, false)
}

func (t *CalypteTX) GetHwptr() uint64 {
	t.hpUpdate()
	return uint64(t.hdp)
}

// SetSwptr receives the new logical TX byte pointer (mod ring size) and
// advances SDP by the TxBlockSize-rounded number of bytes published since
// the last call, decrementing the tracked free-byte budget accordingly —
// e.g. a single 50-byte frame consumes ceil(50/32)*32 = 64 tracked bytes,
// a 32-byte frame consumes exactly 32.
func (t *CalypteTX) SetSwptr(ptr uint64) {
	mask := uint64(t.mdp)
	delta := maskedSub(ptr, t.sw, mask)
	rounded := roundUpBlock(delta)
	t.sdp = (t.sdp + uint32(rounded)) & t.mdp
	if t.freeBytes >= rounded {
		t.freeBytes -= rounded
	} else {
		t.freeBytes = 0
	}
	t.sw = ptr
	t.spFlush()
}

// FrameBlocks reports how many TxBlockSize-rounded bytes a frame of the
// given length will consume, exposed for callers (and tests) that want to
// predict SetSwptr's accounting without driving real hardware.
func FrameBlocks(length uint16) uint64 {
	return roundUpBlock(uint64(length))
}

// GetFreeSpace reports the tracked byte-granularity free space.
func (t *CalypteTX) GetFreeSpace() (uint64, bool) { return t.freeBytes, true }

// Reclaim accounts completed descriptors back into the free-byte budget
// after polling GetHwptr; call once per sync with the number of bytes the
// hardware has newly freed.
func (t *CalypteTX) Reclaim(bytesFreed uint64) {
	t.freeBytes += bytesFreed
}
