// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ndp

import (
	"fmt"
	"sync"

	"github.com/CESNET/ndk-sw-sub000/errs"
)

// SyncArgs is the (swptr, hwptr) pair a subscription exchanges with its
// channel on every sync call, mirroring struct ndp_subscription_sync.
type SyncArgs struct {
	Swptr uint64
	Hwptr uint64
	// Size is the byte-granularity free space reported by controllers that
	// track it (V3 TX); zero otherwise.
	Size uint64
}

// state is a Channel's position in the created -> attached_ring ->
// running -> stop -> attached_ring -> detached state machine (§4.7).
type state int

const (
	stateCreated state = iota
	stateAttached
	stateRunning
	stateDetached
)

// Channel owns one Controller and one RingBuffer, and exposes
// subscription, start, stop and sync to zero or more Subscriptions,
// grounded line-for-line on channel.c.
type Channel struct {
	// mutex is the structural lock guarding
	// create/destroy/start/stop/subscribe/resize.
	mutex sync.Mutex
	// spin guards HW pointer mutation (SDP/SHP flush, HDP/HHP refresh,
	// TX lock ownership). Go has no native spinlock; a Mutex is the
	// idiomatic stand-in periph itself reaches for in conn/mmr's Dev
	// guards.
	spin sync.Mutex

	dir     Direction
	index   int
	ctrl    Controller
	ring    *RingBuffer
	ptrmask uint64

	hwptr, swptr uint64
	startCount   uint32
	subsCount    uint32
	flags        Flags
	lockedSub    *Subscription
	subs         []*Subscription

	st      state
	discard bool
}

// NewChannel creates a channel over ctrl and ring in the attached_ring
// state, matching ndp_channel_init followed immediately by a successful
// ring attach (ndp_channel_add).
func NewChannel(dir Direction, index int, ctrl Controller, ring *RingBuffer) *Channel {
	return &Channel{
		dir:     dir,
		index:   index,
		ctrl:    ctrl,
		ring:    ring,
		ptrmask: uint64(ring.Size - 1),
		st:      stateAttached,
	}
}

// Discard reports whether the channel currently drops data instead of
// delivering it (ndp_channel_get_discard).
func (c *Channel) Discard() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.discard
}

// SetDiscard toggles the discard flag independently of start/stop
// (ndp_channel_set_discard), keeping the controller's DISCARD flag bit in
// sync.
func (c *Channel) SetDiscard(v bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.discard = v
	want := c.flags
	if v {
		want |= FlagDiscard
	} else {
		want &^= FlagDiscard
	}
	c.flags = c.ctrl.SetFlags(want)
}

// Subscribe registers sub on the channel and negotiates its flags,
// mirroring ndp_channel_subscribe: the first subscriber sets the common
// flags (everything but EXCLUSIVE); later subscribers must agree with the
// flags already in force and may not request EXCLUSIVE if anyone else is
// already subscribed.
func (c *Channel) Subscribe(sub *Subscription, reqFlags Flags) (Flags, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.subsCount == 0 {
		mask := FlagExclusive
		granted := c.ctrl.SetFlags(reqFlags &^ mask)
		if granted != reqFlags&^mask {
			return 0, fmt.Errorf("ndp: channel: flags not accepted: %w", errs.Permission)
		}
		c.flags = reqFlags & mask
		c.subsCount++
		sub.channel = c
		return granted, nil
	}

	held := c.ctrl.GetFlags()
	if (reqFlags|c.flags)&FlagExclusive != 0 {
		return 0, fmt.Errorf("ndp: channel: exclusive access requested/held: %w", errs.Permission)
	}
	if reqFlags^(c.flags|held) != 0 {
		return 0, fmt.Errorf("ndp: channel: flags disagree with active subscription: %w", errs.Permission)
	}
	c.subsCount++
	sub.channel = c
	return reqFlags, nil
}

// Unsubscribe drops sub's share of the subscriber count.
func (c *Channel) Unsubscribe(sub *Subscription) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.subsCount > 0 {
		c.subsCount--
	}
}

// Start arms the controller on the first call and registers sub in the
// live subscription list, mirroring ndp_channel_start.
func (c *Channel) Start(sub *Subscription, sp StartParams) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.startCount == 0 {
		hwptr, err := c.ctrl.Start(sp)
		if err != nil {
			return err
		}
		c.hwptr = hwptr
		c.swptr = c.hwptr
	}
	c.startCount++

	c.spin.Lock()
	sub.swptr, sub.hwptr = c.hwptr, c.hwptr
	c.subs = append(c.subs, sub)
	c.spin.Unlock()

	c.st = stateRunning
	return nil
}

// Stop quiesces the controller on the last call, mirroring
// ndp_channel_stop: a force=false stop that returns errs.Again leaves
// start_count untouched so the caller can retry.
func (c *Channel) Stop(sub *Subscription, force bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.lockedSub == sub {
		c.lockedSub = nil
	}

	if c.startCount == 1 {
		if err := c.ctrl.Stop(force); err != nil {
			if err == errs.Again {
				return err
			}
			if err != errs.Dirty {
				return err
			}
			// Dirty: fall through, the controller is stopped but unclean.
		}
	}
	c.startCount--
	if c.startCount == 0 {
		c.st = stateAttached
	}

	c.spin.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.spin.Unlock()
	return nil
}

// rxsync implements the broadcast-RX synchronization algorithm: publish
// only as far as the farthest-behind subscriber has consumed, so pages are
// never released to hardware before every reader has seen them.
func (c *Channel) rxsync(sub *Subscription, in SyncArgs) SyncArgs {
	sub.swptr = in.Swptr

	c.spin.Lock()
	defer c.spin.Unlock()

	swptr := sub.swptr
	var maxLock uint64
	for _, s := range c.subs {
		lockLen := maskedSub(c.hwptr, s.swptr, c.ptrmask)
		if lockLen > maxLock {
			maxLock = lockLen
			swptr = s.swptr
		}
	}

	if swptr != c.swptr {
		c.swptr = swptr
		c.ctrl.SetSwptr(swptr)
	}

	c.hwptr = c.ctrl.GetHwptr()
	sub.hwptr = c.hwptr

	return SyncArgs{Hwptr: sub.hwptr}
}

// txsync implements the exclusive-TX synchronization algorithm: at most
// one subscription may hold the channel's TX lock at a time; holding it
// grants exclusive permission to publish up to the hardware's free space.
func (c *Channel) txsync(sub *Subscription, in SyncArgs) SyncArgs {
	sub.swptr = in.Swptr
	sub.hwptr = in.Hwptr

	c.spin.Lock()
	defer c.spin.Unlock()

	var out SyncArgs

	switch {
	case c.lockedSub == sub:
		if sub.hwptr != c.swptr {
			c.swptr = sub.hwptr
			c.ctrl.SetSwptr(c.swptr)
		}
		c.hwptr = c.ctrl.GetHwptr()
		if size, ok := c.ctrl.GetFreeSpace(); ok {
			out.Size = size
		}
		chlen := maskedSub(maskedSub(c.hwptr, c.swptr, c.ptrmask), 1, c.ptrmask)
		length := maskedSub(sub.swptr, sub.hwptr, c.ptrmask)
		if length > chlen {
			length = chlen
		}
		if length == 0 {
			c.lockedSub = nil
		}
		sub.hwptr = c.swptr
		sub.swptr = (c.swptr + length) & c.ptrmask

	case c.lockedSub == nil:
		c.hwptr = c.ctrl.GetHwptr()
		if size, ok := c.ctrl.GetFreeSpace(); ok {
			out.Size = size
		}
		chlen := maskedSub(maskedSub(c.hwptr, c.swptr, c.ptrmask), 1, c.ptrmask)
		length := maskedSub(sub.swptr, sub.hwptr, c.ptrmask)
		if length > chlen {
			length = chlen
		}
		if length != 0 {
			c.lockedSub = sub
		}
		sub.hwptr = c.swptr
		sub.swptr = (c.swptr + length) & c.ptrmask

	default:
		sub.hwptr = c.swptr
		sub.swptr = c.swptr
	}

	out.Hwptr = sub.hwptr
	out.Swptr = sub.swptr
	return out
}

// Sync dispatches to rxsync or txsync based on the channel's direction.
func (c *Channel) Sync(sub *Subscription, in SyncArgs) SyncArgs {
	if c.dir == RX {
		return c.rxsync(sub, in)
	}
	return c.txsync(sub, in)
}

// Ring returns the channel's backing ring buffer, for callers that need
// to read or write frame bytes directly (e.g. a dump tool decoding the
// region between two sync calls).
func (c *Channel) Ring() *RingBuffer {
	return c.ring
}

// Resize reallocates the channel's ring. Only legal while no subscription
// has started the channel; restores the previous ring on failure.
func (c *Channel) Resize(blockCount, blockSize int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.startCount != 0 {
		return fmt.Errorf("ndp: channel: cannot resize while running: %w", errs.Busy)
	}
	fresh, err := c.ring.Resize(blockCount, blockSize)
	if err != nil {
		return err
	}
	old := c.ring
	c.ring = fresh
	c.ptrmask = uint64(fresh.Size - 1)
	old.Close()
	return nil
}
