// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package comp provides named, FDT-path-addressed views onto a bus.Bus,
// bounds-checked against the node's declared size, plus the cooperative
// feature-bitmask locking every NDP controller takes before it may drive a
// queue's registers (grounded on mi.c's nfb_comp and lock.c).
package comp

import (
	"fmt"

	"github.com/CESNET/ndk-sw-sub000/bus"
	"github.com/CESNET/ndk-sw-sub000/errs"
	"github.com/CESNET/ndk-sw-sub000/fdt"
)

// Comp is a bounds-checked, path-addressed slice of a Bus.
type Comp struct {
	Path   string
	Bus    *bus.Bus
	Base   int
	Size   int
	locks  *LockRegistry
	lockApp App
}

// Open derives a Comp from an FDT node's "reg = <offset,size>" property on
// the given bus, shared lock registry, and the App identity that will be
// used for any cooperative locks this Comp takes.
func Open(b *bus.Bus, locks *LockRegistry, app App, node *fdt.Node, path string) (*Comp, error) {
	raw, ok := node.Props["reg"]
	if !ok || len(raw) != 16 {
		return nil, fmt.Errorf("comp: %s: reg must be a <offset,size> pair of u64 cells: %w", path, errs.BadFormat)
	}
	off := beU64(raw[0:8])
	size := beU64(raw[8:16])
	return &Comp{Path: path, Bus: b, Base: int(off), Size: int(size), locks: locks, lockApp: app}, nil
}

func beU64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func (c *Comp) check(off, n int) error {
	if off < 0 || n < 0 || off+n > c.Size {
		return fmt.Errorf("comp: %s: access [%d,%d) out of bounds [0,%d): %w", c.Path, off, off+n, c.Size, errs.InvalidArgument)
	}
	return nil
}

// Read32 reads a bounds-checked 32-bit register at off within this component.
func (c *Comp) Read32(off int) (uint32, error) {
	if err := c.check(off, 4); err != nil {
		return 0, err
	}
	return c.Bus.ReadUint32(c.Base + off)
}

// Write32 writes a bounds-checked 32-bit register at off within this component.
func (c *Comp) Write32(off int, v uint32) error {
	if err := c.check(off, 4); err != nil {
		return err
	}
	return c.Bus.WriteUint32(c.Base+off, v)
}

// Read64 reads a bounds-checked 64-bit register at off within this component.
func (c *Comp) Read64(off int) (uint64, error) {
	if err := c.check(off, 8); err != nil {
		return 0, err
	}
	return c.Bus.ReadUint64(c.Base + off)
}

// Write64 writes a bounds-checked 64-bit register at off within this component.
func (c *Comp) Write64(off int, v uint64) error {
	if err := c.check(off, 8); err != nil {
		return err
	}
	return c.Bus.WriteUint64(c.Base+off, v)
}

// TryLock requests the given feature bitmask for this component, failing
// with errs.Busy if another app already holds any requested bit.
func (c *Comp) TryLock(features uint32) error {
	return c.locks.TryLock(c.lockApp, c.Path, features)
}

// Unlock releases the given feature bits held by this Comp's app.
func (c *Comp) Unlock(features uint32) error {
	return c.locks.Unlock(c.lockApp, c.Path, features)
}
