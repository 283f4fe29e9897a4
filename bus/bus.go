// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bus provides ordered, typed access to a PCIe BAR register window
// mapped into user space (the "MI" bus of the FDT), generalizing
// conn/mmr.Dev8/Dev16's typed-register-access shape from a small GPIO-sized
// window to a full BAR-sized one with explicit write-combining support and
// store fences.
package bus

import (
	"encoding/binary"
	"fmt"

	"github.com/CESNET/ndk-sw-sub000/errs"
)

// MapMode selects how the BAR window is mapped into the process.
type MapMode int

const (
	// Uncacheable is the default mapping mode; every access goes straight
	// to the device with no caching or combining.
	Uncacheable MapMode = iota
	// WriteCombining batches consecutive writes; callers on this path must
	// rely on Bus.Fence to make writes observable before a dependent read.
	WriteCombining
)

// Resource identifies the backing PCI BAR, as found in an FDT node's
// "resource" property formatted "PCIn,BARn" (see nfb_mi_attach_bus).
type Resource struct {
	PCIIndex int
	BAR      int
}

// ParseResource parses a "PCIn,BARn" resource string.
func ParseResource(s string) (Resource, error) {
	var r Resource
	if _, err := fmt.Sscanf(s, "PCI%d,BAR%d", &r.PCIIndex, &r.BAR); err != nil {
		return Resource{}, fmt.Errorf("bus: malformed resource %q: %w", s, errs.BadFormat)
	}
	return r, nil
}

// mapping abstracts the underlying memory-mapped byte slice so that tests
// can substitute a plain []byte without going through mmap.
type mapping interface {
	Bytes() []byte
	Fence()
	Close() error
}

// Bus is an ordered, typed view of a memory-mapped register window.
//
// It must be constructed through Open or, in tests, NewFake.
type Bus struct {
	m    mapping
	mode MapMode
	// Order is the byte order words are stored in, matching mmr.Dev8.Order.
	Order binary.ByteOrder
}

// Size returns the length in bytes of the mapped window.
func (b *Bus) Size() int {
	return len(b.m.Bytes())
}

func (b *Bus) check(off, nbytes int) error {
	if off < 0 || nbytes < 0 || off+nbytes > len(b.m.Bytes()) {
		return fmt.Errorf("bus: access [%d,%d) out of range [0,%d): %w", off, off+nbytes, len(b.m.Bytes()), errs.InvalidArgument)
	}
	return nil
}

// Fence issues a store fence so that previously issued writes are observed
// by the device before any subsequent operation; required after every write
// when the window is mapped WriteCombining, a no-op cost on Uncacheable
// mappings but always safe to call.
func (b *Bus) Fence() {
	b.m.Fence()
}

// ReadUint8 reads a single byte at off.
func (b *Bus) ReadUint8(off int) (uint8, error) {
	if err := b.check(off, 1); err != nil {
		return 0, err
	}
	return b.m.Bytes()[off], nil
}

// WriteUint8 writes a single byte at off.
func (b *Bus) WriteUint8(off int, v uint8) error {
	if err := b.check(off, 1); err != nil {
		return err
	}
	b.m.Bytes()[off] = v
	if b.mode == WriteCombining {
		b.Fence()
	}
	return nil
}

// ReadUint16 reads a 16-bit word at off using b.Order.
func (b *Bus) ReadUint16(off int) (uint16, error) {
	if err := b.check(off, 2); err != nil {
		return 0, err
	}
	return b.Order.Uint16(b.m.Bytes()[off:]), nil
}

// WriteUint16 writes a 16-bit word at off using b.Order.
func (b *Bus) WriteUint16(off int, v uint16) error {
	if err := b.check(off, 2); err != nil {
		return err
	}
	b.Order.PutUint16(b.m.Bytes()[off:], v)
	if b.mode == WriteCombining {
		b.Fence()
	}
	return nil
}

// ReadUint32 reads a 32-bit word at off using b.Order.
func (b *Bus) ReadUint32(off int) (uint32, error) {
	if err := b.check(off, 4); err != nil {
		return 0, err
	}
	return b.Order.Uint32(b.m.Bytes()[off:]), nil
}

// WriteUint32 writes a 32-bit word at off using b.Order.
func (b *Bus) WriteUint32(off int, v uint32) error {
	if err := b.check(off, 4); err != nil {
		return err
	}
	b.Order.PutUint32(b.m.Bytes()[off:], v)
	if b.mode == WriteCombining {
		b.Fence()
	}
	return nil
}

// ReadUint64 reads a 64-bit word at off using b.Order.
func (b *Bus) ReadUint64(off int) (uint64, error) {
	if err := b.check(off, 8); err != nil {
		return 0, err
	}
	return b.Order.Uint64(b.m.Bytes()[off:]), nil
}

// WriteUint64 writes a 64-bit word at off using b.Order.
func (b *Bus) WriteUint64(off int, v uint64) error {
	if err := b.check(off, 8); err != nil {
		return err
	}
	b.Order.PutUint64(b.m.Bytes()[off:], v)
	if b.mode == WriteCombining {
		b.Fence()
	}
	return nil
}

// Copy reads len(dst) bytes at off with a single plain byte copy; it does
// not dispatch to naturally aligned 8/4/2/1 byte accesses by size or
// alignment.
func (b *Bus) Copy(dst []byte, off int) (int, error) {
	if err := b.check(off, len(dst)); err != nil {
		return 0, err
	}
	copy(dst, b.m.Bytes()[off:off+len(dst)])
	return len(dst), nil
}

// CopyTo writes src at off with a single plain byte copy (no width
// dispatch), fencing afterwards on a WriteCombining mapping.
func (b *Bus) CopyTo(off int, src []byte) (int, error) {
	if err := b.check(off, len(src)); err != nil {
		return 0, err
	}
	copy(b.m.Bytes()[off:off+len(src)], src)
	if b.mode == WriteCombining {
		b.Fence()
	}
	return len(src), nil
}

// Close unmaps the underlying window.
func (b *Bus) Close() error {
	return b.m.Close()
}
