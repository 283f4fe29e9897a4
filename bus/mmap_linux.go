// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bus

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// memMapping is a mapping backed by mmap'd physical memory, grounded on
// host/pmem.View/mapLinux, reworked onto golang.org/x/sys/unix and rounded
// to a full BAR-sized window instead of a single 4Kb register page.
type memMapping struct {
	orig []byte // page-rounded mmap, as returned by unix.Mmap
	view []byte // orig sliced down to the caller's requested window
}

var fenceWord uint32

// Fence performs an atomic read-modify-write on a package-level counter as
// a pure-Go stand-in for a store fence; it issues no dedicated fence
// instruction (no cgo or assembly is used).
func (m *memMapping) Fence() {
	atomic.AddUint32(&fenceWord, 1)
}

func (m *memMapping) Bytes() []byte {
	return m.view
}

func (m *memMapping) Close() error {
	return unix.Munmap(m.orig)
}

const pageSize = 4096

// Open maps `size` bytes of the PCI BAR resource file at resourcePath
// (normally "/sys/bus/pci/devices/<bdf>/resource<n>"), the userspace analogue of nfb_mi_attach_bus's io_remap_pfn_range over
// /dev/mem: resource files exposed by sysfs let an unprivileged-enough
// caller mmap a single BAR directly instead of the whole physical address
// space.
func Open(resourcePath string, size int, mode MapMode, order binary.ByteOrder) (*Bus, error) {
	f, err := os.OpenFile(resourcePath, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("bus: open %s: %w", resourcePath, err)
	}
	defer f.Close()

	rounded := (size + pageSize - 1) &^ (pageSize - 1)
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_SHARED
	raw, err := unix.Mmap(int(f.Fd()), 0, rounded, prot, flags)
	if err != nil {
		return nil, fmt.Errorf("bus: mmap %s (%d bytes): %w", resourcePath, rounded, err)
	}
	m := &memMapping{orig: raw, view: raw[:size]}
	return &Bus{m: m, mode: mode, Order: order}, nil
}
