// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ndp

import (
	"encoding/binary"
	"fmt"
	"os"
	"reflect"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/CESNET/ndk-sw-sub000/errs"
)

// virtToPhys resolves the physical address backing the page containing the
// virtual address virt, the same /proc/self/pagemap walk as
// host/pmem.ReadPageMap, generalized to report the physical address of any
// DMA ring block instead of just the GPIO register page.
//
// A userspace driver without VFIO/IOMMU cannot obtain a guaranteed
// physically-contiguous multi-page allocation the way dma_alloc_coherent
// does in the kernel; this call lets the caller at least read back the
// physical address currently backing each page of a buffer, and
// PhysContiguous below verifies the run is contiguous before trusting it
// for DMA programming.
func virtToPhys(virt uintptr) (uint64, error) {
	f, err := os.OpenFile("/proc/self/pagemap", os.O_RDONLY)
	if err != nil {
		return 0, fmt.Errorf("ndp: open pagemap: %w", err)
	}
	defer f.Close()

	var b [8]byte
	off := int64(virt/uintptr(pageSize)) * 8
	if _, err := f.ReadAt(b[:], off); err != nil {
		return 0, fmt.Errorf("ndp: read pagemap at 0x%x: %w", off, err)
	}
	entry := binary.LittleEndian.Uint64(b[:])
	if entry&(1<<63) == 0 {
		return 0, fmt.Errorf("ndp: page at 0x%x has no physical mapping: %w", virt, errs.NoMemory)
	}
	pfn := entry &^ (0x1FF << 55)
	return pfn * uint64(pageSize), nil
}

func sliceAddr(b []byte) uintptr {
	return (*reflect.SliceHeader)(unsafe.Pointer(&b)).Data
}

// PhysContiguous reports whether every 4Kb page of b is backed by
// consecutive physical pages, and returns the physical address of the
// first page if so.
func PhysContiguous(b []byte) (uint64, bool, error) {
	n := (len(b) + pageSize - 1) / pageSize
	first, err := virtToPhys(sliceAddr(b))
	if err != nil {
		return 0, false, err
	}
	prev := first
	for i := 1; i < n; i++ {
		p, err := virtToPhys(sliceAddr(b[i*pageSize:]))
		if err != nil {
			return 0, false, err
		}
		if p != prev+uint64(pageSize) {
			return first, false, nil
		}
		prev = p
	}
	return first, true, nil
}

// allocCoherent reserves a page-rounded, best-effort physically-resolved
// anonymous buffer of at least size bytes: the userspace analogue of
// dma_alloc_coherent for a Controller's own descriptor/header/update-buffer
// Resources. Physical resolution follows the same best-effort convention as
// RingBuffer's block allocation in ring.go: a zero address means the
// sandbox couldn't resolve it, not that allocation failed.
func allocCoherent(size int) ([]byte, uint64, error) {
	n := (size + pageSize - 1) &^ (pageSize - 1)
	if n == 0 {
		n = pageSize
	}
	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, 0, fmt.Errorf("ndp: alloc coherent %d bytes: %w", n, err)
	}
	phys, _, err := PhysContiguous(b)
	if err != nil {
		phys = 0
	}
	return b, phys, nil
}

// uint32View reinterprets the first n words of b as a []uint32 without
// copying, for viewing a DMA-coherent byte buffer as the wire-word slice a
// descriptor or header ring actually needs.
func uint32View(b []byte, n uint32) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), n)
}

// uint64View is uint32View's 8-byte-word counterpart.
func uint64View(b []byte, n uint32) []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), n)
}
