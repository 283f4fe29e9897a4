// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ndp implements the Network Data Plane: DMA ring buffers, the
// V2/Medusa and V3/Calypte ring controllers, and the multi-subscriber
// channel that sits on top of them.
package ndp

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/CESNET/ndk-sw-sub000/errs"
)

const pageSize = 4096

// DefaultRingSize and DefaultBlockSize mirror the ndp_ring_size and
// ndp_ring_block_size kernel module parameters in ring.c: both 4MiB,
// exposed here as overridable package-level defaults rather than a config
// file, the same shape as a kernel module parameter.
var (
	DefaultRingSize  = 4 * 1024 * 1024
	DefaultBlockSize = 4 * 1024 * 1024
)

// Block is one physically-backed page range of a RingBuffer.
type Block struct {
	Virt []byte
	Phys uint64
	Size int
}

// RingBuffer is a contiguous logical byte buffer of size S (a power of
// two), physically composed of B equally sized blocks and virtually
// double-mapped so that any window [o, o+L) with L <= S is linear in
// virtual memory, per ring.c's ndp_channel_ring_alloc/ndp_ring_mmap.
type RingBuffer struct {
	Blocks    []Block
	BlockSize int
	Size      int // S

	fd     int
	shadow []byte // 2S bytes, the doubly-mapped view
}

func isPow2(v int) bool {
	return v > 0 && v&(v-1) == 0
}

// AllocRing allocates blockCount blocks of blockSize bytes each (blockSize
// a multiple of the page size) and builds the 2S shadow view. S =
// blockCount*blockSize must be a power of two.
func AllocRing(blockCount, blockSize int) (*RingBuffer, error) {
	if blockSize <= 0 || blockSize%pageSize != 0 {
		return nil, fmt.Errorf("ndp: block size %d must be a positive multiple of %d: %w", blockSize, pageSize, errs.InvalidArgument)
	}
	size := blockCount * blockSize
	if !isPow2(size) {
		return nil, fmt.Errorf("ndp: ring size %d is not a power of two: %w", size, errs.InvalidArgument)
	}

	fd, err := unix.MemfdCreate("ndp-ring", 0)
	if err != nil {
		return nil, fmt.Errorf("ndp: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ndp: ftruncate %d bytes: %w", size, err)
	}

	// Reserve a 2S anonymous region, then remap each half onto the memfd
	// with MAP_FIXED so both halves alias the same physical pages: the
	// userspace equivalent of vmap()-ing the block array twice in
	// ndp_channel_ring_alloc.
	reserve, err := unix.Mmap(-1, 0, 2*size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ndp: reserve %d bytes: %w", 2*size, err)
	}
	base := sliceAddr(reserve)
	if err := mmapFixed(fd, 0, base, size); err != nil {
		unix.Munmap(reserve)
		unix.Close(fd)
		return nil, err
	}
	if err := mmapFixed(fd, 0, base+uintptr(size), size); err != nil {
		unix.Munmap(reserve)
		unix.Close(fd)
		return nil, err
	}

	r := &RingBuffer{BlockSize: blockSize, Size: size, fd: fd, shadow: reserve}
	for i := 0; i < blockCount; i++ {
		blk := reserve[i*blockSize : (i+1)*blockSize]
		phys, _, err := PhysContiguous(blk)
		if err != nil {
			// Best-effort: physical resolution requires CAP_SYS_ADMIN and
			// is unavailable in many sandboxes/containers; record a zero
			// address rather than fail ring allocation over it.
			phys = 0
		}
		r.Blocks = append(r.Blocks, Block{Virt: blk, Phys: phys, Size: blockSize})
	}
	return r, nil
}

// View returns the doubly-mapped 2S-byte window, the exact contract of
// ndp_ring_mmap.
func (r *RingBuffer) View() []byte {
	return r.shadow
}

// Window returns a linear slice [offset, offset+length) of the logical
// ring, valid for any offset in [0,S) and length in [0,S], exploiting the
// shadow mapping so callers never need to special-case wraparound.
func (r *RingBuffer) Window(offset, length int) ([]byte, error) {
	if offset < 0 || offset >= r.Size || length < 0 || length > r.Size {
		return nil, fmt.Errorf("ndp: window [%d,+%d) outside ring of size %d: %w", offset, length, r.Size, errs.InvalidArgument)
	}
	return r.shadow[offset : offset+length], nil
}

// Close unmaps and releases the ring's backing memory.
func (r *RingBuffer) Close() error {
	if r.shadow != nil {
		unix.Munmap(r.shadow)
		r.shadow = nil
	}
	if r.fd != 0 {
		unix.Close(r.fd)
		r.fd = 0
	}
	return nil
}

// Resize reallocates the ring to blockCount*blockSize bytes. Callers must
// ensure the owning channel is stopped (start_count == 0) before calling,
// mirroring ring.c's ndp_channel_ring_resize contract. The previous ring is
// restored (unchanged, unclosed) if the new allocation fails.
func (r *RingBuffer) Resize(blockCount, blockSize int) (*RingBuffer, error) {
	fresh, err := AllocRing(blockCount, blockSize)
	if err != nil {
		return r, fmt.Errorf("ndp: resize failed, previous ring retained: %w", err)
	}
	return fresh, nil
}
