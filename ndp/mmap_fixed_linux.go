// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ndp

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mmapFixed maps size bytes of fd at offset 0 onto the fixed virtual
// address addr, overwriting the PROT_NONE reservation placed there by the
// caller. golang.org/x/sys/unix.Mmap always lets the kernel choose the
// address, so the shadow-mapping trick needs the raw mmap(2) syscall with
// MAP_FIXED directly, the userspace analogue of vmap()-ing the same pages
// twice in ndp_channel_ring_alloc.
func mmapFixed(fd int, offset int64, addr uintptr, size int) error {
	r, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		uintptr(size),
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		uintptr(fd),
		uintptr(offset),
	)
	if errno != 0 {
		return fmt.Errorf("ndp: mmap MAP_FIXED at 0x%x: %w", addr, errno)
	}
	if r != addr {
		return fmt.Errorf("ndp: mmap MAP_FIXED returned 0x%x, expected 0x%x", r, addr)
	}
	return nil
}
