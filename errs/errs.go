// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package errs defines the error kinds shared across the bus, comp, fdt and
// ndp packages.
//
// Most error paths return one of these sentinels, or a value wrapping one
// of them with fmt.Errorf's %w verb, so callers can recover the kind with
// errors.Is regardless of which layer produced the error. Failures reported
// by the operating system (open, mmap, memfd_create, ftruncate) are wrapped
// as returned and carry no sentinel.
package errs

import "errors"

var (
	// NotReady is returned when an operation requires a controller or
	// channel to be running and it is not.
	NotReady = errors.New("errs: not ready")
	// Busy is returned when a resource is held by another lock owner, or a
	// TX ring would overrun.
	Busy = errors.New("errs: busy")
	// Again is returned when progress is pending and the caller should
	// retry the operation later.
	Again = errors.New("errs: again")
	// InProgress is returned for the non-final success of a multi-step
	// stop; the caller should keep polling.
	InProgress = errors.New("errs: in progress")
	// InvalidArgument is returned for a malformed descriptor, a
	// non-power-of-two size, or an out-of-range index.
	InvalidArgument = errors.New("errs: invalid argument")
	// NoDevice is returned when an FDT node is missing or a controller
	// cannot be found.
	NoDevice = errors.New("errs: no device")
	// NoMemory is returned on DMA or heap allocation failure.
	NoMemory = errors.New("errs: no memory")
	// BadFormat is returned when an FDT property is present but has the
	// wrong length or type, or a packet header is malformed.
	BadFormat = errors.New("errs: bad format")
	// Dirty is returned when a controller did not stop cleanly; further
	// operations on it may be unreliable until it recovers.
	Dirty = errors.New("errs: dirty")
	// Permission is returned for an open-flag or exclusivity violation.
	Permission = errors.New("errs: permission")
)
