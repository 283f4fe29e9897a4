// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package comp

import (
	"fmt"
	"sync"

	"github.com/CESNET/ndk-sw-sub000/errs"
)

// App identifies a lock holder: one per consumer (process, file handle, or
// goroutine group) that may take cooperative locks on components.
type App interface{}

type lockItem struct {
	path     string
	features uint32
	app      App
}

// LockRegistry tracks cooperative, per-feature-bitmask locks across all
// components of one device, mirroring nfb_lock_item/nfb_lock_try_lock in
// lock.c: multiple apps may hold disjoint feature masks on the same path;
// an app may idempotently extend its own mask; unlocking clears only the
// requested bits and drops the record once its mask is empty.
type LockRegistry struct {
	mu    sync.Mutex
	items []*lockItem
}

// NewLockRegistry returns an empty, ready-to-use LockRegistry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{}
}

// TryLock attempts to lock the given features of path for app. It fails
// with errs.Busy if any requested feature bit is already held by a
// different app.
func (r *LockRegistry) TryLock(app App, path string, features uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var mine *lockItem
	for _, it := range r.items {
		if it.path != path {
			continue
		}
		if it.features&features != 0 && it.app != app {
			return fmt.Errorf("comp: %s: feature mask 0x%x already held: %w", path, it.features&features, errs.Busy)
		}
		if it.app == app {
			mine = it
		}
	}
	if mine == nil {
		mine = &lockItem{path: path, app: app}
		r.items = append(r.items, mine)
	}
	mine.features |= features
	return nil
}

// Unlock clears the given feature bits for app on path; once app's mask
// becomes empty its record is dropped. Unlocking bits app does not hold is
// a no-op for those bits; if app holds no record on path at all, Unlock
// returns errs.NoDevice.
func (r *LockRegistry) Unlock(app App, path string, features uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, it := range r.items {
		if it.app == app && it.path == path {
			it.features &^= features
			if it.features == 0 {
				r.items = append(r.items[:i], r.items[i+1:]...)
			}
			return nil
		}
	}
	return fmt.Errorf("comp: %s: %w", path, errs.NoDevice)
}

// Release drops every lock held by app, across all paths, mirroring
// nfb_lock_release on file-descriptor close.
func (r *LockRegistry) Release(app App) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items[:0]
	for _, it := range r.items {
		if it.app != app {
			out = append(out, it)
		}
	}
	r.items = out
}

// HeldFeatures returns the feature mask held on path across all apps, 0 if
// none.
func (r *LockRegistry) HeldFeatures(path string) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var mask uint32
	for _, it := range r.items {
		if it.path == path {
			mask |= it.features
		}
	}
	return mask
}
