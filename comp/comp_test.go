// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package comp

import (
	"errors"
	"testing"

	"github.com/CESNET/ndk-sw-sub000/errs"
)

func TestLockDisjointFeaturesSucceed(t *testing.T) {
	r := NewLockRegistry()
	if err := r.TryLock("app1", "/x", 0x1); err != nil {
		t.Fatal(err)
	}
	if err := r.TryLock("app2", "/x", 0x2); err != nil {
		t.Fatal(err)
	}
}

func TestLockOverlapFails(t *testing.T) {
	r := NewLockRegistry()
	if err := r.TryLock("app1", "/x", 0x3); err != nil {
		t.Fatal(err)
	}
	if err := r.TryLock("app2", "/x", 0x1); !errors.Is(err, errs.Busy) {
		t.Fatalf("expected Busy, got %v", err)
	}
}

func TestLockRelock(t *testing.T) {
	r := NewLockRegistry()
	if err := r.TryLock("app1", "/x", 0x1); err != nil {
		t.Fatal(err)
	}
	if err := r.TryLock("app1", "/x", 0x1); err != nil {
		t.Fatalf("idempotent relock should succeed, got %v", err)
	}
	if got := r.HeldFeatures("/x"); got != 0x1 {
		t.Fatalf("got mask 0x%x, want 0x1", got)
	}
}

func TestUnlockDropsEmptyRecord(t *testing.T) {
	r := NewLockRegistry()
	if err := r.TryLock("app1", "/x", 0x3); err != nil {
		t.Fatal(err)
	}
	if err := r.Unlock("app1", "/x", 0x1); err != nil {
		t.Fatal(err)
	}
	if got := r.HeldFeatures("/x"); got != 0x2 {
		t.Fatalf("got mask 0x%x, want 0x2", got)
	}
	if err := r.Unlock("app1", "/x", 0x2); err != nil {
		t.Fatal(err)
	}
	if got := r.HeldFeatures("/x"); got != 0 {
		t.Fatalf("expected record dropped, got mask 0x%x", got)
	}
	// Now a different app can take the full mask.
	if err := r.TryLock("app2", "/x", 0x3); err != nil {
		t.Fatal(err)
	}
}

func TestReleaseDropsAllLocksForApp(t *testing.T) {
	r := NewLockRegistry()
	if err := r.TryLock("app1", "/x", 0x1); err != nil {
		t.Fatal(err)
	}
	if err := r.TryLock("app1", "/y", 0x1); err != nil {
		t.Fatal(err)
	}
	r.Release("app1")
	if got := r.HeldFeatures("/x"); got != 0 {
		t.Fatalf("got 0x%x, want 0", got)
	}
	if got := r.HeldFeatures("/y"); got != 0 {
		t.Fatalf("got 0x%x, want 0", got)
	}
}
