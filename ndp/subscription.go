// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ndp

import (
	"context"
	"fmt"
	"sync"

	"github.com/CESNET/ndk-sw-sub000/errs"
)

// subState is a Subscription's lifecycle position, mirroring
// enum ndp_subscription_status.
type subState int

const (
	subCreated subState = iota
	subAttached
	subRunning
)

// Subscription is one consumer's attachment to a Channel: it tracks its
// own swptr/hwptr and carries them through Start/Stop/Sync, letting
// several subscriptions share one RX channel (each reads the ring at its
// own pace) or contend for one TX channel's write lock.
type Subscription struct {
	mu sync.Mutex

	channel *Channel
	st      subState

	swptr, hwptr uint64
	flags        Flags
}

// NewSubscription creates a detached subscription; Attach binds it to a
// channel.
func NewSubscription() *Subscription {
	return &Subscription{}
}

// Attach subscribes to ch with the requested flags, mirroring
// ndp_subscription_create's channel-binding step. It is an error to
// attach an already-attached subscription.
func (s *Subscription) Attach(ch *Channel, reqFlags Flags) (Flags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != subCreated {
		return 0, fmt.Errorf("ndp: subscription: already attached: %w", errs.InvalidArgument)
	}
	granted, err := ch.Subscribe(s, reqFlags)
	if err != nil {
		return 0, err
	}
	s.flags = granted
	s.st = subAttached
	return granted, nil
}

// Detach unwinds Attach, first stopping the subscription if still
// running.
func (s *Subscription) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st == subRunning {
		if err := s.channel.Stop(s, true); err != nil {
			return err
		}
		s.st = subAttached
	}
	if s.st != subAttached {
		return fmt.Errorf("ndp: subscription: not attached: %w", errs.InvalidArgument)
	}
	s.channel.Unsubscribe(s)
	s.channel = nil
	s.st = subCreated
	return nil
}

// Start arms the subscription's channel (on the first caller) and moves
// this subscription into the running state.
func (s *Subscription) Start(sp StartParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != subAttached {
		return fmt.Errorf("ndp: subscription: not attached: %w", errs.InvalidArgument)
	}
	if err := s.channel.Start(s, sp); err != nil {
		return err
	}
	s.st = subRunning
	return nil
}

// Stop quiesces the subscription's channel (on the last caller).
func (s *Subscription) Stop(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != subRunning {
		return fmt.Errorf("ndp: subscription: not running: %w", errs.InvalidArgument)
	}
	if err := s.channel.Stop(s, force); err != nil {
		return err
	}
	s.st = subAttached
	return nil
}

// Sync exchanges (swptr, hwptr) with the channel, running rxsync or
// txsync depending on direction.
func (s *Subscription) Sync(in SyncArgs) (SyncArgs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != subRunning {
		return SyncArgs{}, fmt.Errorf("ndp: subscription: not running: %w", errs.InvalidArgument)
	}
	return s.channel.Sync(s, in), nil
}

// Pointers returns the subscription's last-synced (swptr, hwptr) pair
// without driving a new sync round.
func (s *Subscription) Pointers() (swptr, hwptr uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swptr, s.hwptr
}

// Flags reports the flags negotiated at Attach time.
func (s *Subscription) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// Subscriber owns zero or more Subscriptions on behalf of one
// application (one open file descriptor in the original driver, one
// client connection here) and paces polling across all of them,
// mirroring struct ndp_subscriber and its ndp_subscriber_wait.
//
// Wait's pacing is grounded on SPEC_FULL.md's DOMAIN STACK choice of
// golang.org/x/time/rate: rather than busy-spin Sync in a tight loop,
// callers construct a Subscriber with a rate.Limiter and Wait blocks
// until the limiter admits the next poll, giving predictable CPU use
// under many idle subscriptions.
type Subscriber struct {
	mu            sync.Mutex
	subscriptions []*Subscription
	limiter       waiter
}

// waiter is the minimal surface this package needs from
// golang.org/x/time/rate.Limiter, kept narrow so tests can supply a fake.
type waiter interface {
	Wait(ctx context.Context) error
}

// NewSubscriber creates a subscriber whose Wait calls block on limiter.
func NewSubscriber(limiter waiter) *Subscriber {
	return &Subscriber{limiter: limiter}
}

// Add registers sub with this subscriber so it is covered by Wait's pacing.
func (s *Subscriber) Add(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = append(s.subscriptions, sub)
}

// Remove drops sub from this subscriber's set.
func (s *Subscriber) Remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.subscriptions {
		if x == sub {
			s.subscriptions = append(s.subscriptions[:i], s.subscriptions[i+1:]...)
			return
		}
	}
}

// Wait blocks until the subscriber's rate limiter admits another poll
// round, the cooperative equivalent of ndp_subscriber_wait's sleep.
func (s *Subscriber) Wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}
