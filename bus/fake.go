// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bus

import "encoding/binary"

// fakeMapping backs a Bus with a plain Go slice, the same substitution
// conn/mmr_test.go makes with its fakeConn implementing conn.Conn instead of
// a real SPI/I2C transaction.
type fakeMapping struct {
	buf    []byte
	fences int
}

func (f *fakeMapping) Bytes() []byte { return f.buf }
func (f *fakeMapping) Fence()        { f.fences++ }
func (f *fakeMapping) Close() error  { return nil }

// NewFake returns a Bus backed by an in-memory buffer of size bytes, for use
// in tests that exercise register-access logic without real hardware.
func NewFake(size int, mode MapMode, order binary.ByteOrder) *Bus {
	return &Bus{m: &fakeMapping{buf: make([]byte, size)}, mode: mode, Order: order}
}
