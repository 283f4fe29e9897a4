// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fdt

import (
	"encoding/binary"
	"testing"
)

// blobBuilder assembles a minimal-but-valid FDT blob for tests, since
// nothing in the retrieval pack ships an encoder either.
type blobBuilder struct {
	structBuf []byte
	strBuf    []byte
	strOff    map[string]uint32
}

func newBlobBuilder() *blobBuilder {
	return &blobBuilder{strOff: map[string]uint32{}}
}

func (b *blobBuilder) putU32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.structBuf = append(b.structBuf, buf[:]...)
}

func (b *blobBuilder) pad4(buf []byte) []byte {
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

func (b *blobBuilder) BeginNode(name string) {
	b.putU32(tokenBeginNode)
	nameBytes := append([]byte(name), 0)
	b.structBuf = append(b.structBuf, b.pad4(nameBytes)...)
}

func (b *blobBuilder) EndNode() {
	b.putU32(tokenEndNode)
}

func (b *blobBuilder) nameOffset(name string) uint32 {
	if off, ok := b.strOff[name]; ok {
		return off
	}
	off := uint32(len(b.strBuf))
	b.strBuf = append(b.strBuf, append([]byte(name), 0)...)
	b.strOff[name] = off
	return off
}

func (b *blobBuilder) PropU32(name string, v uint32) {
	var val [4]byte
	binary.BigEndian.PutUint32(val[:], v)
	b.prop(name, val[:])
}

func (b *blobBuilder) PropU64(name string, v uint64) {
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], v)
	b.prop(name, val[:])
}

func (b *blobBuilder) PropString(name, v string) {
	b.prop(name, append([]byte(v), 0))
}

func (b *blobBuilder) prop(name string, val []byte) {
	b.putU32(tokenProp)
	b.putU32(uint32(len(val)))
	b.putU32(b.nameOffset(name))
	b.structBuf = append(b.structBuf, b.pad4(append([]byte{}, val...))...)
}

func (b *blobBuilder) End() []byte {
	b.putU32(tokenEnd)

	const headerSize = 40
	offStruct := uint32(headerSize)
	offStrings := offStruct + uint32(len(b.structBuf))
	total := offStrings + uint32(len(b.strBuf))

	out := make([]byte, headerSize)
	binary.BigEndian.PutUint32(out[0:4], magic)
	binary.BigEndian.PutUint32(out[4:8], total)
	binary.BigEndian.PutUint32(out[8:12], offStruct)
	binary.BigEndian.PutUint32(out[12:16], offStrings)
	binary.BigEndian.PutUint32(out[20:24], 17) // version

	out = append(out, b.structBuf...)
	out = append(out, b.strBuf...)
	return out
}

func sampleBlob() []byte {
	b := newBlobBuilder()
	b.BeginNode("")
	b.PropString("compatible", "cesnet,nfb")
	b.BeginNode("drivers")
	b.BeginNode("ndp")
	b.BeginNode("rx_queues")
	b.BeginNode("rx0")
	b.PropU32("protocol", 3)
	b.PropU64("size", 1<<20)
	b.PropU64("mmap_base", 0)
	b.PropU64("mmap_size", 1<<20)
	b.PropU32("phandle", 7)
	b.EndNode() // rx0
	b.EndNode() // rx_queues
	b.EndNode() // ndp
	b.EndNode() // drivers
	b.BeginNode("ctrl")
	b.PropString("compatible", "cesnet,dma_ctrl_calypte_rx")
	b.EndNode()
	b.EndNode() // root
	return b.End()
}

func TestParseRootAndChildPaths(t *testing.T) {
	tree, err := Parse(sampleBlob())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	n, err := tree.NodeByPath("/drivers/ndp/rx_queues/rx0")
	if err != nil {
		t.Fatalf("NodeByPath: %v", err)
	}
	proto, err := n.PropU32("protocol")
	if err != nil || proto != 3 {
		t.Fatalf("protocol = %v, %v, want 3", proto, err)
	}
	size, err := n.PropU64("size")
	if err != nil || size != 1<<20 {
		t.Fatalf("size = %v, %v, want %d", size, err, 1<<20)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	blob := sampleBlob()
	blob[0] = 0
	if _, err := Parse(blob); err == nil {
		t.Fatal("expected error for corrupted magic")
	}
}

func TestNodeByPhandle(t *testing.T) {
	tree, err := Parse(sampleBlob())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	n, err := tree.NodeByPhandle(7)
	if err != nil {
		t.Fatalf("NodeByPhandle: %v", err)
	}
	if n.Path != "/drivers/ndp/rx_queues/rx0" {
		t.Fatalf("phandle 7 resolved to %q", n.Path)
	}
}

func TestCompatible(t *testing.T) {
	tree, err := Parse(sampleBlob())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	n, err := tree.NodeByPath("/ctrl")
	if err != nil {
		t.Fatalf("NodeByPath: %v", err)
	}
	if !n.Compatible("cesnet,dma_ctrl_calypte_rx") {
		t.Fatal("expected ctrl node to match its compatible string")
	}
	if n.Compatible("netcope,bus,mi") {
		t.Fatal("unexpected compatible match")
	}
}

func TestNodesCompatible(t *testing.T) {
	tree, err := Parse(sampleBlob())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	matches := tree.NodesCompatible("cesnet,dma_ctrl_calypte_rx")
	if len(matches) != 1 || matches[0].Path != "/ctrl" {
		t.Fatalf("NodesCompatible = %v, want [/ctrl]", matches)
	}
}

func TestMissingPathReturnsError(t *testing.T) {
	tree, err := Parse(sampleBlob())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := tree.NodeByPath("/drivers/ndp/rx_queues/rx99"); err == nil {
		t.Fatal("expected error for missing path")
	}
}
