// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package fdt decodes a Flattened Device Tree blob, the binary format the
// card uses to describe its firmware personality: which controllers exist,
// where their registers live, and how the RX/TX queues are wired.
//
// Nothing in the retrieval pack ships a binary FDT decoder: google-periph's
// host/distro package only reads the two textual /proc/device-tree files the
// Linux kernel itself exposes (model, compatible), never a raw blob. This
// package is therefore hand-written against the dtc wire format, the same
// way the original C driver links against libfdt. See DESIGN.md for the
// stdlib-only justification.
package fdt

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/CESNET/ndk-sw-sub000/errs"
)

const (
	magic        = 0xd00dfeed
	tokenBeginNode = 0x00000001
	tokenEndNode   = 0x00000002
	tokenProp      = 0x00000003
	tokenNop       = 0x00000004
	tokenEnd       = 0x00000009
)

type header struct {
	Magic          uint32
	TotalSize      uint32
	OffDtStruct    uint32
	OffDtStrings   uint32
	OffMemRsvmap   uint32
	Version        uint32
	LastCompVer    uint32
	BootCpuidPhys  uint32
	SizeDtStrings  uint32
	SizeDtStruct   uint32
}

// Node is one node of the decoded tree: its full path, its property values
// keyed by name, and the offsets of its children in Tree.Nodes.
type Node struct {
	Path       string
	Props      map[string][]byte
	Phandle    uint32
	Children   []int
	Parent     int
}

// Tree is a fully decoded FDT blob.
type Tree struct {
	raw       []byte
	TotalSize uint32
	Nodes     []Node
	byPath    map[string]int
	byPhandle map[uint32]int
}

// Parse decodes a raw FDT blob into a Tree.
func Parse(blob []byte) (*Tree, error) {
	if len(blob) < 40 {
		return nil, fmt.Errorf("fdt: blob too small: %w", errs.BadFormat)
	}
	var h header
	h.Magic = binary.BigEndian.Uint32(blob[0:4])
	if h.Magic != magic {
		return nil, fmt.Errorf("fdt: bad magic 0x%x: %w", h.Magic, errs.BadFormat)
	}
	h.TotalSize = binary.BigEndian.Uint32(blob[4:8])
	h.OffDtStruct = binary.BigEndian.Uint32(blob[8:12])
	h.OffDtStrings = binary.BigEndian.Uint32(blob[12:16])
	h.Version = binary.BigEndian.Uint32(blob[20:24])
	if int(h.TotalSize) > len(blob) {
		return nil, fmt.Errorf("fdt: declared size %d exceeds blob length %d: %w", h.TotalSize, len(blob), errs.BadFormat)
	}

	t := &Tree{
		raw:       blob,
		TotalSize: h.TotalSize,
		byPath:    map[string]int{},
		byPhandle: map[uint32]int{},
	}

	off := h.OffDtStruct
	stack := []int{-1}
	pathStack := []string{""}

	for {
		if off+4 > uint32(len(blob)) {
			return nil, fmt.Errorf("fdt: struct block overrun: %w", errs.BadFormat)
		}
		tok := binary.BigEndian.Uint32(blob[off : off+4])
		off += 4
		switch tok {
		case tokenNop:
			continue
		case tokenEnd:
			return t, nil
		case tokenBeginNode:
			name, n := readCString(blob[off:])
			off += align4(uint32(n))
			parent := stack[len(stack)-1]
			path := pathStack[len(pathStack)-1]
			if path == "" {
				path = "/"
			} else if !strings.HasSuffix(path, "/") {
				path += "/"
			}
			full := path + name
			if name == "" {
				full = "/"
			}
			idx := len(t.Nodes)
			t.Nodes = append(t.Nodes, Node{Path: full, Props: map[string][]byte{}, Parent: parent})
			if parent >= 0 {
				t.Nodes[parent].Children = append(t.Nodes[parent].Children, idx)
			}
			t.byPath[full] = idx
			stack = append(stack, idx)
			pathStack = append(pathStack, full)
		case tokenEndNode:
			stack = stack[:len(stack)-1]
			pathStack = pathStack[:len(pathStack)-1]
		case tokenProp:
			if off+8 > uint32(len(blob)) {
				return nil, fmt.Errorf("fdt: truncated prop header: %w", errs.BadFormat)
			}
			plen := binary.BigEndian.Uint32(blob[off : off+4])
			nameoff := binary.BigEndian.Uint32(blob[off+4 : off+8])
			off += 8
			if off+plen > uint32(len(blob)) {
				return nil, fmt.Errorf("fdt: truncated prop value: %w", errs.BadFormat)
			}
			val := blob[off : off+plen]
			off += align4(plen)
			name, _ := readCString(blob[h.OffDtStrings+nameoff:])
			cur := stack[len(stack)-1]
			if cur < 0 {
				return nil, fmt.Errorf("fdt: property outside any node: %w", errs.BadFormat)
			}
			t.Nodes[cur].Props[name] = val
			if name == "phandle" || name == "linux,phandle" {
				if v, err := decodeU32(val); err == nil {
					t.Nodes[cur].Phandle = v
					t.byPhandle[v] = cur
				}
			}
		default:
			return nil, fmt.Errorf("fdt: unknown token 0x%x at offset %d: %w", tok, off-4, errs.BadFormat)
		}
	}
}

func align4(v uint32) uint32 {
	return (v + 3) &^ 3
}

func readCString(b []byte) (string, int) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), i + 1
		}
	}
	return string(b), len(b)
}

func decodeU32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, errs.BadFormat
	}
	return binary.BigEndian.Uint32(b), nil
}

func decodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errs.BadFormat
	}
	return binary.BigEndian.Uint64(b), nil
}

// NodeByPath looks a node up by its canonical path, e.g. "/drivers/ndp/rx_queues/rx0".
func (t *Tree) NodeByPath(path string) (*Node, error) {
	idx, ok := t.byPath[path]
	if !ok {
		return nil, fmt.Errorf("fdt: node %q: %w", path, errs.NoDevice)
	}
	return &t.Nodes[idx], nil
}

// NodeByPhandle resolves a <phandle> property value to the node it references.
func (t *Tree) NodeByPhandle(ph uint32) (*Node, error) {
	idx, ok := t.byPhandle[ph]
	if !ok {
		return nil, fmt.Errorf("fdt: phandle %d: %w", ph, errs.NoDevice)
	}
	return &t.Nodes[idx], nil
}

// Compatible reports whether the node's "compatible" property contains s
// among its NUL-separated strings, mirroring fdt_node_check_compatible.
func (n *Node) Compatible(s string) bool {
	raw, ok := n.Props["compatible"]
	if !ok {
		return false
	}
	for _, c := range strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00") {
		if c == s {
			return true
		}
	}
	return false
}

// PropU32 decodes a single big-endian uint32 property.
func (n *Node) PropU32(name string) (uint32, error) {
	raw, ok := n.Props[name]
	if !ok {
		return 0, fmt.Errorf("fdt: property %q: %w", name, errs.NoDevice)
	}
	v, err := decodeU32(raw)
	if err != nil {
		return 0, fmt.Errorf("fdt: property %q: %w", name, errs.BadFormat)
	}
	return v, nil
}

// PropU64 decodes a single big-endian uint64 property.
func (n *Node) PropU64(name string) (uint64, error) {
	raw, ok := n.Props[name]
	if !ok {
		return 0, fmt.Errorf("fdt: property %q: %w", name, errs.NoDevice)
	}
	v, err := decodeU64(raw)
	if err != nil {
		return 0, fmt.Errorf("fdt: property %q: %w", name, errs.BadFormat)
	}
	return v, nil
}

// PropString decodes a NUL-terminated string property.
func (n *Node) PropString(name string) (string, error) {
	raw, ok := n.Props[name]
	if !ok {
		return "", fmt.Errorf("fdt: property %q: %w", name, errs.NoDevice)
	}
	s, _ := readCString(raw)
	return s, nil
}

// Children returns the direct child nodes of n.
func (t *Tree) Children(n *Node) []*Node {
	out := make([]*Node, 0, len(n.Children))
	for _, idx := range n.Children {
		out = append(out, &t.Nodes[idx])
	}
	return out
}

// NodesCompatible returns every node in the tree whose compatible property
// contains s, mirroring fdt_for_each_compatible_node.
func (t *Tree) NodesCompatible(s string) []*Node {
	var out []*Node
	for i := range t.Nodes {
		if t.Nodes[i].Compatible(s) {
			out = append(out, &t.Nodes[i])
		}
	}
	return out
}
