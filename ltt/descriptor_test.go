// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

import "testing"

var testParams = FileParams{IntSize: 4, LongSize: 8, PointerSize: 8, SizeTSize: 8, HasAlignment: 0}

func TestAddFromDescriptorFixed(t *testing.T) {
	d := &Descriptor{
		Name:     "test",
		Checksum: 0x1,
		Events: []EventDescriptor{
			{
				Name: "simple",
				Fields: []FieldDescriptor{
					{Name: "a", Type: &TypeDescriptor{Kind: KindInt, IntSize: 4}},
					{Name: "b", Type: &TypeDescriptor{Kind: KindLong}},
				},
			},
		},
	}
	fac, err := AddFromDescriptor(0, d, 0x1, testParams)
	if err != nil {
		t.Fatalf("AddFromDescriptor: %v", err)
	}
	et := &fac.EventTypes[0]
	if et.Fields[0].FixedRoot != StatusFixed || et.Fields[0].OffsetRoot != 0 || et.Fields[0].FieldSize != 4 {
		t.Errorf("field a: %+v", et.Fields[0])
	}
	if et.Fields[1].FixedRoot != StatusFixed || et.Fields[1].OffsetRoot != 4 || et.Fields[1].FieldSize != 8 {
		t.Errorf("field b: %+v", et.Fields[1])
	}
}

func TestAddFromDescriptorChecksumMismatch(t *testing.T) {
	d := &Descriptor{Name: "test", Checksum: 0x1}
	if _, err := AddFromDescriptor(0, d, 0x2, testParams); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestAddFromDescriptorVariableTail(t *testing.T) {
	d := &Descriptor{
		Name:     "test",
		Checksum: 0x1,
		Events: []EventDescriptor{
			{
				Name: "withstring",
				Fields: []FieldDescriptor{
					{Name: "a", Type: &TypeDescriptor{Kind: KindInt, IntSize: 4}},
					{Name: "s", Type: &TypeDescriptor{Kind: KindString}},
					{Name: "c", Type: &TypeDescriptor{Kind: KindInt, IntSize: 4}},
				},
			},
		},
	}
	fac, err := AddFromDescriptor(0, d, 0x1, testParams)
	if err != nil {
		t.Fatalf("AddFromDescriptor: %v", err)
	}
	et := &fac.EventTypes[0]
	if et.Fields[0].FixedRoot != StatusFixed {
		t.Errorf("field a should be fixed root, got %v", et.Fields[0].FixedRoot)
	}
	if et.Fields[1].FixedSize != StatusVariable {
		t.Errorf("string field should be variable size")
	}
	if et.Fields[2].FixedRoot != StatusVariable {
		t.Errorf("field c follows a variable field, should have variable root, got %v", et.Fields[2].FixedRoot)
	}
}

func TestAddFromDescriptorNamedStructSharing(t *testing.T) {
	member := &TypeDescriptor{Kind: KindStruct, Name: "shared_t", Fields: []FieldDescriptor{
		{Name: "x", Type: &TypeDescriptor{Kind: KindInt, IntSize: 4}},
	}}
	d := &Descriptor{
		Name:     "test",
		Checksum: 0x1,
		Events: []EventDescriptor{
			{Name: "e1", Fields: []FieldDescriptor{{Name: "m", Type: member}}},
			{Name: "e2", Fields: []FieldDescriptor{
				{Name: "pad", Type: &TypeDescriptor{Kind: KindInt, IntSize: 4}},
				{Name: "m", Type: &TypeDescriptor{Kind: KindStruct, Name: "shared_t"}},
			}},
		},
	}
	fac, err := AddFromDescriptor(0, d, 0x1, testParams)
	if err != nil {
		t.Fatalf("AddFromDescriptor: %v", err)
	}
	if fac.EventTypes[0].Fields[0].Type != fac.EventTypes[1].Fields[1].Type {
		t.Fatal("expected shared_t to intern to the same TypeID in both events")
	}
	// The two occurrences must not alias each other's offset state: e1's
	// "m" sits at root offset 0, e2's at root offset 4.
	if got := fac.EventTypes[0].Fields[0].OffsetRoot; got != 0 {
		t.Errorf("e1.m.OffsetRoot = %d, want 0", got)
	}
	if got := fac.EventTypes[1].Fields[1].OffsetRoot; got != 4 {
		t.Errorf("e2.m.OffsetRoot = %d, want 4", got)
	}
}

func TestAddFromDescriptorVariableUnionRejected(t *testing.T) {
	d := &Descriptor{
		Name:     "test",
		Checksum: 0x1,
		Events: []EventDescriptor{
			{Name: "badunion", Fields: []FieldDescriptor{
				{Name: "u", Type: &TypeDescriptor{Kind: KindUnion, Fields: []FieldDescriptor{
					{Name: "s", Type: &TypeDescriptor{Kind: KindString}},
				}}},
			}},
		},
	}
	if _, err := AddFromDescriptor(0, d, 0x1, testParams); err == nil {
		t.Fatal("expected error for union with variable-size member")
	}
}
