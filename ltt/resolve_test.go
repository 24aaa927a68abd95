// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

import "testing"

func TestResolveFieldsFixed(t *testing.T) {
	d := &Descriptor{
		Name:     "test",
		Checksum: 1,
		Events: []EventDescriptor{{
			Name: "e",
			Fields: []FieldDescriptor{
				{Name: "a", Type: &TypeDescriptor{Kind: KindInt, IntSize: 4}},
				{Name: "b", Type: &TypeDescriptor{Kind: KindInt, IntSize: 4}},
			},
		}},
	}
	fac, err := AddFromDescriptor(0, d, 1, testParams)
	if err != nil {
		t.Fatalf("AddFromDescriptor: %v", err)
	}
	payload := []byte{1, 0, 0, 0, 2, 0, 0, 0}
	rfs, err := ResolveFields(fac, fac.EventTypes[0].Fields, payload, 0, false)
	if err != nil {
		t.Fatalf("ResolveFields: %v", err)
	}
	if rfs[0].Offset != 0 || rfs[0].Size != 4 {
		t.Errorf("a: %+v", rfs[0])
	}
	if rfs[1].Offset != 4 || rfs[1].Size != 4 {
		t.Errorf("b: %+v", rfs[1])
	}
}

func TestResolveFieldsStringThenInt(t *testing.T) {
	d := &Descriptor{
		Name:     "test",
		Checksum: 1,
		Events: []EventDescriptor{{
			Name: "e",
			Fields: []FieldDescriptor{
				{Name: "s", Type: &TypeDescriptor{Kind: KindString}},
				{Name: "c", Type: &TypeDescriptor{Kind: KindInt, IntSize: 4}},
			},
		}},
	}
	fac, err := AddFromDescriptor(0, d, 1, testParams)
	if err != nil {
		t.Fatalf("AddFromDescriptor: %v", err)
	}
	payload := append([]byte("hi\x00"), 9, 0, 0, 0)
	rfs, err := ResolveFields(fac, fac.EventTypes[0].Fields, payload, 0, false)
	if err != nil {
		t.Fatalf("ResolveFields: %v", err)
	}
	if rfs[0].Size != 3 {
		t.Errorf("string size = %d, want 3 (2 chars + NUL)", rfs[0].Size)
	}
	if rfs[1].Offset != 3 || rfs[1].Size != 4 {
		t.Errorf("c: %+v", rfs[1])
	}
}

func TestResolveFieldsSequence(t *testing.T) {
	d := &Descriptor{
		Name:     "test",
		Checksum: 1,
		Events: []EventDescriptor{{
			Name: "e",
			Fields: []FieldDescriptor{
				{Name: "seq", Type: &TypeDescriptor{
					Kind:       KindSequence,
					LengthType: &TypeDescriptor{Kind: KindUint, IntSize: 1},
					Elem:       &TypeDescriptor{Kind: KindInt, IntSize: 4},
				}},
			},
		}},
	}
	fac, err := AddFromDescriptor(0, d, 1, testParams)
	if err != nil {
		t.Fatalf("AddFromDescriptor: %v", err)
	}
	payload := []byte{2, 1, 0, 0, 0, 2, 0, 0, 0}
	rfs, err := ResolveFields(fac, fac.EventTypes[0].Fields, payload, 0, false)
	if err != nil {
		t.Fatalf("ResolveFields: %v", err)
	}
	if rfs[0].Count != 2 {
		t.Errorf("seq count = %d, want 2", rfs[0].Count)
	}
	if rfs[0].Size != 9 {
		t.Errorf("seq size = %d, want 9 (1 length byte + 2*4)", rfs[0].Size)
	}
}

func TestResolveFieldsStringAlignedToPointerSize(t *testing.T) {
	d := &Descriptor{
		Name:     "test",
		Checksum: 1,
		Events: []EventDescriptor{{
			Name: "e",
			Fields: []FieldDescriptor{
				{Name: "s", Type: &TypeDescriptor{Kind: KindString}},
				{Name: "c", Type: &TypeDescriptor{Kind: KindInt, IntSize: 4}},
			},
		}},
	}
	params := FileParams{IntSize: 4, LongSize: 8, PointerSize: 8, SizeTSize: 8, HasAlignment: 8}
	fac, err := AddFromDescriptor(0, d, 1, params)
	if err != nil {
		t.Fatalf("AddFromDescriptor: %v", err)
	}
	// "hi\x00" ends at offset 3; with 8-byte pointer alignment active the
	// string's own end pads out to offset 8 regardless of the following
	// field's (4-byte) alignment.
	payload := append([]byte("hi\x00"), make([]byte, 5)...)
	payload = append(payload, 9, 0, 0, 0)
	rfs, err := ResolveFields(fac, fac.EventTypes[0].Fields, payload, 0, false)
	if err != nil {
		t.Fatalf("ResolveFields: %v", err)
	}
	if rfs[0].Size != 8 {
		t.Errorf("string size = %d, want 8 (3 + 5 pad bytes to 8-byte alignment)", rfs[0].Size)
	}
	if rfs[1].Offset != 8 {
		t.Errorf("c offset = %d, want 8", rfs[1].Offset)
	}
}

func TestResolveFieldsTruncated(t *testing.T) {
	d := &Descriptor{
		Name:     "test",
		Checksum: 1,
		Events: []EventDescriptor{{
			Name:   "e",
			Fields: []FieldDescriptor{{Name: "a", Type: &TypeDescriptor{Kind: KindInt, IntSize: 4}}},
		}},
	}
	fac, err := AddFromDescriptor(0, d, 1, testParams)
	if err != nil {
		t.Fatalf("AddFromDescriptor: %v", err)
	}
	if _, err := ResolveFields(fac, fac.EventTypes[0].Fields, []byte{1, 2}, 0, false); err == nil {
		t.Fatal("expected Truncated error")
	}
}
