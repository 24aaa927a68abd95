// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

import "fmt"

// This file implements the field offset resolver (component E): given one
// event's raw payload, it computes the byte offset and size of every field,
// reusing the facility-load-time cached values from descriptor.go's preset
// pass wherever FixedRoot/FixedSize say they can't vary, and walking the
// payload only for the genuinely variable portions (strings, sequences,
// and anything nested under them).
//
// Per the design note on parent back-pointers, resolution threads the
// parent's offset through an explicit recursion parameter (and reads the
// alignment from fac.HasAlignment) rather than off a stored field.parent.

// ResolvedField is the per-event-instance result of resolving one field:
// its offset and size within that specific event's payload.
type ResolvedField struct {
	Offset int
	Size   int

	// Children mirrors field.Children for struct/union fields, resolved
	// against this same event's payload.
	Children []ResolvedField

	// Elements holds one ResolvedField per element for array/sequence
	// fields; Count is the runtime sequence length (equal to the type's
	// ElemCount for arrays).
	Elements []ResolvedField
	Count    int
}

// ResolveFields resolves fields against payload, where fields[0] begins at
// rootOffset. It is the entry point event.go's payload decoder calls once
// per decoded event.
func ResolveFields(fac *Facility, fields []Field, payload []byte, rootOffset int, reverseBO bool) ([]ResolvedField, error) {
	out := make([]ResolvedField, len(fields))
	offset := rootOffset
	for i := range fields {
		offset += align(offset, naturalAlignment(fac, &fields[i]), fac.HasAlignment)
		rf, size, err := resolveField(fac, &fields[i], payload, offset, reverseBO)
		if err != nil {
			return nil, err
		}
		out[i] = rf
		offset += size
	}
	return out, nil
}

func resolveField(fac *Facility, field *Field, payload []byte, offset int, reverseBO bool) (ResolvedField, int, error) {
	if field.FixedRoot == StatusFixed && field.FixedSize == StatusFixed {
		return resolveFixedField(fac, field, payload, field.OffsetRoot)
	}

	t := fac.Type(field.Type)
	switch t.Kind {
	case KindInt, KindUint, KindFloat, KindEnum, KindPointer, KindLong, KindULong, KindSizeT, KindSSizeT, KindOffT:
		size := scalarSize(fac, t)
		if offset+size > len(payload) {
			return ResolvedField{}, 0, newError(Truncated, fmt.Sprintf("scalar field %q runs past payload", field.Name))
		}
		return ResolvedField{Offset: offset, Size: size}, size, nil

	case KindString:
		n := 0
		for offset+n < len(payload) && payload[offset+n] != 0 {
			n++
		}
		if offset+n >= len(payload) {
			return ResolvedField{}, 0, newError(Truncated, fmt.Sprintf("string field %q has no terminator", field.Name))
		}
		size := n + 1
		// A string's end is realigned to the facility's pointer size on
		// its own, independent of whatever field (if any) follows it.
		size += align(offset+size, facilityPointerSize(fac, t), fac.HasAlignment)
		return ResolvedField{Offset: offset, Size: size}, size, nil

	case KindArray:
		return resolveRepeated(fac, field, t.Elem, t.ElemCount, payload, offset, reverseBO)

	case KindSequence:
		lenField := &Field{Type: t.LengthType}
		lenType := fac.Type(t.LengthType)
		lenSize := scalarSize(fac, lenType)
		if offset+lenSize > len(payload) {
			return ResolvedField{}, 0, newError(Truncated, fmt.Sprintf("sequence field %q length prefix runs past payload", field.Name))
		}
		count := int(decodeUint(fac, lenType, payload[offset:offset+lenSize], reverseBO))
		_ = lenField
		rf, size, err := resolveRepeated(fac, field, t.SeqElem, count, payload, offset+lenSize, reverseBO)
		if err != nil {
			return ResolvedField{}, 0, err
		}
		rf.Offset = offset
		rf.Size = lenSize + size
		return rf, lenSize + size, nil

	case KindStruct:
		children := make([]ResolvedField, len(field.Children))
		cur := offset
		for i := range field.Children {
			cur += align(cur, naturalAlignment(fac, &field.Children[i]), fac.HasAlignment)
			rf, size, err := resolveField(fac, &field.Children[i], payload, cur, reverseBO)
			if err != nil {
				return ResolvedField{}, 0, err
			}
			children[i] = rf
			cur += size
		}
		return ResolvedField{Offset: offset, Size: cur - offset, Children: children}, cur - offset, nil

	case KindUnion:
		children := make([]ResolvedField, len(field.Children))
		maxSize := 0
		for i := range field.Children {
			rf, size, err := resolveField(fac, &field.Children[i], payload, offset, reverseBO)
			if err != nil {
				return ResolvedField{}, 0, err
			}
			children[i] = rf
			if size > maxSize {
				maxSize = size
			}
		}
		return ResolvedField{Offset: offset, Size: maxSize, Children: children}, maxSize, nil
	}

	return ResolvedField{}, 0, newError(Protocol, fmt.Sprintf("field %q has unknown type kind", field.Name))
}

// resolveFixedField reads back the facility-load-time cached values for a
// field whose offset and size never vary between events, recursing only to
// populate Children/Elements for callers that need the full tree (the
// offsets themselves are already correct without a fresh walk).
func resolveFixedField(fac *Facility, field *Field, payload []byte, offset int) (ResolvedField, int, error) {
	t := fac.Type(field.Type)
	switch t.Kind {
	case KindStruct, KindUnion:
		children := make([]ResolvedField, len(field.Children))
		for i := range field.Children {
			rf, _, err := resolveFixedField(fac, &field.Children[i], payload, field.Children[i].OffsetRoot)
			if err != nil {
				return ResolvedField{}, 0, err
			}
			children[i] = rf
		}
		return ResolvedField{Offset: offset, Size: field.FieldSize, Children: children}, field.FieldSize, nil
	case KindArray:
		elemField := &Field{Type: t.Elem}
		populateChildren(fac, elemField)
		elemSize := field.FieldSize / maxInt(t.ElemCount, 1)
		elements := make([]ResolvedField, t.ElemCount)
		cur := offset
		for i := 0; i < t.ElemCount; i++ {
			rf, _, err := resolveFixedFieldAt(fac, elemField, payload, cur, elemSize)
			if err != nil {
				return ResolvedField{}, 0, err
			}
			elements[i] = rf
			cur += elemSize
		}
		return ResolvedField{Offset: offset, Size: field.FieldSize, Elements: elements, Count: t.ElemCount}, field.FieldSize, nil
	default:
		if offset+field.FieldSize > len(payload) {
			return ResolvedField{}, 0, newError(Truncated, fmt.Sprintf("field %q runs past payload", field.Name))
		}
		return ResolvedField{Offset: offset, Size: field.FieldSize}, field.FieldSize, nil
	}
}

func resolveFixedFieldAt(fac *Facility, field *Field, payload []byte, offset, size int) (ResolvedField, int, error) {
	t := fac.Type(field.Type)
	if t.Kind == KindStruct || t.Kind == KindUnion {
		children := make([]ResolvedField, len(field.Children))
		cur := offset
		for i := range field.Children {
			cur += align(cur, naturalAlignment(fac, &field.Children[i]), fac.HasAlignment)
			rf, sz, err := resolveFixedFieldAt(fac, &field.Children[i], payload, cur, field.Children[i].FieldSize)
			if err != nil {
				return ResolvedField{}, 0, err
			}
			children[i] = rf
			cur += sz
		}
		return ResolvedField{Offset: offset, Size: size, Children: children}, size, nil
	}
	if offset+size > len(payload) {
		return ResolvedField{}, 0, newError(Truncated, "fixed-size array element runs past payload")
	}
	return ResolvedField{Offset: offset, Size: size}, size, nil
}

// resolveRepeated resolves count homogeneous elements of elemType starting
// at offset, used by both KindArray (fixed count) and KindSequence
// (runtime count) in the variable-size path.
func resolveRepeated(fac *Facility, field *Field, elemType TypeID, count int, payload []byte, offset int, reverseBO bool) (ResolvedField, int, error) {
	elements := make([]ResolvedField, count)
	cur := offset
	for i := 0; i < count; i++ {
		elemField := &Field{Type: elemType}
		populateChildren(fac, elemField)
		cur += align(cur, naturalAlignment(fac, elemField), fac.HasAlignment)
		rf, size, err := resolveField(fac, elemField, payload, cur, reverseBO)
		if err != nil {
			return ResolvedField{}, 0, fmt.Errorf("field %q element %d: %w", field.Name, i, err)
		}
		elements[i] = rf
		cur += size
	}
	return ResolvedField{Elements: elements, Count: count}, cur - offset, nil
}

func scalarSize(fac *Facility, t *Type) int {
	switch t.Kind {
	case KindInt, KindUint, KindFloat, KindEnum:
		return t.IntSize
	case KindPointer:
		return facilityPointerSize(fac, t)
	case KindLong, KindULong:
		return fac.LongSize
	case KindSizeT, KindSSizeT, KindOffT:
		return fac.SizeTSize
	default:
		return 0
	}
}

func decodeUint(fac *Facility, t *Type, buf []byte, reverseBO bool) uint64 {
	switch scalarSize(fac, t) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(getU16(reverseBO, buf))
	case 4:
		return uint64(getU32(reverseBO, buf))
	default:
		return getU64(reverseBO, buf)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
