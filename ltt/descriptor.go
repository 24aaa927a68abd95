// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

import "fmt"

// This file implements the rest of the facility model (component B) and
// the field-resolution pre-pass (component E's preset_field_type_size).
//
// Descriptor is the abstract output of the XML schema parser, which
// this package treats as an opaque producer of abstract facility
// descriptors"). AddFromDescriptor is the one-shot construction step that
// turns a Descriptor into a Facility's interned type arena and event types,
// exactly the role ltt_facility_open/ltt_facility_construct_event_types
// play in the original around a parsed XML tree.

// Descriptor is a parsed facility schema, as the (out-of-scope) XML parser
// would produce it.
type Descriptor struct {
	Name     string
	Checksum uint32
	Events   []EventDescriptor
}

// EventDescriptor describes one event type within a facility schema.
type EventDescriptor struct {
	Name        string
	Description string
	Fields      []FieldDescriptor
}

// FieldDescriptor describes one field of an event type or struct/union.
type FieldDescriptor struct {
	Name string
	Type *TypeDescriptor
}

// TypeDescriptor is the pre-arena representation of a Type: a tree (or DAG,
// via Name) as the schema parser would emit it, before AddFromDescriptor
// interns it into a Facility's type arena.
type TypeDescriptor struct {
	Kind Kind
	Name string // non-empty for a named type to be interned and shared

	IntSize int // KindInt/KindUint/KindFloat/KindEnum

	EnumBase   Kind
	EnumLabels map[int64]string

	ElemCount int             // KindArray
	Elem      *TypeDescriptor // KindArray, KindSequence

	LengthType *TypeDescriptor // KindSequence

	Fields []FieldDescriptor // KindStruct, KindUnion
}

// AddFromDescriptor consumes a parsed schema descriptor and builds a new,
// fully resolved Facility: it interns the type graph, builds each event
// type's field tree, and runs the preset pass (preset_field_type_size) so
// that per-event field resolution (resolve.go) only has to re-walk the
// variable-sized portions of each event.
//
// checksum is the checksum recorded in the facility_load event that
// triggered this load; it must match d.Checksum (SchemaMismatch otherwise).
func AddFromDescriptor(facID int, d *Descriptor, checksum uint32, params FileParams) (*Facility, error) {
	if d.Checksum != checksum {
		return nil, newError(SchemaMismatch, fmt.Sprintf(
			"facility %q: event checksum %#x does not match schema checksum %#x",
			d.Name, checksum, d.Checksum))
	}

	fac := newFacility()
	fac.Name = d.Name
	fac.ID = facID
	fac.Checksum = checksum
	fac.IntSize = params.IntSize
	fac.LongSize = params.LongSize
	fac.PointerSize = params.PointerSize
	fac.SizeTSize = params.SizeTSize
	fac.HasAlignment = params.HasAlignment

	fac.EventTypes = make([]EventType, len(d.Events))
	for i, ed := range d.Events {
		et := &fac.EventTypes[i]
		et.Name = ed.Name
		et.Description = ed.Description
		et.Facility = fac
		et.ID = i
		et.Fields = make([]Field, len(ed.Fields))
		for j, fd := range ed.Fields {
			tid, err := internDescriptor(fac, fd.Type)
			if err != nil {
				return nil, fmt.Errorf("facility %q event %q field %q: %w", d.Name, ed.Name, fd.Name, err)
			}
			et.Fields[j] = Field{Name: fd.Name, Type: tid}
			populateChildren(fac, &et.Fields[j])
		}
	}

	for i := range fac.EventTypes {
		if err := presetEventType(fac, &fac.EventTypes[i]); err != nil {
			return nil, fmt.Errorf("facility %q event %q: %w", d.Name, fac.EventTypes[i].Name, err)
		}
	}

	fac.Exists = true
	return fac, nil
}

// internDescriptor turns a TypeDescriptor into an interned TypeID,
// recursively interning its children first. Named types are interned once;
// a later descriptor bearing the same name within the same facility
// resolves to the already-interned TypeID, implementing the type graph's
// sharing.
func internDescriptor(fac *Facility, td *TypeDescriptor) (TypeID, error) {
	if td.Name != "" {
		if id, ok := fac.LookupNamed(td.Name); ok {
			return id, nil
		}
	}

	t := Type{Kind: td.Kind, Name: td.Name, IntSize: td.IntSize}

	switch td.Kind {
	case KindEnum:
		t.EnumBase = td.EnumBase
		t.EnumLabels = td.EnumLabels

	case KindArray:
		elemID, err := internDescriptor(fac, td.Elem)
		if err != nil {
			return 0, err
		}
		t.ElemCount = td.ElemCount
		t.Elem = elemID

	case KindSequence:
		lenID, err := internDescriptor(fac, td.LengthType)
		if err != nil {
			return 0, err
		}
		elemID, err := internDescriptor(fac, td.Elem)
		if err != nil {
			return 0, err
		}
		t.LengthType = lenID
		t.SeqElem = elemID

	case KindStruct, KindUnion:
		t.Fields = make([]Field, len(td.Fields))
		for i, fd := range td.Fields {
			memberID, err := internDescriptor(fac, fd.Type)
			if err != nil {
				return 0, err
			}
			t.Fields[i] = Field{Name: fd.Name, Type: memberID}
		}
	}

	return fac.internType(t), nil
}

// populateChildren gives field its own private copy of its type's member
// field list (for struct/union types) so that offset-resolution state
// (computed by presetField/resolveField) never aliases across the multiple
// occurrences of a shared named type. See the design note on named types:
// the Type graph is shared and immutable; Field occurrences are not.
func populateChildren(fac *Facility, field *Field) {
	t := fac.Type(field.Type)
	if t.Kind != KindStruct && t.Kind != KindUnion {
		return
	}
	field.Children = make([]Field, len(t.Fields))
	for i := range t.Fields {
		field.Children[i] = Field{Name: t.Fields[i].Name, Type: t.Fields[i].Type}
		populateChildren(fac, &field.Children[i])
	}
}

// presetEventType runs the preset pass over every top-level field of et,
// treating the ordered field list as an implicit struct rooted at offset 0
// (mirrors preset_field_type_size's LTT_STRUCT case, applied to the
// synthetic root field every real event type has in the original).
func presetEventType(fac *Facility, et *EventType) error {
	fixedRoot := StatusFixed
	currentRootOffset := 0
	currentOffset := 0
	currentChildStatus := StatusFixed
	for i := range et.Fields {
		currentRootOffset += align(currentRootOffset, naturalAlignment(fac, &et.Fields[i]), fac.HasAlignment)
		currentOffset += align(currentOffset, naturalAlignment(fac, &et.Fields[i]), fac.HasAlignment)
		if err := presetField(fac, &fixedRoot, &currentChildStatus, currentRootOffset, currentOffset, &et.Fields[i]); err != nil {
			return err
		}
		if currentChildStatus == StatusFixed {
			currentRootOffset += et.Fields[i].FieldSize
			currentOffset += et.Fields[i].FieldSize
		} else {
			currentRootOffset = 0
			currentOffset = 0
		}
	}
	return nil
}

// presetField is the direct translation of preset_field_type_size: it
// determines, once and for all, whether field's offset from the event root
// is the same for every event of this type (FixedRoot) and whether field's
// own size is position-independent (FixedSize), recursing into composite
// kinds. fixedRoot and fixedParent are shared, in/out, across all sibling
// calls at the same nesting level, exactly as in the original: once one
// sibling goes variable, every later sibling does too.
func presetField(fac *Facility, fixedRoot, fixedParent *FieldStatus, offsetRoot, offsetParent int, field *Field) error {
	_ = offsetParent
	t := fac.Type(field.Type)

	field.FixedRoot = *fixedRoot
	if field.FixedRoot == StatusFixed {
		field.OffsetRoot = offsetRoot
	} else {
		field.OffsetRoot = 0
	}

	switch t.Kind {
	case KindInt, KindUint, KindFloat, KindEnum:
		field.FieldSize = t.IntSize
		field.FixedSize = StatusFixed

	case KindPointer:
		field.FieldSize = facilityPointerSize(fac, t)
		field.FixedSize = StatusFixed

	case KindLong, KindULong:
		field.FieldSize = fac.LongSize
		field.FixedSize = StatusFixed

	case KindSizeT, KindSSizeT, KindOffT:
		field.FieldSize = fac.SizeTSize
		field.FixedSize = StatusFixed

	case KindString:
		field.FixedSize = StatusVariable
		field.FieldSize = 0
		*fixedRoot = StatusVariable
		*fixedParent = StatusVariable

	case KindSequence:
		localRoot, localParent := StatusVariable, StatusVariable
		elem := &Field{Type: t.SeqElem}
		populateChildren(fac, elem)
		if err := presetField(fac, &localRoot, &localParent, 0, 0, elem); err != nil {
			return err
		}
		field.FixedSize = StatusVariable
		field.FieldSize = 0
		*fixedRoot = StatusVariable
		*fixedParent = StatusVariable

	case KindArray:
		localRoot, localParent := StatusVariable, StatusVariable
		elem := &Field{Type: t.Elem}
		populateChildren(fac, elem)
		if err := presetField(fac, &localRoot, &localParent, 0, 0, elem); err != nil {
			return err
		}
		field.FixedSize = elem.FixedSize
		if field.FixedSize == StatusFixed {
			field.FieldSize = t.ElemCount * elem.FieldSize
		} else {
			field.FieldSize = 0
			*fixedRoot = StatusVariable
			*fixedParent = StatusVariable
		}

	case KindStruct:
		currentRootOffset := offsetRoot
		currentOffset := 0
		currentChildStatus := StatusFixed
		for i := range field.Children {
			currentRootOffset += align(currentRootOffset, naturalAlignment(fac, &field.Children[i]), fac.HasAlignment)
			currentOffset += align(currentOffset, naturalAlignment(fac, &field.Children[i]), fac.HasAlignment)
			if err := presetField(fac, fixedRoot, &currentChildStatus, currentRootOffset, currentOffset, &field.Children[i]); err != nil {
				return err
			}
			if currentChildStatus == StatusFixed {
				currentRootOffset += field.Children[i].FieldSize
				currentOffset += field.Children[i].FieldSize
			} else {
				currentRootOffset = 0
				currentOffset = 0
			}
		}
		if currentChildStatus != StatusFixed {
			*fixedParent = currentChildStatus
			field.FieldSize = 0
			field.FixedSize = currentChildStatus
		} else {
			field.FieldSize = currentOffset
			field.FixedSize = StatusFixed
		}

	case KindUnion:
		currentRootOffset := offsetRoot
		maxSize := 0
		finalChildStatus := StatusFixed
		for i := range field.Children {
			rootChild, parentChild := StatusFixed, StatusFixed
			if err := presetField(fac, &rootChild, &parentChild, currentRootOffset, 0, &field.Children[i]); err != nil {
				return err
			}
			if parentChild != StatusFixed {
				finalChildStatus = parentChild
			} else if field.Children[i].FieldSize > maxSize {
				maxSize = field.Children[i].FieldSize
			}
		}
		if finalChildStatus != StatusFixed {
			// a union's size is
			// the union field's declared size, which is underdetermined
			// for variable-size members. Reject at facility load instead
			// of guessing.
			return newError(SizeMismatch, "union with variable-size member is not supported")
		}
		field.FieldSize = maxSize
		field.FixedSize = StatusFixed
	}

	return nil
}

func facilityPointerSize(fac *Facility, t *Type) int {
	if t.IntSize != 0 {
		return t.IntSize
	}
	return fac.PointerSize
}

// naturalAlignment returns the alignment unit a field of Kind k should be
// padded to, mirroring the original's per-type alignment: scalars align on
// their own size; composite and variable-length kinds align on the
// facility's maximum alignment (conservative, but matches the common case
// of LTT traces recording no struct with looser alignment than the host's
// natural word size).
func naturalAlignment(fac *Facility, field *Field) int {
	t := fac.Type(field.Type)
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
		return fac.HasAlignment
	}
}
