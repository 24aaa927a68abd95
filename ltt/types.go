// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

// This file implements the facility model's type system (component B):
// the polymorphic Type representation and the Field tree that event types
// are built from. Type is a tagged variant, and named types live in a
// per-Facility arena addressed by TypeID rather than as raw pointers, so
// sharing a named type across many fields doesn't need reference counting.

// Kind is the tag of a polymorphic Type.
type Kind uint8

const (
	KindInt Kind = iota
	KindUint
	KindPointer
	KindLong
	KindULong
	KindSizeT
	KindSSizeT
	KindOffT
	KindFloat
	KindString
	KindEnum
	KindArray
	KindSequence
	KindStruct
	KindUnion
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindPointer:
		return "pointer"
	case KindLong:
		return "long"
	case KindULong:
		return "ulong"
	case KindSizeT:
		return "size_t"
	case KindSSizeT:
		return "ssize_t"
	case KindOffT:
		return "off_t"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindEnum:
		return "enum"
	case KindArray:
		return "array"
	case KindSequence:
		return "sequence"
	case KindStruct:
		return "struct"
	case KindUnion:
		return "union"
	default:
		return "unknown"
	}
}

// TypeID addresses a Type within a Facility's type arena. The zero value is
// never a valid TypeID (TypeID i addresses arena slot i-1), so a zero
// TypeID can signal "absent" where needed (e.g. Elem or LengthType on a
// Type that is not an array or sequence).
type TypeID int

// Type is one node of a facility's type graph. Only the fields relevant to
// its Kind are meaningful; see the per-Kind comments.
type Type struct {
	Kind Kind
	Name string // non-empty for named types interned in Facility.named

	// KindInt, KindUint, KindEnum, KindFloat: size in bytes (1/2/4/8 for
	// int/uint/enum, 4/8 for float). KindPointer: a nonzero value
	// overrides the facility's PointerSize. Zero for every other Kind
	// (their size comes from the facility's FileParams: long/size_t sizes).
	IntSize int

	// KindEnum: the underlying integer representation and the label
	// table, stored as loaded from the descriptor. This package does not
	// decode enum values to labels.
	EnumBase   Kind
	EnumLabels map[int64]string

	// KindArray: fixed element count and element type.
	ElemCount int
	Elem      TypeID

	// KindSequence: the type of the length prefix (always an unsigned
	// integer type) and the element type.
	LengthType TypeID
	SeqElem    TypeID

	// KindStruct, KindUnion: ordered member fields. A union's Fields all
	// share offset 0 from the union's start; by decision,
	// "union size" requires every union member to be fixed-size at
	// facility-load time (enforced in AddFromDescriptor).
	Fields []Field
}

// FieldStatus is the tri-state precomputed once per field at facility load
// (preset_field_type_size in the original) and consulted during per-event
// resolution to skip re-walking portions of the field tree that can't vary.
type FieldStatus uint8

const (
	StatusUnknown FieldStatus = iota
	StatusVariable
	StatusFixed
)

// Field is one named member of a struct/union Type, or the top-level field
// list of an EventType (which is treated as an implicit struct).
//
// Name and Type are set once at facility load and never change. The
// remaining fields are "offset state": FixedRoot, FixedSize, OffsetRoot and
// FieldSize are computed once at load (preset_field_type_size). The field
// offset resolver (resolve.go) reads them but never writes to Field: its
// per-event offsets and sizes are returned as ResolvedField values.
// ArrayOffset and DynamicOffsets are not set by this package.
//
// Per the design note on parent/child back-pointers, Field does not carry a
// parent pointer: the resolver threads parent-alignment context explicitly
// through its recursion instead.
type Field struct {
	Name string
	Type TypeID

	FixedRoot FieldStatus
	FixedSize FieldStatus // whether this field's own size is position-independent

	OffsetRoot  int
	FieldSize   int
	ArrayOffset int
	// DynamicOffsets is always nil: per-event element offsets of an
	// Array/Sequence field are reported in ResolvedField.Elements.
	DynamicOffsets []int

	// Children holds this occurrence's private copy of a struct/union
	// member field list (built by populateChildren at facility load).
	// Named struct/union Types are shared across every field that
	// references them, but the offset state above is not, since two
	// occurrences of the same named type generally sit at different
	// offsets; Children gives each occurrence its own Field nodes to
	// hold that state instead of mutating the shared Type.Fields.
	Children []Field
}

// EventType is one kind of event owned by a Facility, with an ordered list
// of typed fields forming its payload layout.
type EventType struct {
	Name        string
	Description string
	Facility    *Facility
	ID          int
	Fields      []Field
}

// Facility holds the immutable schema for one loaded facility: its named
// types (interned, shared by TypeID) and its event types, keyed by event id.
//
// A Facility is created with Exists == false in a by-id array sized to
// NumFacilities (see registry.go) and populated exactly once by a
// facility_load event; it is never mutated again and never destroyed
// before the owning Trace.
type Facility struct {
	Exists   bool
	Name     string
	ID       int
	Checksum uint32

	// Primitive sizes this facility's events were compiled against. Per
	// these accompany every facility_load event and may differ
	// from trace to trace (though not, in practice, within one trace).
	IntSize, LongSize, PointerSize, SizeTSize int
	HasAlignment                              int // 0 disables alignment

	types []Type // arena; TypeID i addresses types[i-1]
	named map[string]TypeID

	EventTypes []EventType // indexed by event id within this facility
}

// FileParams carries the primitive-size and alignment fields read from the
// payload of one facility_load event in the control tracefile; the
// facility that event loads is compiled against them.
type FileParams struct {
	IntSize, LongSize, PointerSize, SizeTSize int
	HasAlignment                              int
}

func newFacility() *Facility {
	return &Facility{named: make(map[string]TypeID)}
}

// internType appends t to the arena and returns its TypeID. If t is named
// and a type of that name already exists, the existing TypeID is returned
// instead and t is discarded, so that multiple fields referencing the same
// named type share one Type node (the "owning graph with sharing" design).
func (f *Facility) internType(t Type) TypeID {
	if t.Name != "" {
		if id, ok := f.named[t.Name]; ok {
			return id
		}
	}
	f.types = append(f.types, t)
	id := TypeID(len(f.types))
	if t.Name != "" {
		f.named[t.Name] = id
	}
	return id
}

// Type resolves id to its Type. id must have been obtained from this same
// Facility; passing a TypeID from a different facility is a programming
// error and will return garbage or panic.
func (f *Facility) Type(id TypeID) *Type {
	return &f.types[id-1]
}

// LookupNamed returns the TypeID of the named type registered under name,
// or ok == false if no such type exists in this facility.
func (f *Facility) LookupNamed(name string) (TypeID, bool) {
	id, ok := f.named[name]
	return id, ok
}
