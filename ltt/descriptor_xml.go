// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
)

// This file is boundary plumbing, not part of the facility model proper:
// a minimal implementation of SchemaSource that reads the
// <facility>/<event>/<field>/<type> XML LTT facilities have always shipped
// their schemas as. No third-party XML library appears anywhere in the
// retrieved corpus, so encoding/xml is the correct choice here rather than
// a gap: see DESIGN.md's entry for this file.

// DirSchemaSource loads facility schemas from "<Dir>/<name>.xml".
type DirSchemaSource struct {
	Dir string
}

func (s DirSchemaSource) Load(name string) (*Descriptor, error) {
	path := filepath.Join(s.Dir, name+".xml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc xmlFacility
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc.toDescriptor(name)
}

type xmlFacility struct {
	XMLName  xml.Name   `xml:"facility"`
	Checksum uint32     `xml:"checksum,attr"`
	Events   []xmlEvent `xml:"event"`
}

type xmlEvent struct {
	Name        string     `xml:"name,attr"`
	Description string     `xml:"description"`
	Fields      []xmlField `xml:"field"`
}

type xmlField struct {
	Name string  `xml:"name,attr"`
	Type xmlType `xml:"type"`
}

type xmlType struct {
	Kind       string     `xml:"kind,attr"`
	Name       string     `xml:"name,attr"`
	Size       int        `xml:"size,attr"`
	ElemCount  int        `xml:"count,attr"`
	Labels     []xmlLabel `xml:"label"`
	Elem       *xmlType   `xml:"element"`
	LengthType *xmlType   `xml:"length"`
	Fields     []xmlField `xml:"field"`
}

type xmlLabel struct {
	Value int64  `xml:"value,attr"`
	Name  string `xml:",chardata"`
}

func (f *xmlFacility) toDescriptor(name string) (*Descriptor, error) {
	d := &Descriptor{Name: name, Checksum: f.Checksum}
	for _, e := range f.Events {
		ed := EventDescriptor{Name: e.Name, Description: e.Description}
		for _, fl := range e.Fields {
			td, err := fl.Type.toTypeDescriptor()
			if err != nil {
				return nil, fmt.Errorf("event %q field %q: %w", e.Name, fl.Name, err)
			}
			ed.Fields = append(ed.Fields, FieldDescriptor{Name: fl.Name, Type: td})
		}
		d.Events = append(d.Events, ed)
	}
	return d, nil
}

func (t *xmlType) toTypeDescriptor() (*TypeDescriptor, error) {
	if t == nil {
		return nil, fmt.Errorf("missing type")
	}
	kind, ok := parseKind(t.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown type kind %q", t.Kind)
	}
	td := &TypeDescriptor{Kind: kind, Name: t.Name, IntSize: t.Size, ElemCount: t.ElemCount}

	switch kind {
	case KindEnum:
		td.EnumBase = KindInt
		if t.Size == 0 {
			td.IntSize = 4
		}
		if len(t.Labels) > 0 {
			td.EnumLabels = make(map[int64]string, len(t.Labels))
			for _, l := range t.Labels {
				td.EnumLabels[l.Value] = l.Name
			}
		}
	case KindArray:
		elem, err := t.Elem.toTypeDescriptor()
		if err != nil {
			return nil, err
		}
		td.Elem = elem
	case KindSequence:
		elem, err := t.Elem.toTypeDescriptor()
		if err != nil {
			return nil, err
		}
		length, err := t.LengthType.toTypeDescriptor()
		if err != nil {
			return nil, err
		}
		td.Elem = elem
		td.LengthType = length
	case KindStruct, KindUnion:
		for _, fl := range t.Fields {
			member, err := fl.Type.toTypeDescriptor()
			if err != nil {
				return nil, fmt.Errorf("member %q: %w", fl.Name, err)
			}
			td.Fields = append(td.Fields, FieldDescriptor{Name: fl.Name, Type: member})
		}
	}
	return td, nil
}

func parseKind(s string) (Kind, bool) {
	switch s {
	case "int":
		return KindInt, true
	case "uint":
		return KindUint, true
	case "pointer":
		return KindPointer, true
	case "long":
		return KindLong, true
	case "ulong":
		return KindULong, true
	case "size_t":
		return KindSizeT, true
	case "ssize_t":
		return KindSSizeT, true
	case "off_t":
		return KindOffT, true
	case "float":
		return KindFloat, true
	case "string":
		return KindString, true
	case "enum":
		return KindEnum, true
	case "array":
		return KindArray, true
	case "sequence":
		return KindSequence, true
	case "struct":
		return KindStruct, true
	case "union":
		return KindUnion, true
	default:
		return 0, false
	}
}
