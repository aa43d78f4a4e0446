/*******************************************************************************
* Copyright (C) 2026 the Eclipse BaSyx Authors and Fraunhofer IESE
*
* Permission is hereby granted, free of charge, to any person obtaining
* a copy of this software and associated documentation files (the
* "Software"), to deal in the Software without restriction, including
* without limitation the rights to use, copy, modify, merge, publish,
* distribute, sublicense, and/or sell copies of the Software, and to
* permit persons to whom the Software is furnished to do so, subject to
* the following conditions:
*
* The above copyright notice and this permission notice shall be
* included in all copies or substantial portions of the Software.
*
* THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
* EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
* MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND
* NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE
* LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION
* OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION
* WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*
* SPDX-License-Identifier: MIT
******************************************************************************/

// Package leaf defines LeafRecord, the ephemeral unit of work that flows
// from traversal through addressing, validation, and the two publish
// planes for a single observable AAS leaf.
package leaf

import "strings"

// Kind identifies the AAS element kind a LeafRecord was flattened from.
type Kind string

const (
	KindProperty         Kind = "Property"
	KindRange            Kind = "Range"
	KindReferenceElement Kind = "ReferenceElement"
	KindEntity           Kind = "Entity"
	KindRelationship     Kind = "Relationship"
	KindFile             Kind = "File"
	KindBlob             Kind = "Blob"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueInt
	ValueFloat
	ValueText
	ValueBytes
)

// Value is a tagged union over the primitive value types an AAS leaf can
// carry. Exactly one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Float float64
	Text  string
	Bytes []byte
}

// NullValue constructs a null Value.
func NullValue() Value { return Value{Kind: ValueNull} }

// BoolValue constructs a boolean Value.
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// IntValue constructs an integer Value.
func IntValue(i int64) Value { return Value{Kind: ValueInt, Int: i} }

// FloatValue constructs a floating Value.
func FloatValue(f float64) Value { return Value{Kind: ValueFloat, Float: f} }

// TextValue constructs a text Value.
func TextValue(s string) Value { return Value{Kind: ValueText, Text: s} }

// BytesValue constructs a bytes Value.
func BytesValue(b []byte) Value { return Value{Kind: ValueBytes, Bytes: b} }

// IsNull reports whether the value carries no data.
func (v Value) IsNull() bool { return v.Kind == ValueNull }

// AsJSON returns the representation used when composing retained-plane
// JSON payloads (spec.md §6): native JSON types for bool/number/string,
// null for the null variant, and the raw byte slice for bytes (which
// encoding/json and jsonutil render as a base64 string).
func (v Value) AsJSON() any {
	switch v.Kind {
	case ValueBool:
		return v.Bool
	case ValueInt:
		return v.Int
	case ValueFloat:
		return v.Float
	case ValueText:
		return v.Text
	case ValueBytes:
		return v.Bytes
	default:
		return nil
	}
}

// Path is an ordered sequence of navigation segments from a submodel root
// to a leaf. Segment characters are preserved verbatim; escaping for
// topic composition happens in the addressing package, not here.
type Path []string

// String joins the path with "/" for logging and error identifiers.
func (p Path) String() string { return strings.Join(p, "/") }

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	cp := make(Path, len(p))
	copy(cp, p)
	return cp
}

// LeafRecord is one entry per observable leaf of an AAS submodel.
// Invariant: Path is non-empty. (assetUri, submodelId, path) is unique
// within one traversal snapshot.
type LeafRecord struct {
	AssetURI        string
	SubmodelID      string
	SubmodelIDShort string
	Path            Path
	Kind            Kind
	Value           Value
	ValueType       string
	SemanticID      string // empty means absent
	Unit            string // empty means absent
	SourceTimestamp int64  // milliseconds since epoch
	OriginURI       string
}

// HasSemanticID reports whether SemanticID is present.
func (r LeafRecord) HasSemanticID() bool { return r.SemanticID != "" }

// HasUnit reports whether Unit is present.
func (r LeafRecord) HasUnit() bool { return r.Unit != "" }
