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

// Package model is the AAS object surface traversal walks. It is a
// trimmed, hand-written reduction of the IDTA Submodel Repository API
// model (DotAAS Part 2) to the element kinds spec.md §4.1 names:
// Property, Range, ReferenceElement, Entity, RelationshipElement /
// AnnotatedRelationshipElement, File, Blob, plus the two collection
// types (SubmodelElementCollection, SubmodelElementList) and Submodel
// itself. AAS package parsing is an external collaborator (spec.md §1);
// this package is the shape that collaborator is assumed to hand us.
package model

import (
	"fmt"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/jsonutil"
)

// Reference mirrors the AAS Reference type: a typed, possibly nested key
// chain pointing at a semantic definition or another element.
type Reference struct {
	Type ReferenceType `json:"type"`
	Keys []Key         `json:"keys"`
}

// ReferenceType distinguishes model references from external ones.
type ReferenceType string

const (
	ReferenceTypeModel    ReferenceType = "ModelReference"
	ReferenceTypeExternal ReferenceType = "ExternalReference"
)

// Key is one segment of a Reference's key chain.
type Key struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// String renders a Reference as a single value, the way spec.md §4.1
// expects ReferenceElement/Relationship value strings to look: the last
// key's value, or the full external value when there is exactly one key
// of type GlobalReference.
func (r Reference) String() string {
	if len(r.Keys) == 0 {
		return ""
	}
	return r.Keys[len(r.Keys)-1].Value
}

// LangString is a language-tagged text fragment (displayName/description).
type LangString struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

// SubmodelElement is the common interface every concrete element kind
// satisfies, mirroring the teacher's SubmodelElement interface but
// trimmed to the accessors traversal actually needs.
type SubmodelElement interface {
	ElementIDShort() string
	ElementModelType() string
	ElementSemanticID() *Reference
}

// base carries the fields every concrete element shares.
type base struct {
	IDShort    string     `json:"idShort"`
	ModelType  string     `json:"modelType"`
	SemanticID *Reference `json:"semanticId,omitempty"`
}

func (b base) ElementIDShort() string      { return b.IDShort }
func (b base) ElementModelType() string    { return b.ModelType }
func (b base) ElementSemanticID() *Reference { return b.SemanticID }

// Property is a single scalar value with an XSD-ish ValueType.
type Property struct {
	base
	ValueType string  `json:"valueType"`
	Value     *string `json:"value,omitempty"`
	Unit      string  `json:"-"` // populated from an embedded data specification, not the wire value
}

// Range is a scalar interval (Min/Max) of a given ValueType.
type Range struct {
	base
	ValueType string  `json:"valueType"`
	Min       *string `json:"min,omitempty"`
	Max       *string `json:"max,omitempty"`
}

// ReferenceElement points at another element or an external concept.
type ReferenceElement struct {
	base
	Value *Reference `json:"value,omitempty"`
}

// RelationshipElement relates a First and Second reference.
type RelationshipElement struct {
	base
	First  Reference `json:"first"`
	Second Reference `json:"second"`
}

// AnnotatedRelationshipElement is a RelationshipElement carrying
// additional statement elements (Annotations).
type AnnotatedRelationshipElement struct {
	RelationshipElement
	Annotations []SubmodelElement `json:"annotations,omitempty"`
}

// Entity carries statements and a global asset id.
type Entity struct {
	base
	Statements     []SubmodelElement `json:"statements,omitempty"`
	GlobalAssetID  string            `json:"globalAssetId,omitempty"`
	EntityType     string            `json:"entityType,omitempty"`
}

// File references an external or embedded file by content type.
type File struct {
	base
	ContentType string `json:"contentType"`
	Value       string `json:"value,omitempty"`
}

// Blob carries inline bytes and a MIME type.
type Blob struct {
	base
	ContentType string `json:"contentType"`
	Value       []byte `json:"value,omitempty"`
}

// SubmodelElementCollection is an unordered, named set of children.
type SubmodelElementCollection struct {
	base
	Value []SubmodelElement `json:"value,omitempty"`
}

// SubmodelElementList is an ordered set of children, possibly without
// per-child idShort (positional addressing applies, spec.md §4.1).
type SubmodelElementList struct {
	base
	Value []SubmodelElement `json:"value,omitempty"`
}

// Submodel is the root of one navigable element tree.
type Submodel struct {
	ID         string            `json:"id"`
	IDShort    string            `json:"idShort"`
	SemanticID *Reference        `json:"semanticId,omitempty"`
	Elements   []SubmodelElement `json:"submodelElements,omitempty"`
}

// AssetAdministrationShell is the traversal's entry point: an asset
// identity plus the submodels it references.
type AssetAdministrationShell struct {
	AssetURI  string     `json:"assetInformation"`
	Submodels []Submodel `json:"submodels,omitempty"`
}

// rawElement is used only to sniff modelType before full decode.
type rawElement struct {
	ModelType string `json:"modelType"`
}

// UnmarshalSubmodelElement dispatches on modelType to the concrete
// SubmodelElement type, mirroring the teacher's
// model_submodel_element.go UnmarshalSubmodelElement dispatcher.
func UnmarshalSubmodelElement(data []byte) (SubmodelElement, error) {
	var raw rawElement
	if err := jsonutil.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("sniffing modelType: %w", err)
	}

	switch raw.ModelType {
	case "Property":
		var p Property
		if err := jsonutil.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "Range":
		var r Range
		if err := jsonutil.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return &r, nil
	case "ReferenceElement":
		var re ReferenceElement
		if err := jsonutil.Unmarshal(data, &re); err != nil {
			return nil, err
		}
		return &re, nil
	case "RelationshipElement":
		var rel RelationshipElement
		if err := jsonutil.Unmarshal(data, &rel); err != nil {
			return nil, err
		}
		return &rel, nil
	case "AnnotatedRelationshipElement":
		var arel AnnotatedRelationshipElement
		if err := jsonutil.Unmarshal(data, &arel); err != nil {
			return nil, err
		}
		return &arel, nil
	case "Entity":
		var e Entity
		if err := jsonutil.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "File":
		var f File
		if err := jsonutil.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return &f, nil
	case "Blob":
		var b Blob
		if err := jsonutil.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return &b, nil
	case "SubmodelElementCollection":
		var c SubmodelElementCollection
		if err := jsonutil.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return &c, nil
	case "SubmodelElementList":
		var l SubmodelElementList
		if err := jsonutil.Unmarshal(data, &l); err != nil {
			return nil, err
		}
		return &l, nil
	default:
		return nil, fmt.Errorf("unknown modelType %q", raw.ModelType)
	}
}
