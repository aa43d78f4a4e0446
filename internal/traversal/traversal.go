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

// Package traversal performs the deterministic, depth-first flattening of
// an AAS object into an ordered stream of leaf.LeafRecord, per spec.md
// §4.1. A malformed element never aborts the walk: it is reported as a
// TraversalError and its siblings continue.
package traversal

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/model"
)

// TraversalError reports one malformed element. The element is skipped;
// it never aborts the rest of the traversal.
type TraversalError struct {
	AssetURI   string
	SubmodelID string
	Path       leaf.Path
	Err        error
}

func (e TraversalError) Error() string {
	return fmt.Sprintf("traversal error at %s/%s/%s: %v", e.AssetURI, e.SubmodelID, e.Path.String(), e.Err)
}

// Result is the outcome of flattening one AssetAdministrationShell.
type Result struct {
	Records []leaf.LeafRecord
	Errors  []TraversalError
}

// originFunc resolves the origin URI recorded on every LeafRecord (a file
// path or repository URL); traversal itself does not know where the AAS
// object came from.
type originFunc func() string

// Traverse flattens every submodel of aas into an ordered sequence of
// LeafRecords. Child order matches the order elements were encountered in
// the source, so repeated traversal of identical input is byte-for-byte
// reproducible (spec.md §8, resolveAddress/topic invariants depend on
// this for dedup to work across restarts).
func Traverse(aas model.AssetAdministrationShell, origin originFunc, now func() int64) Result {
	var res Result
	o := ""
	if origin != nil {
		o = origin()
	}
	for _, sm := range aas.Submodels {
		w := &walker{
			assetURI:   aas.AssetURI,
			submodelID: sm.ID,
			idShort:    sm.IDShort,
			origin:     o,
			now:        now,
			res:        &res,
		}
		w.walkChildren(leaf.Path{}, sm.Elements)
	}
	return res
}

type walker struct {
	assetURI   string
	submodelID string
	idShort    string
	origin     string
	now        func() int64
	res        *Result
}

func (w *walker) fail(path leaf.Path, err error) {
	w.res.Errors = append(w.res.Errors, TraversalError{
		AssetURI:   w.assetURI,
		SubmodelID: w.submodelID,
		Path:       path.Clone(),
		Err:        err,
	})
}

func (w *walker) emit(path leaf.Path, kind leaf.Kind, val leaf.Value, valueType, semanticID string) {
	w.res.Records = append(w.res.Records, leaf.LeafRecord{
		AssetURI:        w.assetURI,
		SubmodelID:      w.submodelID,
		SubmodelIDShort: w.idShort,
		Path:            path.Clone(),
		Kind:            kind,
		Value:           val,
		ValueType:       valueType,
		SemanticID:      semanticID,
		SourceTimestamp: w.now(),
		OriginURI:       w.origin,
	})
}

func semanticIDOf(e model.SubmodelElement) string {
	if ref := e.ElementSemanticID(); ref != nil {
		return ref.String()
	}
	return ""
}

// walkChildren extends path by each child's idShort, or its positional
// index when idShort is empty (collection or SubmodelElementList children
// missing idShort). A list child that carries an idShort is addressed by
// it, not by position.
func (w *walker) walkChildren(path leaf.Path, children []model.SubmodelElement) {
	for i, child := range children {
		seg := child.ElementIDShort()
		if seg == "" {
			seg = strconv.Itoa(i)
		}
		childPath := append(path.Clone(), seg)
		w.walkElement(childPath, child)
	}
}

func (w *walker) walkElement(path leaf.Path, e model.SubmodelElement) {
	switch el := e.(type) {
	case *model.Property:
		val := leaf.NullValue()
		if el.Value != nil {
			val = leaf.TextValue(*el.Value)
		}
		w.emit(path, leaf.KindProperty, val, el.ValueType, semanticIDOf(el))

	case *model.Range:
		if el.Min == nil && el.Max == nil {
			w.fail(path, fmt.Errorf("range element has neither min nor max"))
			return
		}
		min, max := "", ""
		if el.Min != nil {
			min = *el.Min
		}
		if el.Max != nil {
			max = *el.Max
		}
		w.emit(path, leaf.KindRange, leaf.TextValue(min+".."+max), el.ValueType, semanticIDOf(el))

	case *model.ReferenceElement:
		if el.Value == nil {
			w.fail(path, fmt.Errorf("reference element has no value"))
			return
		}
		w.emit(path, leaf.KindReferenceElement, leaf.TextValue(el.Value.String()), "Reference", semanticIDOf(el))

	case *model.RelationshipElement:
		w.emit(path, leaf.KindRelationship, leaf.TextValue(el.First.String()+"->"+el.Second.String()), "Relationship", semanticIDOf(el))

	case *model.AnnotatedRelationshipElement:
		w.emit(path, leaf.KindRelationship, leaf.TextValue(el.First.String()+"->"+el.Second.String()), "Relationship", semanticIDOf(&el.RelationshipElement))
		if len(el.Annotations) > 0 {
			w.walkChildren(path, el.Annotations)
		}

	case *model.Entity:
		w.emit(path, leaf.KindEntity, leaf.TextValue(el.GlobalAssetID), "Entity", semanticIDOf(el))
		if len(el.Statements) > 0 {
			w.walkChildren(path, el.Statements)
		}

	case *model.File:
		w.emit(path, leaf.KindFile, leaf.TextValue(el.Value), el.ContentType, semanticIDOf(el))

	case *model.Blob:
		sum := xxhash.Sum64(el.Value)
		w.emit(path, leaf.KindBlob, leaf.TextValue(fmt.Sprintf("%016x", sum)), el.ContentType, semanticIDOf(el))

	case *model.SubmodelElementCollection:
		w.walkChildren(path, el.Value)

	case *model.SubmodelElementList:
		w.walkChildren(path, el.Value)

	default:
		w.fail(path, fmt.Errorf("unsupported element type %T", e))
	}
}
