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

// Package hypervisor implements the semantic hypervisor of spec.md §4.6:
// pre-publish validation, schema-drift detection, streaming anomaly
// detection, per-asset lifecycle tracking, bidirectional command sync,
// and fidelity scoring. Pointer-mode context caching lives in package
// retained, not here.
package hypervisor

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
)

// Outcome classifies a validation result.
type Outcome int

const (
	OutcomePass Outcome = iota
	OutcomeWarn
	OutcomeReject
)

// SemanticConstraint is a per-semanticId rule: any of min/max/unit/pattern
// may be set; absent fields are not checked.
type SemanticConstraint struct {
	Min     *float64
	Max     *float64
	Unit    string
	Pattern string

	compiled *regexp.Regexp
}

// Validator applies spec.md §4.6.1 to each LeafRecord before it reaches
// a publisher.
type Validator struct {
	cfg         config.SemanticConfig
	constraints map[string]SemanticConstraint
	required    map[leaf.Kind]bool
}

// NewValidator builds a Validator from the semantic config group and a
// table of per-semanticId constraints (typically loaded alongside the
// mapping configuration).
func NewValidator(cfg config.SemanticConfig, constraints map[string]SemanticConstraint) *Validator {
	required := make(map[leaf.Kind]bool, len(cfg.RequiredForTypes))
	for _, k := range cfg.RequiredForTypes {
		required[leaf.Kind(k)] = true
	}
	for key, c := range constraints {
		if c.Pattern != "" {
			if re, err := regexp.Compile(c.Pattern); err == nil {
				c.compiled = re
				constraints[key] = c
			}
		}
	}
	return &Validator{cfg: cfg, constraints: constraints, required: required}
}

// Result is the outcome of validating one LeafRecord, with the reason
// when not Pass.
type Result struct {
	Outcome Outcome
	Reason  string
}

// Validate runs the configured semantic level's checks against rec.
// Level 0 always passes (validation disabled).
func (v *Validator) Validate(rec leaf.LeafRecord) Result {
	if v.cfg.Level == 0 {
		return Result{Outcome: OutcomePass}
	}

	if v.cfg.EnforceSemanticIDs && v.required[rec.Kind] && !rec.HasSemanticID() {
		return v.rejectOrWarn(fmt.Sprintf("semanticId required for kind %s but absent", rec.Kind))
	}

	if v.cfg.Level >= 2 && rec.HasSemanticID() {
		if c, ok := v.constraints[rec.SemanticID]; ok {
			if res, failed := v.checkConstraint(rec, c); failed {
				return res
			}
		}
	}

	return Result{Outcome: OutcomePass}
}

func (v *Validator) checkConstraint(rec leaf.LeafRecord, c SemanticConstraint) (Result, bool) {
	if c.Unit != "" && rec.HasUnit() && rec.Unit != c.Unit {
		return v.rejectOrWarn(fmt.Sprintf("unit mismatch: expected %s, got %s", c.Unit, rec.Unit)), true
	}

	if c.Min != nil || c.Max != nil {
		num, ok := numericValue(rec)
		if !ok {
			return v.rejectOrWarn("numeric constraint configured but value is not numeric"), true
		}
		if c.Min != nil && num < *c.Min {
			return v.rejectOrWarn(fmt.Sprintf("value %v below minimum %v", num, *c.Min)), true
		}
		if c.Max != nil && num > *c.Max {
			return v.rejectOrWarn(fmt.Sprintf("value %v above maximum %v", num, *c.Max)), true
		}
	}

	if c.compiled != nil {
		text, ok := textValue(rec)
		if !ok || !c.compiled.MatchString(text) {
			return v.rejectOrWarn(fmt.Sprintf("value does not match pattern %q", c.Pattern)), true
		}
	}

	return Result{}, false
}

func (v *Validator) rejectOrWarn(reason string) Result {
	if v.cfg.RejectInvalid {
		return Result{Outcome: OutcomeReject, Reason: reason}
	}
	return Result{Outcome: OutcomeWarn, Reason: reason}
}

func numericValue(rec leaf.LeafRecord) (float64, bool) {
	switch rec.Value.Kind {
	case leaf.ValueInt:
		return float64(rec.Value.Int), true
	case leaf.ValueFloat:
		return rec.Value.Float, true
	case leaf.ValueText:
		f, err := strconv.ParseFloat(rec.Value.Text, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func textValue(rec leaf.LeafRecord) (string, bool) {
	if rec.Value.Kind != leaf.ValueText {
		return "", false
	}
	return rec.Value.Text, true
}
