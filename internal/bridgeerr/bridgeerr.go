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

// Package bridgeerr provides centralized, typed error constructors for the
// nine error kinds the bridge daemon recognizes. Every error carries a Kind
// so callers can classify and count it without string matching.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the categories the daemon records
// as a field on every structured error log. No metric is kept per Kind.
type Kind string

const (
	KindIngress          Kind = "ingress_data"
	KindValidationReject Kind = "validation_reject"
	KindMappingMiss      Kind = "mapping_miss"
	KindPersistence      Kind = "persistence"
	KindBrokerTransient  Kind = "broker_transient"
	KindBrokerFatal      Kind = "broker_fatal"
	KindCommandDenied    Kind = "command_denied"
	KindCommandInvalid   Kind = "command_invalid"
	KindCommandWriteFail Kind = "command_write_failed"
)

// BridgeError is a typed error carrying a Kind plus the operation and
// identifier (topic, path, asset) it occurred against, so structured logs
// always have something to filter on.
type BridgeError struct {
	Kind      Kind
	Operation string
	Ident     string
	Err       error
}

func (e *BridgeError) Error() string {
	if e.Ident != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Operation, e.Ident, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Operation, e.Err)
}

func (e *BridgeError) Unwrap() error { return e.Err }

func newError(kind Kind, operation, ident string, err error) error {
	return &BridgeError{Kind: kind, Operation: operation, Ident: ident, Err: err}
}

// NewIngressError wraps a malformed-AAS-element error (spec §7 kind 1).
// The element is skipped; traversal continues with siblings.
func NewIngressError(operation, ident string, err error) error {
	return newError(KindIngress, operation, ident, err)
}

// NewValidationReject wraps a semantic-validation rejection (kind 2).
func NewValidationReject(operation, ident string, err error) error {
	return newError(KindValidationReject, operation, ident, err)
}

// NewMappingMiss wraps a mapping resolution failure (kind 3). The default
// mapping rule guarantees this never actually occurs in steady state.
func NewMappingMiss(operation, ident string, err error) error {
	return newError(KindMappingMiss, operation, ident, err)
}

// NewPersistenceError wraps a table read/write failure (kind 4).
func NewPersistenceError(operation, ident string, err error) error {
	return newError(KindPersistence, operation, ident, err)
}

// NewBrokerTransientError wraps a disconnect/backpressure condition (kind 5).
func NewBrokerTransientError(operation, ident string, err error) error {
	return newError(KindBrokerTransient, operation, ident, err)
}

// NewBrokerFatalError wraps an unrecoverable broker condition such as an
// authentication rejection (kind 6). Callers should exit non-zero.
func NewBrokerFatalError(operation, ident string, err error) error {
	return newError(KindBrokerFatal, operation, ident, err)
}

// NewCommandDenied wraps a write-pattern policy denial (kind 7).
func NewCommandDenied(operation, ident string, err error) error {
	return newError(KindCommandDenied, operation, ident, err)
}

// NewCommandInvalid wraps a pre-write validation rejection (kind 7).
func NewCommandInvalid(operation, ident string, err error) error {
	return newError(KindCommandInvalid, operation, ident, err)
}

// NewCommandWriteFailed wraps an AAS-repository write failure after the
// retry budget is exhausted (kind 8).
func NewCommandWriteFailed(operation, ident string, err error) error {
	return newError(KindCommandWriteFail, operation, ident, err)
}

// KindOf returns the Kind of err if it is (or wraps) a *BridgeError, and
// false otherwise.
func KindOf(err error) (Kind, bool) {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) a BridgeError of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
