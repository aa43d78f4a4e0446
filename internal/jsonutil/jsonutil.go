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

// Package jsonutil centralizes the jsoniter configuration used for every
// wire payload the bridge produces or consumes, so field order and number
// formatting stay consistent across the retained plane, context topics,
// drift alerts, and command acks.
package jsonutil

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
)

// API is the shared jsoniter configuration, compatible with encoding/json
// semantics (map keys sorted, HTML characters escaped, as in the stdlib).
var API = jsoniter.ConfigCompatibleWithStandardLibrary

// Marshal encodes v using the shared configuration.
func Marshal(v any) ([]byte, error) {
	return API.Marshal(v)
}

// Unmarshal decodes data into v using the shared configuration.
func Unmarshal(data []byte, v any) error {
	return API.Unmarshal(data, v)
}

// UnmarshalStrict decodes data into v, rejecting unknown fields. No
// package in this tree calls it: the configuration document is decoded by
// viper and inbound command payloads by Unmarshal.
func UnmarshalStrict(data []byte, v any) error {
	dec := API.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
