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

package sparkplug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := Envelope{
		Timestamp: 1700000000000,
		Seq:       42,
		Metrics: []Metric{
			BdSeqMetric(7, 1700000000000),
			{Name: "Temperature/Value", Timestamp: 1700000000001, DataType: DataTypeDouble, DoubleVal: 21.5},
			{HasAlias: true, Alias: 3, Timestamp: 1700000000002, DataType: DataTypeInt64, Int64Val: -12},
			{Name: "Online", Timestamp: 1700000000003, DataType: DataTypeBoolean, BoolVal: true},
			{Name: "Label", Timestamp: 1700000000004, DataType: DataTypeString, StringVal: "foo/bar"},
			{Name: "Blob", Timestamp: 1700000000005, DataType: DataTypeBytes, BytesVal: []byte{0x01, 0x02, 0x03}},
			{Name: "Unset", Timestamp: 1700000000006, DataType: DataTypeString, IsNull: true},
		},
	}

	encoded, err := Encode(env)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, env.Timestamp, decoded.Timestamp)
	assert.Equal(t, env.Seq, decoded.Seq)
	require.Len(t, decoded.Metrics, len(env.Metrics))
	for i, m := range env.Metrics {
		assert.Equal(t, m, decoded.Metrics[i], "metric %d mismatch", i)
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedEnvelope(t *testing.T) {
	env := Envelope{Timestamp: 1, Seq: 1, Metrics: []Metric{
		{Name: "X", DataType: DataTypeInt64, Int64Val: 1},
	}}
	encoded, err := Encode(env)
	require.NoError(t, err)

	_, err = Decode(encoded[:len(encoded)-2])
	assert.Error(t, err)
}

func TestBdSeqMetricHasNoAlias(t *testing.T) {
	m := BdSeqMetric(5, 100)
	assert.False(t, m.HasAlias)
	assert.Equal(t, "bdSeq", m.Name)
	assert.Equal(t, int64(5), m.Int64Val)
}
