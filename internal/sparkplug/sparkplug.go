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

// Package sparkplug implements the binary envelope of the lifecycle
// plane (spec.md §4.4): a compact, alias-addressed metric envelope
// shaped after the Sparkplug B payload, encoded with the standard
// library only. No protobuf/Sparkplug client library appears anywhere
// in the example corpus this daemon was grounded on, so this codec is
// hand-rolled; see DESIGN.md for the justification.
package sparkplug

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// DataType is the wire tag of a metric value, mirroring Sparkplug B's
// type enumeration closely enough for interoperating tooling to decode
// it, without depending on a generated protobuf schema.
type DataType uint8

const (
	DataTypeUnknown DataType = 0
	DataTypeInt64   DataType = 1
	DataTypeDouble  DataType = 2
	DataTypeBoolean DataType = 3
	DataTypeString  DataType = 4
	DataTypeBytes   DataType = 5
)

// Metric is one named, optionally aliased, typed value inside an
// envelope. Name is present on birth messages and omitted (zero value)
// once an alias has been announced, matching Sparkplug's alias
// convention (spec.md §4.4).
type Metric struct {
	Name      string
	HasAlias  bool
	Alias     uint64
	Timestamp int64
	DataType  DataType
	IsNull    bool
	Int64Val  int64
	DoubleVal float64
	BoolVal   bool
	StringVal string
	BytesVal  []byte
}

// Envelope is one NBIRTH/DBIRTH/DDATA/DDEATH/NDEATH payload: a
// timestamp, a sequence number, and zero or more metrics. bdSeq is
// carried as an ordinary metric named "bdSeq" on birth/death messages,
// exactly as Sparkplug B does, rather than as a distinct envelope
// field (an Open Question resolution recorded in DESIGN.md).
type Envelope struct {
	Timestamp int64
	Seq       uint64
	Metrics   []Metric
}

const (
	wireVersion   uint8 = 1
	maxMetricName       = 1 << 16
	maxStringLen        = 1 << 24
	maxBytesLen         = 1 << 24
)

// Encode serializes env into a compact binary envelope:
//
//	u8      version
//	i64     timestamp
//	u64     seq
//	u32     metric count
//	metric* metrics
//
// Each metric is:
//
//	u8      flags (bit0 hasAlias, bit1 isNull)
//	u16 + bytes  name (always present, empty on alias-only DDATA metrics)
//	u64     alias (present only if hasAlias)
//	i64     timestamp
//	u8      datatype
//	value   absent if isNull, else datatype-specific encoding
//
// Birth messages carry both name and alias for the same metric so a
// fresh subscriber can build its own name<->alias map; data messages
// omit the name once the alias has been announced.
func Encode(env Envelope) ([]byte, error) {
	buf := make([]byte, 0, 64+32*len(env.Metrics))
	buf = append(buf, wireVersion)
	buf = appendInt64(buf, env.Timestamp)
	buf = appendUint64(buf, env.Seq)
	buf = appendUint32(buf, uint32(len(env.Metrics)))

	for i, m := range env.Metrics {
		var err error
		buf, err = appendMetric(buf, m)
		if err != nil {
			return nil, fmt.Errorf("encoding metric %d (%q): %w", i, m.Name, err)
		}
	}
	return buf, nil
}

func appendMetric(buf []byte, m Metric) ([]byte, error) {
	if len(m.Name) > maxMetricName {
		return nil, errors.New("metric name too long")
	}
	var flags uint8
	if m.HasAlias {
		flags |= 1
	}
	if m.IsNull {
		flags |= 2
	}
	buf = append(buf, flags)

	buf = appendUint16(buf, uint16(len(m.Name)))
	buf = append(buf, m.Name...)
	if m.HasAlias {
		buf = appendUint64(buf, m.Alias)
	}
	buf = appendInt64(buf, m.Timestamp)
	buf = append(buf, uint8(m.DataType))

	if m.IsNull {
		return buf, nil
	}

	switch m.DataType {
	case DataTypeInt64:
		buf = appendInt64(buf, m.Int64Val)
	case DataTypeDouble:
		buf = appendUint64(buf, math.Float64bits(m.DoubleVal))
	case DataTypeBoolean:
		b := uint8(0)
		if m.BoolVal {
			b = 1
		}
		buf = append(buf, b)
	case DataTypeString:
		if len(m.StringVal) > maxStringLen {
			return nil, errors.New("string value too long")
		}
		buf = appendUint32(buf, uint32(len(m.StringVal)))
		buf = append(buf, m.StringVal...)
	case DataTypeBytes:
		if len(m.BytesVal) > maxBytesLen {
			return nil, errors.New("bytes value too long")
		}
		buf = appendUint32(buf, uint32(len(m.BytesVal)))
		buf = append(buf, m.BytesVal...)
	default:
		return nil, fmt.Errorf("unsupported data type %d", m.DataType)
	}
	return buf, nil
}

// Decode parses an envelope previously produced by Encode.
func Decode(data []byte) (Envelope, error) {
	r := &reader{buf: data}

	version, err := r.readUint8()
	if err != nil {
		return Envelope{}, fmt.Errorf("reading version: %w", err)
	}
	if version != wireVersion {
		return Envelope{}, fmt.Errorf("unsupported envelope version %d", version)
	}

	ts, err := r.readInt64()
	if err != nil {
		return Envelope{}, fmt.Errorf("reading timestamp: %w", err)
	}
	seq, err := r.readUint64()
	if err != nil {
		return Envelope{}, fmt.Errorf("reading seq: %w", err)
	}
	count, err := r.readUint32()
	if err != nil {
		return Envelope{}, fmt.Errorf("reading metric count: %w", err)
	}

	env := Envelope{Timestamp: ts, Seq: seq, Metrics: make([]Metric, 0, count)}
	for i := uint32(0); i < count; i++ {
		m, err := readMetric(r)
		if err != nil {
			return Envelope{}, fmt.Errorf("reading metric %d: %w", i, err)
		}
		env.Metrics = append(env.Metrics, m)
	}
	return env, nil
}

func readMetric(r *reader) (Metric, error) {
	var m Metric
	flags, err := r.readUint8()
	if err != nil {
		return m, err
	}
	m.HasAlias = flags&1 != 0
	m.IsNull = flags&2 != 0

	nameLen, err := r.readUint16()
	if err != nil {
		return m, err
	}
	name, err := r.readBytes(int(nameLen))
	if err != nil {
		return m, err
	}
	m.Name = string(name)

	if m.HasAlias {
		alias, err := r.readUint64()
		if err != nil {
			return m, err
		}
		m.Alias = alias
	}
	ts, err := r.readInt64()
	if err != nil {
		return m, err
	}
	m.Timestamp = ts

	dt, err := r.readUint8()
	if err != nil {
		return m, err
	}
	m.DataType = DataType(dt)

	if m.IsNull {
		return m, nil
	}

	switch m.DataType {
	case DataTypeInt64:
		v, err := r.readInt64()
		if err != nil {
			return m, err
		}
		m.Int64Val = v
	case DataTypeDouble:
		bits, err := r.readUint64()
		if err != nil {
			return m, err
		}
		m.DoubleVal = math.Float64frombits(bits)
	case DataTypeBoolean:
		b, err := r.readUint8()
		if err != nil {
			return m, err
		}
		m.BoolVal = b != 0
	case DataTypeString:
		n, err := r.readUint32()
		if err != nil {
			return m, err
		}
		if n > maxStringLen {
			return m, errors.New("string value too long")
		}
		v, err := r.readBytes(int(n))
		if err != nil {
			return m, err
		}
		m.StringVal = string(v)
	case DataTypeBytes:
		n, err := r.readUint32()
		if err != nil {
			return m, err
		}
		if n > maxBytesLen {
			return m, errors.New("bytes value too long")
		}
		v, err := r.readBytes(int(n))
		if err != nil {
			return m, err
		}
		m.BytesVal = append([]byte(nil), v...)
	default:
		return m, fmt.Errorf("unsupported data type %d", m.DataType)
	}
	return m, nil
}

// BdSeqMetric builds the "bdSeq" metric carried on NBIRTH and NDEATH
// messages, used by subscribers to detect stale birth/death pairs
// across reconnects (spec.md §4.4). The persisted 64-bit counter is
// carried on the wire wrapped to 8 bits (0-255).
func BdSeqMetric(bdSeq uint64, timestamp int64) Metric {
	return Metric{Name: "bdSeq", Timestamp: timestamp, DataType: DataTypeInt64, Int64Val: int64(uint8(bdSeq))}
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return errors.New("unexpected end of envelope")
	}
	return nil
}

func (r *reader) readUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) readUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) readUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) readUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) readInt64() (int64, error) {
	v, err := r.readUint64()
	return int64(v), err
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	return appendUint64(buf, uint64(v))
}
