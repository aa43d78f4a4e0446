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

import "github.com/eclipse-basyx/aas-uns-bridge/internal/jsonutil"

func unmarshalInto(data []byte, v any) error {
	return jsonutil.Unmarshal(data, v)
}

const (
	birthCacheBucket     = "birth_cache"
	hashBucket           = "hashes"
	contextBucket        = "context_dict"
	driftFingerprint     = "drift_fingerprints"
	lifecycleStateBucket = "lifecycle_states"
	fidelityBucket       = "fidelity_history"
	driftModelBucket     = "drift_models"
)

// BirthMetric is one metric's last-known value and alias, as it
// appeared on the most recent DBIRTH for a device.
type BirthMetric struct {
	Name      string  `json:"name"`
	Alias     uint64  `json:"alias"`
	DataType  uint8   `json:"dataType"`
	IsNull    bool    `json:"isNull,omitempty"`
	Int64Val  int64   `json:"int64Val,omitempty"`
	DoubleVal float64 `json:"doubleVal,omitempty"`
	BoolVal   bool    `json:"boolVal,omitempty"`
	StringVal string  `json:"stringVal,omitempty"`
	BytesVal  []byte  `json:"bytesVal,omitempty"`
}

// BirthCacheEntry is the last DBIRTH composed for (edgeNode, device),
// kept so a rebirth or a reconnect can republish an identical DBIRTH
// without re-walking the whole asset (spec.md §4.4).
type BirthCacheEntry struct {
	EdgeNodeID string        `json:"edgeNodeId"`
	DeviceID   string        `json:"deviceId"`
	Metrics    []BirthMetric `json:"metrics"`
	ComposedAt int64         `json:"composedAt"`
	BdSeq      uint64        `json:"bdSeq"`
}

// BirthCacheTable is a last-writer-wins table keyed by (edgeNode, device).
type BirthCacheTable struct{ t *Table }

// NewBirthCacheTable wraps the birth-cache bucket of s.
func NewBirthCacheTable(s *Store, maxEntries int) *BirthCacheTable {
	return &BirthCacheTable{t: s.Table(birthCacheBucket, maxEntries)}
}

func deviceKey(edgeNode, device string) string { return edgeNode + "/" + device }

// Put stores the most recent DBIRTH composition for (edgeNode, device).
func (b *BirthCacheTable) Put(edgeNode, device string, entry BirthCacheEntry) error {
	return b.t.Put(deviceKey(edgeNode, device), entry)
}

// Get returns the last composed DBIRTH for (edgeNode, device), if any.
func (b *BirthCacheTable) Get(edgeNode, device string) (BirthCacheEntry, bool, error) {
	var entry BirthCacheEntry
	ok, err := b.t.Get(deviceKey(edgeNode, device), &entry)
	return entry, ok, err
}

// Evicted reports rows evicted this process.
func (b *BirthCacheTable) Evicted() uint64 { return b.t.Evicted() }

// Delete removes the cached birth for (edgeNode, device), called on
// DDEATH.
func (b *BirthCacheTable) Delete(edgeNode, device string) error {
	return b.t.Delete(deviceKey(edgeNode, device))
}

// ForEach iterates every device cached under edgeNode, without
// perturbing LRU order, used to restore the active device set on
// reconnect.
func (b *BirthCacheTable) ForEach(edgeNode string, fn func(device string, entry BirthCacheEntry) error) error {
	prefix := edgeNode + "/"
	return b.t.ForEach(func(key string, data []byte) error {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			return nil
		}
		var entry BirthCacheEntry
		if err := unmarshalInto(data, &entry); err != nil {
			return err
		}
		return fn(key[len(prefix):], entry)
	})
}

// HashEntry records the content hash last published on a retained topic,
// used for publish-on-change dedup (spec.md §4.3).
type HashEntry struct {
	Topic      string `json:"topic"`
	Hash       uint64 `json:"hash"`
	PublishedAt int64 `json:"publishedAt"`
}

// HashTable is a last-writer-wins table keyed by retained topic.
type HashTable struct{ t *Table }

// NewHashTable wraps the content-hash bucket of s.
func NewHashTable(s *Store, maxEntries int) *HashTable {
	return &HashTable{t: s.Table(hashBucket, maxEntries)}
}

// Put records the hash last published to topic.
func (h *HashTable) Put(topic string, entry HashEntry) error {
	return h.t.Put(topic, entry)
}

// Get returns the previously published hash for topic, if any.
func (h *HashTable) Get(topic string) (HashEntry, bool, error) {
	var entry HashEntry
	ok, err := h.t.Get(topic, &entry)
	return entry, ok, err
}

// Evicted reports rows evicted this process.
func (h *HashTable) Evicted() uint64 { return h.t.Evicted() }

// ContextEntry is one pointer-mode content-addressed dictionary row:
// the full value body a context pointer refers to (spec.md §4.6.2).
type ContextEntry struct {
	Digest    string `json:"digest"`
	Body      []byte `json:"body"`
	CreatedAt int64  `json:"createdAt"`
}

// ContextTable is the content-addressed dictionary backing pointer-mode
// retained payloads.
type ContextTable struct{ t *Table }

// NewContextTable wraps the context-dictionary bucket of s.
func NewContextTable(s *Store, maxEntries int) *ContextTable {
	return &ContextTable{t: s.Table(contextBucket, maxEntries)}
}

// Put stores entry under its own digest, idempotently.
func (c *ContextTable) Put(entry ContextEntry) error {
	return c.t.Put(entry.Digest, entry)
}

// Get returns the dictionary entry for digest, if present.
func (c *ContextTable) Get(digest string) (ContextEntry, bool, error) {
	var entry ContextEntry
	ok, err := c.t.Get(digest, &entry)
	return entry, ok, err
}

// Peek is like Get but does not perturb eviction order, for read-mostly
// dereference paths such as a diagnostics endpoint.
func (c *ContextTable) Peek(digest string) (ContextEntry, bool, error) {
	var entry ContextEntry
	ok, err := c.t.Peek(digest, &entry)
	return entry, ok, err
}

// Evicted reports rows evicted this process.
func (c *ContextTable) Evicted() uint64 { return c.t.Evicted() }

// SchemaFingerprint is the per-submodel shape snapshot drift detection
// diffs against (spec.md §4.6.3): every leaf path mapped to its declared
// value type.
type SchemaFingerprint struct {
	AssetURI    string            `json:"assetUri"`
	SubmodelID  string            `json:"submodelId"`
	Paths       map[string]string `json:"paths"` // leaf path string -> value type
	RecordedAt  int64             `json:"recordedAt"`
}

// FingerprintTable is a last-writer-wins table keyed by (assetURI, submodelID).
type FingerprintTable struct{ t *Table }

// NewFingerprintTable wraps the drift-fingerprint bucket of s.
func NewFingerprintTable(s *Store, maxEntries int) *FingerprintTable {
	return &FingerprintTable{t: s.Table(driftFingerprint, maxEntries)}
}

func fingerprintKey(assetURI, submodelID string) string { return assetURI + "/" + submodelID }

// Put stores the current fingerprint for (assetURI, submodelID).
func (f *FingerprintTable) Put(assetURI, submodelID string, fp SchemaFingerprint) error {
	return f.t.Put(fingerprintKey(assetURI, submodelID), fp)
}

// Get returns the previously recorded fingerprint, if any.
func (f *FingerprintTable) Get(assetURI, submodelID string) (SchemaFingerprint, bool, error) {
	var fp SchemaFingerprint
	ok, err := f.t.Get(fingerprintKey(assetURI, submodelID), &fp)
	return fp, ok, err
}

// Evicted reports rows evicted this process.
func (f *FingerprintTable) Evicted() uint64 { return f.t.Evicted() }

// AssetLifecycleState is one asset's online/stale/offline tracking row
// (spec.md §4.6.5).
type AssetLifecycleState struct {
	AssetURI      string `json:"assetUri"`
	State         string `json:"state"` // "online", "stale", "offline"
	LastUpdateAt  int64  `json:"lastUpdateAt"`
	TransitionedAt int64 `json:"transitionedAt"`
}

// LifecycleStateTable is a last-writer-wins table keyed by assetURI.
type LifecycleStateTable struct{ t *Table }

// NewLifecycleStateTable wraps the lifecycle-state bucket of s.
func NewLifecycleStateTable(s *Store, maxEntries int) *LifecycleStateTable {
	return &LifecycleStateTable{t: s.Table(lifecycleStateBucket, maxEntries)}
}

// Put stores the current lifecycle state of assetURI.
func (l *LifecycleStateTable) Put(assetURI string, state AssetLifecycleState) error {
	return l.t.Put(assetURI, state)
}

// Get returns the current lifecycle state of assetURI, if tracked.
func (l *LifecycleStateTable) Get(assetURI string) (AssetLifecycleState, bool, error) {
	var state AssetLifecycleState
	ok, err := l.t.Get(assetURI, &state)
	return state, ok, err
}

// ForEach iterates every tracked asset's lifecycle state without
// perturbing LRU order, for the periodic staleness sweep.
func (l *LifecycleStateTable) ForEach(fn func(assetURI string, state AssetLifecycleState) error) error {
	return l.t.ForEach(func(key string, data []byte) error {
		var state AssetLifecycleState
		if err := unmarshalInto(data, &state); err != nil {
			return err
		}
		return fn(key, state)
	})
}

// Evicted reports rows evicted this process.
func (l *LifecycleStateTable) Evicted() uint64 { return l.t.Evicted() }

// FidelityRecord is one fidelity-score sample for an asset (spec.md
// §4.6.7): structural, semantic, and entropy components plus their
// weighted mean.
type FidelityRecord struct {
	AssetURI        string  `json:"assetUri"`
	Structural      float64 `json:"structural"`
	Semantic        float64 `json:"semantic"`
	Entropy         float64 `json:"entropy"`
	WeightedMean    float64 `json:"weightedMean"`
	ComputedAt      int64   `json:"computedAt"`
}

// FidelityTable is a last-writer-wins table keyed by assetURI, holding
// the most recent fidelity sample.
type FidelityTable struct{ t *Table }

// NewFidelityTable wraps the fidelity-history bucket of s.
func NewFidelityTable(s *Store, maxEntries int) *FidelityTable {
	return &FidelityTable{t: s.Table(fidelityBucket, maxEntries)}
}

// Put records the latest fidelity sample for assetURI.
func (f *FidelityTable) Put(assetURI string, record FidelityRecord) error {
	return f.t.Put(assetURI, record)
}

// Get returns the latest fidelity sample for assetURI, if any.
func (f *FidelityTable) Get(assetURI string) (FidelityRecord, bool, error) {
	var record FidelityRecord
	ok, err := f.t.Get(assetURI, &record)
	return record, ok, err
}

// Evicted reports rows evicted this process.
func (f *FidelityTable) Evicted() uint64 { return f.t.Evicted() }

// DriftModelState is the serialized state of one asset's streaming
// half-space-tree anomaly detector (spec.md §4.6.4), persisted so
// restarts do not lose the learned baseline.
type DriftModelState struct {
	AssetURI   string    `json:"assetUri"`
	Trees      [][]byte  `json:"trees"` // opaque per-tree serialized state
	UpdatedAt  int64     `json:"updatedAt"`
}

// DriftModelTable is a last-writer-wins table keyed by assetURI.
type DriftModelTable struct{ t *Table }

// NewDriftModelTable wraps the streaming-drift-model bucket of s.
func NewDriftModelTable(s *Store, maxEntries int) *DriftModelTable {
	return &DriftModelTable{t: s.Table(driftModelBucket, maxEntries)}
}

// Put persists the current model state for assetURI.
func (d *DriftModelTable) Put(assetURI string, state DriftModelState) error {
	return d.t.Put(assetURI, state)
}

// Get returns the persisted model state for assetURI, if any.
func (d *DriftModelTable) Get(assetURI string) (DriftModelState, bool, error) {
	var state DriftModelState
	ok, err := d.t.Get(assetURI, &state)
	return state, ok, err
}

// Evicted reports rows evicted this process.
func (d *DriftModelTable) Evicted() uint64 { return d.t.Evicted() }
