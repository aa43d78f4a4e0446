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

package hypervisor

import (
	"sort"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/persistence"
)

// DriftEventKind classifies one schema-drift alert.
type DriftEventKind string

const (
	DriftMetricAdded   DriftEventKind = "metric_added"
	DriftMetricRemoved DriftEventKind = "metric_removed"
	DriftTypeChanged   DriftEventKind = "type_changed"
)

// DriftAlert is one emitted schema-drift event (spec.md §4.6.3, §6).
type DriftAlert struct {
	Type       DriftEventKind `json:"type"`
	AssetID    string         `json:"asset_id"`
	MetricPath string         `json:"metric_path"`
	Timestamp  int64          `json:"timestamp"`
	Severity   config.Severity `json:"severity"`
}

// DriftDetector diffs each new full traversal snapshot against the
// stored fingerprint for (assetURI, submodelID).
type DriftDetector struct {
	fingerprints *persistence.FingerprintTable
	severity     config.DriftSeverityConfig
}

// NewDriftDetector builds a DriftDetector backed by the fingerprint
// table and the configured severity mapping.
func NewDriftDetector(fingerprints *persistence.FingerprintTable, severity config.DriftSeverityConfig) *DriftDetector {
	return &DriftDetector{fingerprints: fingerprints, severity: severity}
}

// Snapshot diffs records (one full traversal of one submodel) against
// the stored fingerprint, emits alerts for every change, and persists
// the new fingerprint. now is the alert timestamp.
func (d *DriftDetector) Snapshot(assetURI, submodelID string, records []leaf.LeafRecord, now int64) ([]DriftAlert, error) {
	current := make(map[string]string, len(records))
	for _, rec := range records {
		current[rec.Path.String()] = rec.ValueType
	}

	prev, ok, err := d.fingerprints.Get(assetURI, submodelID)
	if err != nil {
		return nil, err
	}

	var alerts []DriftAlert
	if ok {
		alerts = d.diff(assetURI, prev.Paths, current, now)
	}

	fp := persistence.SchemaFingerprint{AssetURI: assetURI, SubmodelID: submodelID, Paths: current, RecordedAt: now}
	if err := d.fingerprints.Put(assetURI, submodelID, fp); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (d *DriftDetector) diff(assetURI string, prev, current map[string]string, now int64) []DriftAlert {
	var alerts []DriftAlert

	paths := make([]string, 0, len(prev)+len(current))
	seen := make(map[string]bool)
	for p := range prev {
		paths = append(paths, p)
		seen[p] = true
	}
	for p := range current {
		if !seen[p] {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	for _, path := range paths {
		prevType, hadBefore := prev[path]
		curType, hasNow := current[path]
		switch {
		case hadBefore && !hasNow:
			alerts = append(alerts, DriftAlert{Type: DriftMetricRemoved, AssetID: assetURI, MetricPath: path, Timestamp: now, Severity: d.severity.MetricRemoved})
		case !hadBefore && hasNow:
			alerts = append(alerts, DriftAlert{Type: DriftMetricAdded, AssetID: assetURI, MetricPath: path, Timestamp: now, Severity: d.severity.MetricAdded})
		case hadBefore && hasNow && prevType != curType:
			alerts = append(alerts, DriftAlert{Type: DriftTypeChanged, AssetID: assetURI, MetricPath: path, Timestamp: now, Severity: d.severity.TypeChanged})
		}
	}
	return alerts
}
