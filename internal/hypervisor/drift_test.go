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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/persistence"
)

func newTestDriftDetector(t *testing.T) *DriftDetector {
	t.Helper()
	store, err := persistence.Open(t.TempDir(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	severity := config.DriftSeverityConfig{
		MetricAdded:   config.SeverityLow,
		MetricRemoved: config.SeverityHigh,
		TypeChanged:   config.SeverityMedium,
	}
	return NewDriftDetector(persistence.NewFingerprintTable(store, 0), severity)
}

func rec(path string, valueType string) leaf.LeafRecord {
	return leaf.LeafRecord{Path: leaf.Path{path}, ValueType: valueType}
}

func TestSnapshotFirstCallProducesNoAlerts(t *testing.T) {
	d := newTestDriftDetector(t)
	alerts, err := d.Snapshot("asset1", "sm1", []leaf.LeafRecord{rec("Temp", "float")}, 1000)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestSnapshotDetectsMetricAdded(t *testing.T) {
	d := newTestDriftDetector(t)
	_, err := d.Snapshot("asset1", "sm1", []leaf.LeafRecord{rec("Temp", "float")}, 1000)
	require.NoError(t, err)

	alerts, err := d.Snapshot("asset1", "sm1", []leaf.LeafRecord{rec("Temp", "float"), rec("Humidity", "float")}, 2000)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, DriftMetricAdded, alerts[0].Type)
	assert.Equal(t, "Humidity", alerts[0].MetricPath)
	assert.Equal(t, config.SeverityLow, alerts[0].Severity)
}

func TestSnapshotDetectsMetricRemoved(t *testing.T) {
	d := newTestDriftDetector(t)
	_, err := d.Snapshot("asset1", "sm1", []leaf.LeafRecord{rec("Temp", "float"), rec("Humidity", "float")}, 1000)
	require.NoError(t, err)

	alerts, err := d.Snapshot("asset1", "sm1", []leaf.LeafRecord{rec("Temp", "float")}, 2000)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, DriftMetricRemoved, alerts[0].Type)
	assert.Equal(t, "Humidity", alerts[0].MetricPath)
	assert.Equal(t, config.SeverityHigh, alerts[0].Severity)
}

func TestSnapshotDetectsTypeChanged(t *testing.T) {
	d := newTestDriftDetector(t)
	_, err := d.Snapshot("asset1", "sm1", []leaf.LeafRecord{rec("Temp", "float")}, 1000)
	require.NoError(t, err)

	alerts, err := d.Snapshot("asset1", "sm1", []leaf.LeafRecord{rec("Temp", "string")}, 2000)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, DriftTypeChanged, alerts[0].Type)
	assert.Equal(t, config.SeverityMedium, alerts[0].Severity)
}

func TestSnapshotIsolatesDifferentAssets(t *testing.T) {
	d := newTestDriftDetector(t)
	_, err := d.Snapshot("asset1", "sm1", []leaf.LeafRecord{rec("Temp", "float")}, 1000)
	require.NoError(t, err)

	alerts, err := d.Snapshot("asset2", "sm1", []leaf.LeafRecord{rec("Temp", "float")}, 2000)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}
