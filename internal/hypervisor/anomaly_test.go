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
	"github.com/eclipse-basyx/aas-uns-bridge/internal/persistence"
)

func TestAnomalySeverityMapsScoreToConfiguredBand(t *testing.T) {
	thresholds := config.AnomalyThresholds{Low: 0.5, Medium: 0.7, High: 0.85, Critical: 0.95}
	assert.Equal(t, config.Severity(""), AnomalySeverity(0.1, thresholds))
	assert.Equal(t, config.SeverityLow, AnomalySeverity(0.55, thresholds))
	assert.Equal(t, config.SeverityMedium, AnomalySeverity(0.75, thresholds))
	assert.Equal(t, config.SeverityHigh, AnomalySeverity(0.9, thresholds))
	assert.Equal(t, config.SeverityCritical, AnomalySeverity(0.99, thresholds))
}

func TestForestScoresStableRepeatedValueAsLessAnomalousOverTime(t *testing.T) {
	f := NewForest(0, 100, 25, 8, 250, 7)
	var first, last float64
	for i := 0; i < 50; i++ {
		score := f.Observe(50.0)
		if i == 0 {
			first = score
		}
		last = score
	}
	assert.LessOrEqual(t, last, first, "repeated identical values should accumulate mass and not become more anomalous")
}

func TestForestScoresOutlierHigherThanDenseRegion(t *testing.T) {
	f := NewForest(0, 100, 25, 8, 250, 7)
	for i := 0; i < 100; i++ {
		f.Observe(50.0)
	}
	denseScore := f.Observe(50.0)
	outlierScore := f.Observe(99.9)
	assert.Greater(t, outlierScore, denseScore)
}

func TestForestStateRoundTripsThroughMarshal(t *testing.T) {
	f := NewForest(0, 100, 5, 4, 250, 1)
	for i := 0; i < 10; i++ {
		f.Observe(42.0)
	}
	state, err := f.MarshalState()
	require.NoError(t, err)

	restored := NewForest(0, 100, 5, 4, 250, 1)
	require.NoError(t, restored.LoadState(state))

	want := f.Observe(42.0)
	got := restored.Observe(42.0)
	assert.InDelta(t, want, got, 0.2)
}

func TestAnomalyDetectorObservePersistsModelState(t *testing.T) {
	store, err := persistence.Open(t.TempDir(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	models := persistence.NewDriftModelTable(store, 0)
	thresholds := config.AnomalyThresholds{Low: 0.9, Medium: 0.95, High: 0.98, Critical: 0.995}
	detector := NewAnomalyDetector(models, thresholds)

	for i := 0; i < 5; i++ {
		detector.Observe("asset1", "Temp", 20.0, int64(1000+i))
	}

	state, ok, err := models.Get("asset1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, state.Trees)
}
