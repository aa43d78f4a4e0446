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

func newTestScorer(t *testing.T, threshold float64) *FidelityScorer {
	t.Helper()
	store, err := persistence.Open(t.TempDir(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.HypervisorConfig{
		FidelityWeights:        config.FidelityWeights{Structural: 1, Semantic: 1, Entropy: 1},
		FidelityAlertThreshold: threshold,
	}
	return NewFidelityScorer(persistence.NewFidelityTable(store, 0), cfg)
}

func TestScoreAllLeavesPublishedWithSemanticIDsYieldsHighFidelity(t *testing.T) {
	scorer := newTestScorer(t, 0.5)
	total := []leaf.LeafRecord{
		{SemanticID: "urn:a", Value: leaf.FloatValue(1)},
		{SemanticID: "urn:b", Value: leaf.FloatValue(2)},
	}
	record, alert, err := scorer.Score("asset1", total, total, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, record.Structural)
	assert.Equal(t, 1.0, record.Semantic)
	assert.Nil(t, alert)
}

func TestScoreDroppedLeavesLowerStructuralScore(t *testing.T) {
	scorer := newTestScorer(t, 0.9)
	total := []leaf.LeafRecord{
		{SemanticID: "urn:a", Value: leaf.FloatValue(1)},
		{SemanticID: "urn:b", Value: leaf.FloatValue(2)},
	}
	published := total[:1]
	record, alert, err := scorer.Score("asset1", total, published, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0.5, record.Structural)
	require.NotNil(t, alert)
	assert.Equal(t, "fidelity_low", alert.Type)
}

func TestScoreEmptyTraversalIsPerfectFidelity(t *testing.T) {
	scorer := newTestScorer(t, 0.9)
	record, alert, err := scorer.Score("asset1", nil, nil, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, record.Structural)
	assert.Equal(t, 1.0, record.Semantic)
	assert.Equal(t, 1.0, record.Entropy)
	assert.Nil(t, alert)
}

func TestScorePersistsLatestRecord(t *testing.T) {
	store, err := persistence.Open(t.TempDir(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	scorer := NewFidelityScorer(persistence.NewFidelityTable(store, 0), config.HypervisorConfig{
		FidelityWeights: config.FidelityWeights{Structural: 1, Semantic: 1, Entropy: 1},
	})

	total := []leaf.LeafRecord{{SemanticID: "urn:a", Value: leaf.FloatValue(1)}}
	_, _, err = scorer.Score("asset1", total, total, 1000)
	require.NoError(t, err)

	stored, ok, err := scorer.records.Get("asset1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1000), stored.ComputedAt)
}
