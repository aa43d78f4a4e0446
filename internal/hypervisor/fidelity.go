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
	"fmt"
	"math"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/persistence"
)

// FidelityAlert is emitted when a weighted fidelity mean falls below
// the configured alert threshold (spec.md §4.6.7).
type FidelityAlert struct {
	Type    string  `json:"type"`
	AssetID string  `json:"asset_id"`
	Score   float64 `json:"score"`
	Timestamp int64 `json:"timestamp"`
}

// FidelityScorer computes the three fidelity scores of spec.md §4.6.7
// for one traversal snapshot and persists the result.
type FidelityScorer struct {
	records   *persistence.FidelityTable
	weights   config.FidelityWeights
	threshold float64
}

// NewFidelityScorer builds a FidelityScorer from the hypervisor config
// group.
func NewFidelityScorer(records *persistence.FidelityTable, cfg config.HypervisorConfig) *FidelityScorer {
	return &FidelityScorer{records: records, weights: cfg.FidelityWeights, threshold: cfg.FidelityAlertThreshold}
}

// Score compares the full traversal (total) against the subset that
// actually reached a publisher (published), computes the three
// component scores and their weighted mean, persists the sample, and
// returns a FidelityAlert if the mean is below the configured
// threshold.
func (s *FidelityScorer) Score(assetURI string, total, published []leaf.LeafRecord, now int64) (persistence.FidelityRecord, *FidelityAlert, error) {
	structural := fraction(len(published), len(total))
	semantic := fractionWithSemanticID(published, len(total))
	entropy := entropyFidelity(total, published)

	mean := s.weightedMean(structural, semantic, entropy)
	record := persistence.FidelityRecord{
		AssetURI: assetURI, Structural: structural, Semantic: semantic, Entropy: entropy,
		WeightedMean: mean, ComputedAt: now,
	}
	if err := s.records.Put(assetURI, record); err != nil {
		return record, nil, fmt.Errorf("persisting fidelity record for %s: %w", assetURI, err)
	}

	if mean < s.threshold {
		return record, &FidelityAlert{Type: "fidelity_low", AssetID: assetURI, Score: mean, Timestamp: now}, nil
	}
	return record, nil, nil
}

func (s *FidelityScorer) weightedMean(structural, semantic, entropy float64) float64 {
	sum := s.weights.Structural + s.weights.Semantic + s.weights.Entropy
	if sum <= 0 {
		return (structural + semantic + entropy) / 3
	}
	return (s.weights.Structural*structural + s.weights.Semantic*semantic + s.weights.Entropy*entropy) / sum
}

func fraction(count, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(count) / float64(total)
}

func fractionWithSemanticID(published []leaf.LeafRecord, total int) float64 {
	if total == 0 {
		return 1
	}
	var withID int
	for _, rec := range published {
		if rec.HasSemanticID() {
			withID++
		}
	}
	return float64(withID) / float64(total)
}

// entropyFidelity compares the Shannon entropy of the value
// distribution before and after publication and returns
// 1 - normalized entropy loss, in [0, 1].
func entropyFidelity(total, published []leaf.LeafRecord) float64 {
	if len(total) == 0 {
		return 1
	}
	hTotal := shannonEntropy(total)
	hPublished := shannonEntropy(published)
	if hTotal <= 0 {
		return 1
	}
	loss := math.Abs(hTotal-hPublished) / hTotal
	if loss > 1 {
		loss = 1
	}
	return 1 - loss
}

func shannonEntropy(records []leaf.LeafRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	counts := make(map[string]int, len(records))
	for _, rec := range records {
		counts[fmt.Sprintf("%v", rec.Value.AsJSON())]++
	}
	n := float64(len(records))
	var h float64
	for _, c := range counts {
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}
