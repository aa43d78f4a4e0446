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
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/persistence"
)

// hsNode is one node of a half-space tree: a random axis-aligned split
// of a value range (spec.md §4.6.4). Fields are exported so the node
// can be gob-encoded for persistence across restarts.
type hsNode struct {
	Min, Max   float64
	SplitValue float64
	Left       *hsNode
	Right      *hsNode
	Mass       int
}

func buildHSNode(min, max float64, depth, maxDepth int, rng *rand.Rand) *hsNode {
	n := &hsNode{Min: min, Max: max}
	if depth >= maxDepth || max <= min {
		return n
	}
	n.SplitValue = min + rng.Float64()*(max-min)
	n.Left = buildHSNode(min, n.SplitValue, depth+1, maxDepth, rng)
	n.Right = buildHSNode(n.SplitValue, max, depth+1, maxDepth, rng)
	return n
}

func (n *hsNode) isLeaf() bool { return n.Left == nil && n.Right == nil }

// massAndDepth returns the mass recorded at the leaf value reaches and
// the depth of that leaf, without mutating state.
func (n *hsNode) massAndDepth(value float64) (mass, depth int) {
	if n.isLeaf() {
		return n.Mass, 0
	}
	if value < n.SplitValue {
		m, d := n.Left.massAndDepth(value)
		return m, d + 1
	}
	m, d := n.Right.massAndDepth(value)
	return m, d + 1
}

func (n *hsNode) update(value float64) {
	n.Mass++
	if n.isLeaf() {
		return
	}
	if value < n.SplitValue {
		n.Left.update(value)
	} else {
		n.Right.update(value)
	}
}

func (n *hsNode) decay() {
	n.Mass /= 2
	if !n.isLeaf() {
		n.Left.decay()
		n.Right.decay()
	}
}

// Forest is a half-space-tree anomaly scorer for one asset's numeric
// value stream (spec.md §4.6.4). Scores are in [0, 1]; higher means
// more anomalous.
type Forest struct {
	mu         sync.Mutex
	trees      []*hsNode
	windowSize int
	seen       int
}

// NewForest builds a Forest with numTrees random trees of maxDepth over
// [min, max], refreshing (halving) mass counters every windowSize
// observations.
func NewForest(min, max float64, numTrees, maxDepth, windowSize int, seed int64) *Forest {
	rng := rand.New(rand.NewSource(seed))
	trees := make([]*hsNode, numTrees)
	for i := range trees {
		trees[i] = buildHSNode(min, max, 0, maxDepth, rng)
	}
	return &Forest{trees: trees, windowSize: windowSize}
}

// Observe scores value against the current forest, then folds it into
// the mass profile. The score is the inverse of the average
// depth-normalized mass across trees: points in sparsely populated,
// deep regions score close to 1.
func (f *Forest) Observe(value float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	var total float64
	for _, t := range f.trees {
		mass, depth := t.massAndDepth(value)
		total += float64(mass) / math.Pow(2, float64(depth))
	}
	for _, t := range f.trees {
		t.update(value)
	}
	f.seen++
	if f.windowSize > 0 && f.seen >= f.windowSize {
		for _, t := range f.trees {
			t.decay()
		}
		f.seen = 0
	}

	avg := total / float64(len(f.trees))
	return 1.0 / (1.0 + avg)
}

// MarshalState gob-encodes each tree for persistence.
func (f *Forest) MarshalState() ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.trees))
	for i, t := range f.trees {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(t); err != nil {
			return nil, fmt.Errorf("encoding tree %d: %w", i, err)
		}
		out[i] = buf.Bytes()
	}
	return out, nil
}

// LoadState restores trees previously produced by MarshalState.
func (f *Forest) LoadState(data [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	trees := make([]*hsNode, len(data))
	for i, d := range data {
		var n hsNode
		if err := gob.NewDecoder(bytes.NewReader(d)).Decode(&n); err != nil {
			return fmt.Errorf("decoding tree %d: %w", i, err)
		}
		trees[i] = &n
	}
	f.trees = trees
	return nil
}

// AnomalySeverity maps a score to a configured severity, or "" if below
// every threshold.
func AnomalySeverity(score float64, thresholds config.AnomalyThresholds) config.Severity {
	switch {
	case score >= thresholds.Critical:
		return config.SeverityCritical
	case score >= thresholds.High:
		return config.SeverityHigh
	case score >= thresholds.Medium:
		return config.SeverityMedium
	case score >= thresholds.Low:
		return config.SeverityLow
	default:
		return ""
	}
}

// AnomalyAlert is emitted when a streaming drift score crosses the
// lowest configured threshold (spec.md §6, type "value_anomaly").
type AnomalyAlert struct {
	Type       string          `json:"type"`
	AssetID    string          `json:"asset_id"`
	MetricPath string          `json:"metric_path"`
	Timestamp  int64           `json:"timestamp"`
	Severity   config.Severity `json:"severity"`
	Score      float64         `json:"score"`
}

// AnomalyDetector owns one Forest per asset, lazily created on first
// numeric observation, with its per-tree range bootstrapped from the
// first value it sees.
type AnomalyDetector struct {
	mu         sync.Mutex
	forests    map[string]*Forest
	models     *persistence.DriftModelTable
	numTrees   int
	maxDepth   int
	windowSize int
	thresholds config.AnomalyThresholds
	rangeWidth float64
}

// NewAnomalyDetector builds an AnomalyDetector backed by models for
// cross-restart persistence.
func NewAnomalyDetector(models *persistence.DriftModelTable, thresholds config.AnomalyThresholds) *AnomalyDetector {
	return &AnomalyDetector{
		forests:    make(map[string]*Forest),
		models:     models,
		numTrees:   25,
		maxDepth:   8,
		windowSize: 250,
		thresholds: thresholds,
		rangeWidth: 1e6,
	}
}

func (a *AnomalyDetector) forestFor(assetURI string, value float64) *Forest {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.forests[assetURI]; ok {
		return f
	}
	lo, hi := value-a.rangeWidth/2, value+a.rangeWidth/2
	f := NewForest(lo, hi, a.numTrees, a.maxDepth, a.windowSize, int64(len(assetURI))+1)
	if state, ok, err := a.models.Get(assetURI); err == nil && ok {
		_ = f.LoadState(state.Trees)
	}
	a.forests[assetURI] = f
	return f
}

// Observe scores a new numeric value for (assetURI, metricPath) and
// returns an alert if the score crosses the lowest configured
// threshold.
func (a *AnomalyDetector) Observe(assetURI, metricPath string, value float64, now int64) *AnomalyAlert {
	forest := a.forestFor(assetURI, value)
	score := forest.Observe(value)

	if state, err := forest.MarshalState(); err == nil {
		_ = a.models.Put(assetURI, persistence.DriftModelState{AssetURI: assetURI, Trees: state, UpdatedAt: now})
	}

	severity := AnomalySeverity(score, a.thresholds)
	if severity == "" {
		return nil
	}
	return &AnomalyAlert{Type: "value_anomaly", AssetID: assetURI, MetricPath: metricPath, Timestamp: now, Severity: severity, Score: score}
}
