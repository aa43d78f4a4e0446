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

package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/address"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/broker/brokertest"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/hypervisor"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/lifecycle"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/model"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/persistence"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/retained"
)

type fakeWriter struct{ calls int }

func (f *fakeWriter) WriteValue(_ context.Context, _ string, _ []string, _ any) error {
	f.calls++
	return nil
}

// testProperty decodes a Property through the same UnmarshalSubmodelElement
// path the repository/file-watcher ingress adapters would use, rather than
// reaching into model's unexported fields.
func testProperty(t *testing.T, idShort, value string) model.SubmodelElement {
	t.Helper()
	raw := `{"modelType":"Property","idShort":"` + idShort + `","valueType":"xs:double","value":"` + value + `"}`
	el, err := model.UnmarshalSubmodelElement([]byte(raw))
	require.NoError(t, err)
	return el
}

func leafRecordFixture(submodelID string) []leaf.LeafRecord {
	return []leaf.LeafRecord{{
		AssetURI:        "urn:asset:fixture",
		SubmodelID:      submodelID,
		SubmodelIDShort: submodelID,
		Path:            leaf.Path{"Value"},
		Kind:            leaf.KindProperty,
		Value:           leaf.FloatValue(1),
		ValueType:       "xs:double",
	}}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *brokertest.Fake, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(t.TempDir(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client := brokertest.New()
	resolver := address.NewResolver(config.MappingConfig{})
	topics := address.TopicBuilder{RetainedPrefix: "uns", GroupID: "grp", EdgeNodeID: "edge", SysRoot: "UNS"}

	hashes := persistence.NewHashTable(store, 0)
	contexts := persistence.NewContextTable(store, 0)
	retainedPub := retained.New(config.RetainedConfig{TopicPrefix: "uns", QoS: 1}, client, topics, hashes, contexts)

	aliases := persistence.NewAliasTable(store, 0)
	births := persistence.NewBirthCacheTable(store, 0)
	bdSeqTable := store.Table("bdseq", 0)
	lifecyclePub := lifecycle.New(config.BrokerConfig{GroupID: "grp", EdgeNodeID: "edge"}, client, topics, aliases, births, bdSeqTable)

	validator := hypervisor.NewValidator(config.SemanticConfig{}, map[string]hypervisor.SemanticConstraint{})
	fingerprints := persistence.NewFingerprintTable(store, 0)
	drift := hypervisor.NewDriftDetector(fingerprints, config.DriftSeverityConfig{})

	driftModels := persistence.NewDriftModelTable(store, 0)
	anomaly := hypervisor.NewAnomalyDetector(driftModels, config.AnomalyThresholds{Low: 0.5, Medium: 0.6, High: 0.7, Critical: 0.9})

	states := persistence.NewLifecycleStateTable(store, 0)
	tracker := hypervisor.NewTracker(states, time.Minute, false, topics.SysRoot, client, retainedPub, resolver)

	fidelityRecords := persistence.NewFidelityTable(store, 0)
	fidelity := hypervisor.NewFidelityScorer(fidelityRecords, config.HypervisorConfig{
		FidelityWeights:        config.FidelityWeights{Structural: 1, Semantic: 1, Entropy: 1},
		FidelityAlertThreshold: 0,
	})

	cmdSync := hypervisor.NewCommandSync(client, &fakeWriter{}, validator.Validate, nil, nil, false)

	orch := New(Deps{
		Client:       client,
		Resolver:     resolver,
		Topics:       topics,
		RetainedPub:  retainedPub,
		LifecyclePub: lifecyclePub,
		Validator:    validator,
		Drift:        drift,
		Anomaly:      anomaly,
		Tracker:      tracker,
		Fidelity:     fidelity,
		CommandSync:  cmdSync,
		Now:          func() int64 { return 1000 },
	})
	return orch, client, store
}

func TestReadyReflectsBrokerConnection(t *testing.T) {
	orch, client, _ := newTestOrchestrator(t)
	assert.False(t, orch.Ready())
	_ = client.Connect(context.Background(), nil)
	assert.True(t, orch.Ready())
}

func TestProcessEventPublishesRetainedAndDeviceData(t *testing.T) {
	orch, client, _ := newTestOrchestrator(t)

	shell := model.AssetAdministrationShell{
		AssetURI: "urn:asset:pump1",
		Submodels: []model.Submodel{
			{
				ID:      "urn:sm:telemetry",
				IDShort: "Telemetry",
				Elements: []model.SubmodelElement{
					testProperty(t, "Temperature", "42.5"),
				},
			},
		},
	}

	err := orch.processEvent(context.Background(), AASEvent{
		Shell:  shell,
		Origin: func() string { return "test" },
	})
	require.NoError(t, err)

	published := client.Published()
	require.NotEmpty(t, published)

	var sawRetained, sawDeviceData bool
	for _, msg := range published {
		if msg.Retain {
			sawRetained = true
		}
		if strings.Contains(msg.Topic, "DDATA") || strings.Contains(msg.Topic, "DBIRTH") {
			sawDeviceData = true
		}
	}
	assert.True(t, sawRetained, "expected at least one retained publish")
	assert.True(t, sawDeviceData, "expected a lifecycle-plane device publish")
}

func TestProcessEventWithNoLeavesPublishesNothing(t *testing.T) {
	orch, client, _ := newTestOrchestrator(t)

	shell := model.AssetAdministrationShell{AssetURI: "urn:asset:empty"}
	err := orch.processEvent(context.Background(), AASEvent{Shell: shell, Origin: func() string { return "" }})
	require.NoError(t, err)
	assert.Empty(t, client.Published())
}

func TestSubmitBlocksUntilContextCancelled(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	orch.events = make(chan AASEvent) // unbuffered, nothing ever drains it

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := orch.Submit(ctx, AASEvent{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGroupBySubmodelPreservesFirstSeenOrder(t *testing.T) {
	records := leafRecordFixture("sm-b")
	records = append(records, leafRecordFixture("sm-a")...)
	records = append(records, leafRecordFixture("sm-b")...)

	order, grouped := groupBySubmodel(records)
	require.Equal(t, []string{"sm-b", "sm-a"}, order)
	assert.Len(t, grouped["sm-b"], 2)
	assert.Len(t, grouped["sm-a"], 1)
}
