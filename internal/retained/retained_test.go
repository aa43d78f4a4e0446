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

package retained

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/address"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/broker/brokertest"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/persistence"
)

func newTestPublisher(t *testing.T, mode config.PointerMode) (*Publisher, *brokertest.Fake) {
	t.Helper()
	store, err := persistence.Open(t.TempDir(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fake := brokertest.New()
	topics := address.TopicBuilder{RetainedPrefix: "uns", SysRoot: "UNS"}
	cfg := config.RetainedConfig{PointerMode: mode, QoS: 1}
	pub := New(cfg, fake, topics, persistence.NewHashTable(store, 0), persistence.NewContextTable(store, 0))
	return pub, fake
}

func sampleRecord() leaf.LeafRecord {
	return leaf.LeafRecord{
		AssetURI:        "urn:asset:1",
		SubmodelID:      "urn:sm:1",
		SubmodelIDShort: "Nameplate",
		Path:            leaf.Path{"SerialNumber"},
		Kind:            leaf.KindProperty,
		Value:           leaf.TextValue("SN-42"),
		ValueType:       "xs:string",
		SourceTimestamp: 1000,
	}
}

func TestPublishInlineModeSkipsUnchangedContent(t *testing.T) {
	pub, fake := newTestPublisher(t, config.PointerModeInline)
	addr := address.AssetAddress{Enterprise: "Ent", Site: "Site", Area: "Area", Line: "Line", Asset: "Asset"}
	rec := sampleRecord()

	err := pub.Publish(context.Background(), addr, rec, func() int64 { return 1 })
	require.NoError(t, err)
	require.Len(t, fake.Published(), 1)

	err = pub.Publish(context.Background(), addr, rec, func() int64 { return 2 })
	require.NoError(t, err)
	assert.Len(t, fake.Published(), 1, "unchanged content must not republish")
}

func TestPublishRepublishesOnContentChange(t *testing.T) {
	pub, fake := newTestPublisher(t, config.PointerModeInline)
	addr := address.AssetAddress{Enterprise: "Ent", Site: "Site", Area: "Area", Line: "Line", Asset: "Asset"}
	rec := sampleRecord()

	require.NoError(t, pub.Publish(context.Background(), addr, rec, func() int64 { return 1 }))
	rec.Value = leaf.TextValue("SN-43")
	require.NoError(t, pub.Publish(context.Background(), addr, rec, func() int64 { return 2 }))

	assert.Len(t, fake.Published(), 2)
}

func TestPublishPointerModeEmitsContextDictionaryEntry(t *testing.T) {
	pub, fake := newTestPublisher(t, config.PointerModePtr)
	addr := address.AssetAddress{Enterprise: "Ent", Site: "Site", Area: "Area", Line: "Line", Asset: "Asset"}
	rec := sampleRecord()

	require.NoError(t, pub.Publish(context.Background(), addr, rec, func() int64 { return 1 }))

	published := fake.Published()
	require.Len(t, published, 2, "pointer mode publishes a context entry and a value message")

	var sawContextTopic, sawValueTopic bool
	for _, msg := range published {
		switch {
		case msg.Topic == "uns/Ent/Site/Area/Line/Asset/context/Nameplate/SerialNumber":
			sawValueTopic = true
		case strings.HasPrefix(msg.Topic, "UNS/Sys/Context/"):
			sawContextTopic = true
		}
	}
	assert.True(t, sawValueTopic, "expected the value topic to be published")
	assert.True(t, sawContextTopic, "expected a context dictionary topic to be published under UNS/Sys/Context/")
}

func TestClearTopicPublishesEmptyRetainedMessage(t *testing.T) {
	pub, fake := newTestPublisher(t, config.PointerModeInline)
	addr := address.AssetAddress{Enterprise: "Ent", Site: "Site", Area: "Area", Line: "Line", Asset: "Asset"}

	require.NoError(t, pub.ClearTopic(context.Background(), addr, "Nameplate", leaf.Path{"SerialNumber"}))

	published := fake.Published()
	require.Len(t, published, 1)
	assert.Empty(t, published[0].Payload)
	assert.True(t, published[0].Retain)
}
