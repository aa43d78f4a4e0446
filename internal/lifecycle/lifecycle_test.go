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

package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/address"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/broker/brokertest"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/persistence"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/sparkplug"
)

func newTestPublisher(t *testing.T) (*Publisher, *brokertest.Fake) {
	t.Helper()
	store, err := persistence.Open(t.TempDir(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fake := brokertest.New()
	brokerCfg := config.BrokerConfig{EdgeNodeID: "edge0", GroupID: "UNS"}
	topics := address.TopicBuilder{GroupID: "UNS", EdgeNodeID: "edge0"}
	aliases := persistence.NewAliasTable(store, 0)
	births := persistence.NewBirthCacheTable(store, 0)
	bdSeqTable := store.Table("bdseq", 1)

	return New(brokerCfg, fake, topics, aliases, births, bdSeqTable), fake
}

func fixedClock(ts int64) func() int64 { return func() int64 { return ts } }

func TestConnectPublishesNBirthBeforeAnyDeviceData(t *testing.T) {
	pub, fake := newTestPublisher(t)
	require.NoError(t, pub.Connect(context.Background(), fixedClock(1000)))

	require.NoError(t, pub.PublishDeviceData(context.Background(), "asset1", []DeviceMetric{
		{Name: "Temp", Value: MetricValue{DataType: sparkplug.DataTypeDouble, DoubleVal: 21.5}},
	}, fixedClock(1001)))

	published := fake.Published()
	require.Len(t, published, 2, "expect NBIRTH then DBIRTH")
	assert.Equal(t, "spBv1.0/UNS/NBIRTH/edge0", published[0].Topic)
	assert.Equal(t, "spBv1.0/UNS/DBIRTH/edge0/asset1", published[1].Topic)
}

func TestSecondDataPublishIsDDATANotDBIRTH(t *testing.T) {
	pub, fake := newTestPublisher(t)
	require.NoError(t, pub.Connect(context.Background(), fixedClock(1000)))

	metrics := []DeviceMetric{{Name: "Temp", Value: MetricValue{DataType: sparkplug.DataTypeDouble, DoubleVal: 21.5}}}
	require.NoError(t, pub.PublishDeviceData(context.Background(), "asset1", metrics, fixedClock(1001)))
	require.NoError(t, pub.PublishDeviceData(context.Background(), "asset1", metrics, fixedClock(1002)))

	published := fake.Published()
	require.Len(t, published, 3)
	assert.Equal(t, "spBv1.0/UNS/DDATA/edge0/asset1", published[2].Topic)
}

func TestAliasIsStableAcrossPublishes(t *testing.T) {
	pub, _ := newTestPublisher(t)
	require.NoError(t, pub.Connect(context.Background(), fixedClock(1000)))

	metrics := []DeviceMetric{{Name: "Temp", Value: MetricValue{DataType: sparkplug.DataTypeDouble, DoubleVal: 21.5}}}
	require.NoError(t, pub.PublishDeviceData(context.Background(), "asset1", metrics, fixedClock(1001)))

	firstAlias, ok, err := pub.aliases.Lookup("edge0", "asset1", "Temp")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, pub.PublishDeviceData(context.Background(), "asset1", metrics, fixedClock(1002)))
	secondAlias, ok, err := pub.aliases.Lookup("edge0", "asset1", "Temp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, firstAlias, secondAlias)
}

func TestRebirthRepublishesIdenticalAliasMap(t *testing.T) {
	pub, fake := newTestPublisher(t)
	require.NoError(t, pub.Connect(context.Background(), fixedClock(1000)))

	metrics := []DeviceMetric{
		{Name: "Temp", Value: MetricValue{DataType: sparkplug.DataTypeDouble, DoubleVal: 21.5}},
		{Name: "Serial", Value: MetricValue{DataType: sparkplug.DataTypeString, StringVal: "SN-1"}},
	}
	require.NoError(t, pub.PublishDeviceData(context.Background(), "asset1", metrics, fixedClock(1001)))

	before, err := pub.aliases.DeviceAliases("edge0", "asset1")
	require.NoError(t, err)

	require.NoError(t, pub.Rebirth(context.Background(), fixedClock(2000)))

	after, err := pub.aliases.DeviceAliases("edge0", "asset1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	published := fake.Published()
	last := published[len(published)-1]
	assert.Equal(t, "spBv1.0/UNS/DBIRTH/edge0/asset1", last.Topic)
}

func TestDeviceTimeoutPublishesDDEATHAndRemovesFromActiveSet(t *testing.T) {
	pub, fake := newTestPublisher(t)
	require.NoError(t, pub.Connect(context.Background(), fixedClock(1000)))
	metrics := []DeviceMetric{{Name: "Temp", Value: MetricValue{DataType: sparkplug.DataTypeDouble, DoubleVal: 21.5}}}
	require.NoError(t, pub.PublishDeviceData(context.Background(), "asset1", metrics, fixedClock(1001)))

	require.NoError(t, pub.DeviceTimeout(context.Background(), "asset1", fixedClock(1002)))

	published := fake.Published()
	assert.Equal(t, "spBv1.0/UNS/DDEATH/edge0/asset1", published[len(published)-1].Topic)

	_, stillActive := pub.active["asset1"]
	assert.False(t, stillActive)
}

func TestShutdownPublishesDDEATHThenNDEATH(t *testing.T) {
	pub, fake := newTestPublisher(t)
	require.NoError(t, pub.Connect(context.Background(), fixedClock(1000)))
	metrics := []DeviceMetric{{Name: "Temp", Value: MetricValue{DataType: sparkplug.DataTypeDouble, DoubleVal: 21.5}}}
	require.NoError(t, pub.PublishDeviceData(context.Background(), "asset1", metrics, fixedClock(1001)))

	require.NoError(t, pub.Shutdown(context.Background(), fixedClock(1002)))

	published := fake.Published()
	require.True(t, len(published) >= 2)
	assert.Equal(t, "spBv1.0/UNS/DDEATH/edge0/asset1", published[len(published)-2].Topic)
	assert.Equal(t, "spBv1.0/UNS/NDEATH/edge0", published[len(published)-1].Topic)
	assert.False(t, fake.Connected())
}

func TestBdSeqIncrementsAcrossReconnects(t *testing.T) {
	pub, _ := newTestPublisher(t)
	require.NoError(t, pub.Connect(context.Background(), fixedClock(1000)))
	first := pub.bdSeq
	require.NoError(t, pub.Shutdown(context.Background(), fixedClock(1001)))

	require.NoError(t, pub.Connect(context.Background(), fixedClock(2000)))
	assert.Equal(t, first+1, pub.bdSeq)
}
