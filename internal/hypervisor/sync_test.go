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
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/broker"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/broker/brokertest"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
)

type fakeWriter struct {
	calls int
	err   error
}

func (f *fakeWriter) WriteValue(ctx context.Context, submodelID string, path []string, value any) error {
	f.calls++
	return f.err
}

func deliverCommand(t *testing.T, fake *brokertest.Fake, valueTopic string, cmd command) {
	t.Helper()
	body, err := json.Marshal(cmd)
	require.NoError(t, err)
	ok := fake.Deliver("+/cmd", broker.Message{Topic: valueTopic + "/cmd", Payload: body})
	require.True(t, ok, "no subscriber registered for \"+/cmd\"")
}

func TestCommandSyncWritesAndAcksOnSuccess(t *testing.T) {
	fake := brokertest.New()
	writer := &fakeWriter{}
	sync := NewCommandSync(fake, writer, nil, []string{"*"}, nil, false)
	require.NoError(t, sync.Subscribe(context.Background(), "+/cmd", 1))

	sync.Register("UNS/Ent/Site/Area/Line/asset1/context/sm1/Temp", Registration{
		AssetURI: "asset1", SubmodelID: "sm1", Path: leaf.Path{"Temp"},
	})
	deliverCommand(t, fake, "UNS/Ent/Site/Area/Line/asset1/context/sm1/Temp", command{Value: 21.5, CorrelationID: "c1"})

	require.Equal(t, 1, writer.calls)
	published := fake.Published()
	require.Len(t, published, 1)
	var a ack
	require.NoError(t, json.Unmarshal(published[0].Payload, &a))
	assert.True(t, a.Ack)
	assert.Equal(t, "c1", a.CorrelationID)
}

func TestCommandSyncDeniesPatternMatch(t *testing.T) {
	fake := brokertest.New()
	writer := &fakeWriter{}
	sync := NewCommandSync(fake, writer, nil, []string{"*"}, []string{"Temp"}, false)
	require.NoError(t, sync.Subscribe(context.Background(), "+/cmd", 1))

	sync.Register("topic1", Registration{AssetURI: "asset1", SubmodelID: "sm1", Path: leaf.Path{"Temp"}})
	deliverCommand(t, fake, "topic1", command{Value: 1, CorrelationID: "c2"})

	assert.Equal(t, 0, writer.calls)
	published := fake.Published()
	require.Len(t, published, 1)
	var a ack
	require.NoError(t, json.Unmarshal(published[0].Payload, &a))
	assert.False(t, a.Ack)
	assert.Equal(t, "denied", a.Error)
}

func TestCommandSyncDeniesWhenNoAllowRuleMatches(t *testing.T) {
	fake := brokertest.New()
	writer := &fakeWriter{}
	sync := NewCommandSync(fake, writer, nil, []string{"Humidity"}, nil, false)
	require.NoError(t, sync.Subscribe(context.Background(), "+/cmd", 1))

	sync.Register("topic1", Registration{AssetURI: "asset1", SubmodelID: "sm1", Path: leaf.Path{"Temp"}})
	deliverCommand(t, fake, "topic1", command{Value: 1, CorrelationID: "c3"})

	assert.Equal(t, 0, writer.calls)
	var a ack
	require.NoError(t, json.Unmarshal(fake.Published()[0].Payload, &a))
	assert.False(t, a.Ack)
	assert.Equal(t, "denied", a.Error)
}

func TestCommandSyncRejectsInvalidValueOnPreWriteValidation(t *testing.T) {
	fake := brokertest.New()
	writer := &fakeWriter{}
	validate := func(rec leaf.LeafRecord) Result { return Result{Outcome: OutcomeReject, Reason: "out of range"} }
	sync := NewCommandSync(fake, writer, validate, []string{"*"}, nil, true)
	require.NoError(t, sync.Subscribe(context.Background(), "+/cmd", 1))

	sync.Register("topic1", Registration{AssetURI: "asset1", SubmodelID: "sm1", Path: leaf.Path{"Temp"}})
	deliverCommand(t, fake, "topic1", command{Value: 999.0, CorrelationID: "c4"})

	assert.Equal(t, 0, writer.calls)
	var a ack
	require.NoError(t, json.Unmarshal(fake.Published()[0].Payload, &a))
	assert.False(t, a.Ack)
	assert.Equal(t, "invalid", a.Error)
}

func TestCommandSyncNacksOnWriteFailure(t *testing.T) {
	fake := brokertest.New()
	writer := &fakeWriter{err: errors.New("boom")}
	sync := NewCommandSync(fake, writer, nil, []string{"*"}, nil, false)
	require.NoError(t, sync.Subscribe(context.Background(), "+/cmd", 1))

	sync.Register("topic1", Registration{AssetURI: "asset1", SubmodelID: "sm1", Path: leaf.Path{"Temp"}})
	deliverCommand(t, fake, "topic1", command{Value: 1, CorrelationID: "c5"})

	var a ack
	require.NoError(t, json.Unmarshal(fake.Published()[0].Payload, &a))
	assert.False(t, a.Ack)
	assert.Equal(t, "write_failed", a.Error)
}
