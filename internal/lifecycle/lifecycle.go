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

// Package lifecycle implements the birth/death lifecycle plane of
// spec.md §4.4: one session per connection with a persistent bdSeq, a
// per-message seq counter, dense append-only alias allocation, and the
// NBIRTH/DBIRTH/DDATA/DDEATH/NDEATH state machine.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/address"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/broker"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/obslog"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/persistence"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/sparkplug"
)

const bdSeqKey = "current"

// bdSeqRecord is the sole row of the bdSeq table: the 64-bit persistent
// counter, which sparkplug.BdSeqMetric transmits wrapped to 8 bits.
type bdSeqRecord struct {
	Value uint64 `json:"value"`
}

// MetricValue is a typed metric sample, independent of name/alias.
type MetricValue struct {
	DataType  sparkplug.DataType
	IsNull    bool
	Int64Val  int64
	DoubleVal float64
	BoolVal   bool
	StringVal string
	BytesVal  []byte
}

// DeviceMetric pairs a metric name with its current sample.
type DeviceMetric struct {
	Name  string
	Value MetricValue
}

// Publisher drives the lifecycle plane for a single edge node. It is
// not safe for concurrent Publish calls for different devices to race
// with Connect/Rebirth; callers serialize through the broker I/O worker
// per spec.md §5.
type Publisher struct {
	broker     config.BrokerConfig
	client     broker.Client
	topics     address.TopicBuilder
	aliases    *persistence.AliasTable
	births     *persistence.BirthCacheTable
	bdSeqTable *persistence.Table

	mu     sync.Mutex
	seq    uint8
	bdSeq  uint64
	active map[string]struct{}
}

// New builds a Publisher. bdSeqTable should be a dedicated, uncapped
// persistence.Table (one row).
func New(brokerCfg config.BrokerConfig, client broker.Client, topics address.TopicBuilder, aliases *persistence.AliasTable, births *persistence.BirthCacheTable, bdSeqTable *persistence.Table) *Publisher {
	return &Publisher{
		broker:     brokerCfg,
		client:     client,
		topics:     topics,
		aliases:    aliases,
		births:     births,
		bdSeqTable: bdSeqTable,
		active:     make(map[string]struct{}),
	}
}

func (p *Publisher) nextSeq() uint8 {
	s := p.seq
	p.seq++
	return s
}

func (p *Publisher) loadBdSeq() (uint64, error) {
	var rec bdSeqRecord
	ok, err := p.bdSeqTable.Peek(bdSeqKey, &rec)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return rec.Value, nil
}

func (p *Publisher) allocateBdSeq() (uint64, error) {
	prev, err := p.loadBdSeq()
	if err != nil {
		return 0, fmt.Errorf("loading bdSeq: %w", err)
	}
	next := prev + 1
	if err := p.bdSeqTable.Put(bdSeqKey, bdSeqRecord{Value: next}); err != nil {
		return 0, fmt.Errorf("persisting bdSeq: %w", err)
	}
	return next, nil
}

// Connect performs the full connect sequence of spec.md §4.4: persist a
// fresh bdSeq, register the NDEATH last-will, connect, publish NBIRTH,
// subscribe to the node command topic, and republish DBIRTH for every
// device recorded in the birth cache (the reconnect path).
func (p *Publisher) Connect(ctx context.Context, now func() int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	bdSeq, err := p.allocateBdSeq()
	if err != nil {
		return err
	}
	p.bdSeq = bdSeq
	p.seq = 0

	willEnv := sparkplug.Envelope{
		Timestamp: now(),
		Seq:       0,
		Metrics:   []sparkplug.Metric{sparkplug.BdSeqMetric(bdSeq, now())},
	}
	willPayload, err := sparkplug.Encode(willEnv)
	if err != nil {
		return fmt.Errorf("encoding NDEATH will: %w", err)
	}
	will := &broker.Will{
		Topic:   p.topics.LifecycleNodeTopic("NDEATH"),
		Payload: willPayload,
		QoS:     0,
		Retain:  false,
	}

	if err := p.client.Connect(ctx, will); err != nil {
		return fmt.Errorf("connecting broker session: %w", err)
	}

	nbirth := sparkplug.Envelope{
		Timestamp: now(),
		Seq:       uint64(p.nextSeq()),
		Metrics: []sparkplug.Metric{
			sparkplug.BdSeqMetric(bdSeq, now()),
			{Name: "Node Control/Rebirth", Timestamp: now(), DataType: sparkplug.DataTypeBoolean, BoolVal: false},
		},
	}
	if err := p.publishEnvelope(ctx, p.topics.LifecycleNodeTopic("NBIRTH"), nbirth); err != nil {
		return fmt.Errorf("publishing NBIRTH: %w", err)
	}

	commandTopic := p.topics.LifecycleNodeTopic("NCMD")
	if err := p.client.Subscribe(ctx, commandTopic, 0, p.handleNodeCommand(ctx, now)); err != nil {
		return fmt.Errorf("subscribing to node command topic: %w", err)
	}

	return p.restoreActiveDevices(ctx, now)
}

func (p *Publisher) restoreActiveDevices(ctx context.Context, now func() int64) error {
	p.active = make(map[string]struct{})
	return p.births.ForEach(p.broker.EdgeNodeID, func(device string, entry persistence.BirthCacheEntry) error {
		p.active[device] = struct{}{}
		return p.publishDBirthFromCache(ctx, device, entry, now)
	})
}

func (p *Publisher) publishDBirthFromCache(ctx context.Context, device string, entry persistence.BirthCacheEntry, now func() int64) error {
	metrics := make([]sparkplug.Metric, 0, len(entry.Metrics))
	for _, bm := range entry.Metrics {
		metrics = append(metrics, birthMetricToWire(bm, now()))
	}
	env := sparkplug.Envelope{Timestamp: now(), Seq: uint64(p.nextSeq()), Metrics: metrics}
	return p.publishEnvelope(ctx, p.topics.LifecycleDeviceTopic("DBIRTH", device), env)
}

func birthMetricToWire(bm persistence.BirthMetric, ts int64) sparkplug.Metric {
	return sparkplug.Metric{
		Name:      bm.Name,
		HasAlias:  true,
		Alias:     bm.Alias,
		Timestamp: ts,
		DataType:  sparkplug.DataType(bm.DataType),
		IsNull:    bm.IsNull,
		Int64Val:  bm.Int64Val,
		DoubleVal: bm.DoubleVal,
		BoolVal:   bm.BoolVal,
		StringVal: bm.StringVal,
		BytesVal:  bm.BytesVal,
	}
}

func deviceMetricToWire(name string, alias uint64, v MetricValue, ts int64) sparkplug.Metric {
	return sparkplug.Metric{
		Name:      name,
		HasAlias:  true,
		Alias:     alias,
		Timestamp: ts,
		DataType:  v.DataType,
		IsNull:    v.IsNull,
		Int64Val:  v.Int64Val,
		DoubleVal: v.DoubleVal,
		BoolVal:   v.BoolVal,
		StringVal: v.StringVal,
		BytesVal:  v.BytesVal,
	}
}

func metricToBirthCache(name string, alias uint64, v MetricValue) persistence.BirthMetric {
	return persistence.BirthMetric{
		Name:      name,
		Alias:     alias,
		DataType:  uint8(v.DataType),
		IsNull:    v.IsNull,
		Int64Val:  v.Int64Val,
		DoubleVal: v.DoubleVal,
		BoolVal:   v.BoolVal,
		StringVal: v.StringVal,
		BytesVal:  v.BytesVal,
	}
}

// PublishDeviceData announces metrics for device: a DBIRTH (allocating
// any new aliases) the first time the device is seen this session, or a
// DDATA referencing pre-announced aliases thereafter (spec.md §4.4).
func (p *Publisher) PublishDeviceData(ctx context.Context, device string, metrics []DeviceMetric, now func() int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, alreadyBorn := p.active[device]
	if !alreadyBorn {
		return p.birthDevice(ctx, device, metrics, now)
	}
	return p.dataForDevice(ctx, device, metrics, now)
}

func (p *Publisher) birthDevice(ctx context.Context, device string, metrics []DeviceMetric, now func() int64) error {
	wireMetrics := make([]sparkplug.Metric, 0, len(metrics))
	cacheMetrics := make([]persistence.BirthMetric, 0, len(metrics))

	for _, dm := range metrics {
		alias, err := p.aliases.Allocate(p.broker.EdgeNodeID, device, dm.Name)
		if err != nil {
			return fmt.Errorf("allocating alias for %s/%s: %w", device, dm.Name, err)
		}
		wireMetrics = append(wireMetrics, deviceMetricToWire(dm.Name, alias, dm.Value, now()))
		cacheMetrics = append(cacheMetrics, metricToBirthCache(dm.Name, alias, dm.Value))
	}

	entry := persistence.BirthCacheEntry{
		EdgeNodeID: p.broker.EdgeNodeID,
		DeviceID:   device,
		Metrics:    cacheMetrics,
		ComposedAt: now(),
		BdSeq:      p.bdSeq,
	}
	if err := p.births.Put(p.broker.EdgeNodeID, device, entry); err != nil {
		return fmt.Errorf("recording birth cache for %s: %w", device, err)
	}

	env := sparkplug.Envelope{Timestamp: now(), Seq: uint64(p.nextSeq()), Metrics: wireMetrics}
	if err := p.publishEnvelope(ctx, p.topics.LifecycleDeviceTopic("DBIRTH", device), env); err != nil {
		return fmt.Errorf("publishing DBIRTH for %s: %w", device, err)
	}
	p.active[device] = struct{}{}
	return nil
}

func (p *Publisher) dataForDevice(ctx context.Context, device string, metrics []DeviceMetric, now func() int64) error {
	wireMetrics := make([]sparkplug.Metric, 0, len(metrics))
	for _, dm := range metrics {
		alias, ok, err := p.aliases.Lookup(p.broker.EdgeNodeID, device, dm.Name)
		if err != nil {
			return fmt.Errorf("looking up alias for %s/%s: %w", device, dm.Name, err)
		}
		if !ok {
			alias, err = p.aliases.Allocate(p.broker.EdgeNodeID, device, dm.Name)
			if err != nil {
				return fmt.Errorf("allocating late alias for %s/%s: %w", device, dm.Name, err)
			}
		}
		wireMetrics = append(wireMetrics, sparkplug.Metric{
			HasAlias: true, Alias: alias, Timestamp: now(), DataType: dm.Value.DataType,
			IsNull: dm.Value.IsNull, Int64Val: dm.Value.Int64Val, DoubleVal: dm.Value.DoubleVal,
			BoolVal: dm.Value.BoolVal, StringVal: dm.Value.StringVal, BytesVal: dm.Value.BytesVal,
		})
	}
	env := sparkplug.Envelope{Timestamp: now(), Seq: uint64(p.nextSeq()), Metrics: wireMetrics}
	return p.publishEnvelope(ctx, p.topics.LifecycleDeviceTopic("DDATA", device), env)
}

// DeviceTimeout publishes DDEATH for device and removes it from the
// active set and birth cache (spec.md §4.4, device goes quiet beyond
// its stale threshold).
func (p *Publisher) DeviceTimeout(ctx context.Context, device string, now func() int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deathForDeviceLocked(ctx, device, now)
}

func (p *Publisher) deathForDeviceLocked(ctx context.Context, device string, now func() int64) error {
	if _, ok := p.active[device]; !ok {
		return nil
	}
	env := sparkplug.Envelope{Timestamp: now(), Seq: uint64(p.nextSeq())}
	if err := p.publishEnvelope(ctx, p.topics.LifecycleDeviceTopic("DDEATH", device), env); err != nil {
		return fmt.Errorf("publishing DDEATH for %s: %w", device, err)
	}
	delete(p.active, device)
	if err := p.births.Delete(p.broker.EdgeNodeID, device); err != nil {
		obslog.LogWarning("deleting birth cache entry failed", "device", device, "error", err)
	}
	return nil
}

// Rebirth handles a rebirth command: a fresh bdSeq, a fresh NBIRTH, then
// a DBIRTH for every currently active device with an identical alias
// map (spec.md §4.4, §8).
func (p *Publisher) Rebirth(ctx context.Context, now func() int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	bdSeq, err := p.allocateBdSeq()
	if err != nil {
		return err
	}
	p.bdSeq = bdSeq
	p.seq = 0

	nbirth := sparkplug.Envelope{
		Timestamp: now(),
		Seq:       uint64(p.nextSeq()),
		Metrics: []sparkplug.Metric{
			sparkplug.BdSeqMetric(bdSeq, now()),
			{Name: "Node Control/Rebirth", Timestamp: now(), DataType: sparkplug.DataTypeBoolean, BoolVal: false},
		},
	}
	if err := p.publishEnvelope(ctx, p.topics.LifecycleNodeTopic("NBIRTH"), nbirth); err != nil {
		return fmt.Errorf("publishing rebirth NBIRTH: %w", err)
	}

	for device := range p.active {
		entry, ok, err := p.births.Get(p.broker.EdgeNodeID, device)
		if err != nil {
			return fmt.Errorf("loading birth cache for %s: %w", device, err)
		}
		if !ok {
			continue
		}
		if err := p.publishDBirthFromCache(ctx, device, entry, now); err != nil {
			return fmt.Errorf("republishing DBIRTH for %s: %w", device, err)
		}
	}
	return nil
}

// Shutdown performs the graceful-shutdown sequence of spec.md §4.4/§5:
// DDEATH for every active device, then NDEATH, then disconnect.
func (p *Publisher) Shutdown(ctx context.Context, now func() int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for device := range p.active {
		if err := p.deathForDeviceLocked(ctx, device, now); err != nil {
			obslog.LogWarning("DDEATH during shutdown failed", "device", device, "error", err)
		}
	}

	ndeath := sparkplug.Envelope{
		Timestamp: now(),
		Seq:       uint64(p.nextSeq()),
		Metrics:   []sparkplug.Metric{sparkplug.BdSeqMetric(p.bdSeq, now())},
	}
	if err := p.publishEnvelope(ctx, p.topics.LifecycleNodeTopic("NDEATH"), ndeath); err != nil {
		obslog.LogWarning("publishing NDEATH during shutdown failed", "error", err)
	}
	return p.client.Disconnect(ctx)
}

func (p *Publisher) publishEnvelope(ctx context.Context, topic string, env sparkplug.Envelope) error {
	data, err := sparkplug.Encode(env)
	if err != nil {
		return fmt.Errorf("encoding envelope for %s: %w", topic, err)
	}
	return p.client.Publish(ctx, topic, data, 0, false)
}

func (p *Publisher) handleNodeCommand(ctx context.Context, now func() int64) broker.Handler {
	return func(msg broker.Message) {
		env, err := sparkplug.Decode(msg.Payload)
		if err != nil {
			obslog.LogWarning("decoding node command failed", "topic", msg.Topic, "error", err)
			return
		}
		for _, m := range env.Metrics {
			if m.Name == "Node Control/Rebirth" && m.BoolVal {
				if err := p.Rebirth(ctx, now); err != nil {
					obslog.LogError(err)
				}
				return
			}
		}
	}
}
