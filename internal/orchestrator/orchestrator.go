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

// Package orchestrator wires ingestion, addressing, the two publish
// planes, and the semantic hypervisor into the scheduling model of
// spec.md §5: one ingress-fed pipeline bounded by configured
// parallelism, a single broker I/O discipline, a 1-second lifecycle
// sweep, and a bounded-deadline shutdown sequence.
package orchestrator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/address"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/bridgeerr"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/broker"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/hypervisor"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/jsonutil"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/lifecycle"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/model"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/obslog"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/retained"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/sparkplug"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/traversal"
)

const (
	defaultParallelism    = 8
	defaultSweepInterval  = time.Second
	defaultShutdownDeadline = 30 * time.Second
	eventQueueDepth       = 256
)

// AASEvent is one ingested AAS object, submitted by a file-watcher or
// repository-poller ingress adapter (spec.md §4.1). Origin resolves the
// OriginURI recorded on every leaf; it is evaluated lazily so a hot path
// that never logs it never pays for string formatting.
type AASEvent struct {
	Shell  model.AssetAdministrationShell
	Origin func() string
}

// Orchestrator owns the single broker.Client session and drives every
// AASEvent through traversal, validation, the two publish planes, and
// the hypervisor's streaming analyses.
type Orchestrator struct {
	client       broker.Client
	resolver     *address.Resolver
	topics       address.TopicBuilder
	retainedPub  *retained.Publisher
	lifecyclePub *lifecycle.Publisher

	validator *hypervisor.Validator
	drift     *hypervisor.DriftDetector
	anomaly   *hypervisor.AnomalyDetector
	tracker   *hypervisor.Tracker
	fidelity  *hypervisor.FidelityScorer
	cmdSync   *hypervisor.CommandSync

	now func() int64

	parallelism      int64
	sweepInterval    time.Duration
	shutdownDeadline time.Duration
	commandTopicFilter string
	commandQoS       byte

	events chan AASEvent
}

// Deps bundles every component the orchestrator wires together. All
// component fields are required. Zero-valued scheduling fields
// (Parallelism, SweepInterval, ShutdownDeadline) take their defaults, Now
// defaults to the wall clock, and CommandTopicFilter defaults to
// "+/+/+/+/+/context/#" (every topic under a leaf's context subtree).
type Deps struct {
	Client       broker.Client
	Resolver     *address.Resolver
	Topics       address.TopicBuilder
	RetainedPub  *retained.Publisher
	LifecyclePub *lifecycle.Publisher
	Validator    *hypervisor.Validator
	Drift        *hypervisor.DriftDetector
	Anomaly      *hypervisor.AnomalyDetector
	Tracker      *hypervisor.Tracker
	Fidelity     *hypervisor.FidelityScorer
	CommandSync  *hypervisor.CommandSync
	Now          func() int64

	Parallelism        int
	SweepInterval       time.Duration
	ShutdownDeadline    time.Duration
	CommandTopicFilter  string
	CommandQoS          byte
}

// New builds an Orchestrator from Deps, filling in the defaults of
// spec.md §5 for any zero-valued scheduling parameter.
func New(d Deps) *Orchestrator {
	parallelism := d.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	sweep := d.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	deadline := d.ShutdownDeadline
	if deadline <= 0 {
		deadline = defaultShutdownDeadline
	}
	commandFilter := d.CommandTopicFilter
	if commandFilter == "" {
		commandFilter = "+/+/+/+/+/context/#"
	}
	now := d.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}

	return &Orchestrator{
		client:             d.Client,
		resolver:           d.Resolver,
		topics:             d.Topics,
		retainedPub:        d.RetainedPub,
		lifecyclePub:       d.LifecyclePub,
		validator:          d.Validator,
		drift:              d.Drift,
		anomaly:            d.Anomaly,
		tracker:            d.Tracker,
		fidelity:           d.Fidelity,
		cmdSync:            d.CommandSync,
		now:                now,
		parallelism:        int64(parallelism),
		sweepInterval:      sweep,
		shutdownDeadline:   deadline,
		commandTopicFilter: commandFilter,
		commandQoS:         d.CommandQoS,
		events:             make(chan AASEvent, eventQueueDepth),
	}
}

// Ready reports whether the daemon can serve readiness probes: the
// broker session is live. Satisfies healthsrv.Checker.
func (o *Orchestrator) Ready() bool {
	return o.client.Connected()
}

// Submit enqueues an ingested AAS object for processing. It blocks if
// the event queue is full, applying the ingress-side backpressure
// spec.md §5 requires rather than dropping events.
func (o *Orchestrator) Submit(ctx context.Context, evt AASEvent) error {
	select {
	case o.events <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the pipeline until ctx is cancelled, then performs the
// bounded-deadline shutdown sequence of spec.md §4.4/§5. It returns
// once every in-flight event has drained and the broker session has
// been torn down cleanly, or the shutdown deadline has elapsed.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.lifecyclePub.Connect(ctx, o.now); err != nil {
		return bridgeerr.NewBrokerFatalError("orchestrator.connect", "", err)
	}

	if err := o.cmdSync.Subscribe(ctx, o.commandTopicFilter, o.commandQoS); err != nil {
		return bridgeerr.NewBrokerFatalError("orchestrator.subscribe_commands", o.commandTopicFilter, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(o.parallelism)

	g.Go(func() error { return o.runSweeper(gctx) })
	g.Go(func() error { return o.runIngestLoop(gctx, sem) })

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), o.shutdownDeadline)
	defer cancel()
	if shutErr := o.lifecyclePub.Shutdown(shutdownCtx, o.now); shutErr != nil {
		obslog.LogWarning("lifecycle shutdown sequence failed", "error", shutErr)
	}

	return err
}

// runIngestLoop pulls events off the queue and fans each out to its own
// goroutine, bounded by sem so at most the configured parallelism of
// pipeline workers runs concurrently (spec.md §5).
func (o *Orchestrator) runIngestLoop(ctx context.Context, sem *semaphore.Weighted) error {
	g, gctx := errgroup.WithContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case evt, ok := <-o.events:
			if !ok {
				return g.Wait()
			}
			if err := sem.Acquire(gctx, 1); err != nil {
				return g.Wait()
			}
			g.Go(func() error {
				defer sem.Release(1)
				if err := o.processEvent(gctx, evt); err != nil {
					obslog.LogError(err)
				}
				return nil
			})
		}
	}
}

// runSweeper drives hypervisor.Tracker.Sweep on a fixed tick, the
// lifecycle-tracking half of spec.md §4.6.5 that depends on wall-clock
// progress rather than ingested events.
func (o *Orchestrator) runSweeper(ctx context.Context) error {
	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.tracker.Sweep(ctx, o.now()); err != nil {
				obslog.LogError(bridgeerr.NewPersistenceError("orchestrator.sweep", "", err))
			}
		}
	}
}

// processEvent flattens one AAS object and drives every leaf through
// validation, the retained and lifecycle publish planes, and the
// hypervisor's per-snapshot analyses (drift, fidelity) and per-value
// analysis (anomaly), in the order spec.md §4.6 prescribes.
func (o *Orchestrator) processEvent(ctx context.Context, evt AASEvent) error {
	res := traversal.Traverse(evt.Shell, evt.Origin, o.now)
	for _, terr := range res.Errors {
		obslog.LogError(bridgeerr.NewIngressError("traversal", terr.Path.String(), terr.Err))
	}
	if len(res.Records) == 0 {
		return nil
	}

	addr := o.resolver.Resolve(evt.Shell.AssetURI)
	now := o.now()

	submodelOrder, bySubmodel := groupBySubmodel(res.Records)

	var published []leaf.LeafRecord
	var deviceMetrics []lifecycle.DeviceMetric

	for _, submodelID := range submodelOrder {
		records := bySubmodel[submodelID]

		for _, rec := range records {
			result := o.validator.Validate(rec)
			if result.Outcome == hypervisor.OutcomeReject {
				obslog.LogWarning("rejected leaf failed semantic validation", "assetUri", rec.AssetURI, "path", rec.Path.String(), "reason", result.Reason)
				continue
			}
			if result.Outcome == hypervisor.OutcomeWarn {
				obslog.LogWarning("leaf passed validation with a warning", "assetUri", rec.AssetURI, "path", rec.Path.String(), "reason", result.Reason)
			}

			if err := o.retainedPub.Publish(ctx, addr, rec, o.now); err != nil {
				obslog.LogError(bridgeerr.NewBrokerTransientError("retained.publish", rec.Path.String(), err))
				continue
			}

			valueTopic := o.topics.RetainedTopic(addr, rec.SubmodelIDShort, rec.Path)
			o.cmdSync.Register(valueTopic, hypervisor.Registration{
				AssetURI:        rec.AssetURI,
				SubmodelID:      rec.SubmodelID,
				SubmodelIDShort: rec.SubmodelIDShort,
				Path:            rec.Path.Clone(),
				Kind:            rec.Kind,
				SemanticID:      rec.SemanticID,
				Unit:            rec.Unit,
			})

			if err := o.tracker.Touch(ctx, rec.AssetURI, rec, now); err != nil {
				obslog.LogError(bridgeerr.NewPersistenceError("tracker.touch", rec.AssetURI, err))
			}

			published = append(published, rec)
			deviceMetrics = append(deviceMetrics, toDeviceMetric(rec))

			if value, ok := numericLeafValue(rec); ok {
				if alert := o.anomaly.Observe(rec.AssetURI, rec.Path.String(), value, now); alert != nil {
					o.publishSystemAlert(ctx, addr, "DriftAlerts", rec.AssetURI, alert)
				}
			}
		}

		alerts, err := o.drift.Snapshot(evt.Shell.AssetURI, submodelID, records, now)
		if err != nil {
			obslog.LogError(bridgeerr.NewPersistenceError("drift.snapshot", submodelID, err))
		}
		for i := range alerts {
			o.publishSystemAlert(ctx, addr, "DriftAlerts", evt.Shell.AssetURI, &alerts[i])
		}
	}

	if len(deviceMetrics) > 0 {
		if err := o.lifecyclePub.PublishDeviceData(ctx, addr.Asset, deviceMetrics, o.now); err != nil {
			obslog.LogError(bridgeerr.NewBrokerTransientError("lifecycle.publish_device_data", addr.Asset, err))
		}
	}

	_, fidelityAlert, err := o.fidelity.Score(evt.Shell.AssetURI, res.Records, published, now)
	if err != nil {
		obslog.LogError(bridgeerr.NewPersistenceError("fidelity.score", evt.Shell.AssetURI, err))
	}
	if fidelityAlert != nil {
		o.publishSystemAlert(ctx, addr, "Fidelity", evt.Shell.AssetURI, fidelityAlert)
	}

	return nil
}

// publishSystemAlert publishes an unretained hypervisor alert to
// {sysRoot}/Sys/{category}/{assetId}, the fixed system-topic family of
// spec.md §6.
func (o *Orchestrator) publishSystemAlert(ctx context.Context, addr address.AssetAddress, category, assetID string, alert any) {
	body, err := jsonutil.Marshal(alert)
	if err != nil {
		obslog.LogWarning("encoding hypervisor alert failed", "category", category, "assetId", assetID, "error", err)
		return
	}
	topic := o.topics.SysTopic(category, assetID)
	if err := o.client.Publish(ctx, topic, body, 1, false); err != nil {
		obslog.LogWarning("publishing hypervisor alert failed", "topic", topic, "error", err)
	}
}

// groupBySubmodel buckets records by SubmodelID, preserving the order
// submodels were first encountered so drift snapshots run in a stable,
// reproducible sequence (spec.md §8).
func groupBySubmodel(records []leaf.LeafRecord) ([]string, map[string][]leaf.LeafRecord) {
	order := make([]string, 0, 4)
	grouped := make(map[string][]leaf.LeafRecord, 4)
	for _, rec := range records {
		if _, ok := grouped[rec.SubmodelID]; !ok {
			order = append(order, rec.SubmodelID)
		}
		grouped[rec.SubmodelID] = append(grouped[rec.SubmodelID], rec)
	}
	return order, grouped
}

// numericLeafValue extracts a float64 for anomaly scoring from the
// value kinds that carry a meaningful magnitude.
func numericLeafValue(rec leaf.LeafRecord) (float64, bool) {
	switch rec.Value.Kind {
	case leaf.ValueInt:
		return float64(rec.Value.Int), true
	case leaf.ValueFloat:
		return rec.Value.Float, true
	default:
		return 0, false
	}
}

// toDeviceMetric maps a LeafRecord onto the lifecycle plane's wire
// metric shape, named "{submodelIdShort}/{dotted path}" so Sparkplug
// consumers see a flat device metric name per leaf.
func toDeviceMetric(rec leaf.LeafRecord) lifecycle.DeviceMetric {
	name := rec.SubmodelIDShort + "/" + rec.Path.String()
	v := rec.Value
	mv := lifecycle.MetricValue{IsNull: v.IsNull()}
	switch v.Kind {
	case leaf.ValueBool:
		mv.DataType = sparkplug.DataTypeBoolean
		mv.BoolVal = v.Bool
	case leaf.ValueInt:
		mv.DataType = sparkplug.DataTypeInt64
		mv.Int64Val = v.Int
	case leaf.ValueFloat:
		mv.DataType = sparkplug.DataTypeDouble
		mv.DoubleVal = v.Float
	case leaf.ValueBytes:
		mv.DataType = sparkplug.DataTypeBytes
		mv.BytesVal = v.Bytes
	default:
		mv.DataType = sparkplug.DataTypeString
		mv.StringVal = v.Text
	}
	return lifecycle.DeviceMetric{Name: name, Value: mv}
}
