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
	"strings"
	"sync"
	"time"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/address"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/jsonutil"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/obslog"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/persistence"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/retained"
)

const (
	stateOnline  = "online"
	stateStale   = "stale"
	stateOffline = "offline"
)

// LifecycleEvent is published to UNS/Sys/Lifecycle/{assetId} on every
// state transition (spec.md §4.6.5, §6).
type LifecycleEvent struct {
	State                string `json:"state"`
	PreviousState        string `json:"previous_state"`
	AssetID              string `json:"asset_id"`
	Timestamp            int64  `json:"timestamp"`
	StaleDurationSeconds int64  `json:"stale_duration_seconds"`
}

// knownLeaf remembers one retained topic coordinate so it can be
// cleared when the owning asset transitions to Offline.
type knownLeaf struct {
	submodelIDShort string
	path            leaf.Path
}

// Tracker maintains the Online/Stale/Offline state machine of spec.md
// §4.6.5, one row per asset, swept by a periodic timer external to this
// type (see Sweep).
type Tracker struct {
	mu     sync.Mutex
	states *persistence.LifecycleStateTable
	leaves map[string][]knownLeaf

	staleThreshold   time.Duration
	clearOnOffline   bool
	eventTopicPrefix string

	publisher eventPublisher
	retained  *retained.Publisher
	resolver  *address.Resolver
}

// eventPublisher is the minimal broker surface Tracker needs, satisfied
// by broker.Client.
type eventPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
}

// NewTracker builds a Tracker. eventTopicPrefix is typically the
// configured UNS root, e.g. "UNS".
func NewTracker(states *persistence.LifecycleStateTable, staleThreshold time.Duration, clearOnOffline bool, eventTopicPrefix string, publisher eventPublisher, retainedPub *retained.Publisher, resolver *address.Resolver) *Tracker {
	return &Tracker{
		states:           states,
		leaves:           make(map[string][]knownLeaf),
		staleThreshold:   staleThreshold,
		clearOnOffline:   clearOnOffline,
		eventTopicPrefix: strings.TrimSuffix(eventTopicPrefix, "/"),
		publisher:        publisher,
		retained:         retainedPub,
		resolver:         resolver,
	}
}

// Touch records a fresh publish for rec's asset, marking it Online
// (transitioning it back from Stale/Offline if needed) and remembering
// its retained-topic coordinate for a future Offline clear.
func (tr *Tracker) Touch(ctx context.Context, assetURI string, rec leaf.LeafRecord, now int64) error {
	tr.mu.Lock()
	tr.leaves[assetURI] = appendIfAbsent(tr.leaves[assetURI], knownLeaf{submodelIDShort: rec.SubmodelIDShort, path: rec.Path})
	tr.mu.Unlock()

	prev, ok, err := tr.states.Get(assetURI)
	if err != nil {
		return err
	}

	next := persistence.AssetLifecycleState{AssetURI: assetURI, State: stateOnline, LastUpdateAt: now, TransitionedAt: now}
	if ok && prev.State == stateOnline {
		next.TransitionedAt = prev.TransitionedAt
	}
	if err := tr.states.Put(assetURI, next); err != nil {
		return err
	}

	if ok && prev.State != stateOnline {
		return tr.publishEvent(ctx, assetURI, prev.State, stateOnline, now)
	}
	return nil
}

func appendIfAbsent(leaves []knownLeaf, kl knownLeaf) []knownLeaf {
	for _, existing := range leaves {
		if existing.submodelIDShort == kl.submodelIDShort && existing.path.String() == kl.path.String() {
			return leaves
		}
	}
	return append(leaves, kl)
}

// Sweep scans every tracked asset and applies the Online->Stale->Offline
// transitions of spec.md §4.6.5, publishing a lifecycle event per
// transition and, on Offline with clearOnOffline set, clearing every
// known retained topic for the asset.
func (tr *Tracker) Sweep(ctx context.Context, now int64) error {
	type transition struct {
		assetURI string
		from, to string
	}
	var transitions []transition

	err := tr.states.ForEach(func(assetURI string, state persistence.AssetLifecycleState) error {
		elapsed := now - state.LastUpdateAt
		next := state.State
		switch {
		case state.State != stateOffline && elapsed > 3*tr.staleThreshold.Milliseconds():
			next = stateOffline
		case state.State == stateOnline && elapsed > tr.staleThreshold.Milliseconds():
			next = stateStale
		}
		if next == state.State {
			return nil
		}
		updated := persistence.AssetLifecycleState{AssetURI: assetURI, State: next, LastUpdateAt: state.LastUpdateAt, TransitionedAt: now}
		if err := tr.states.Put(assetURI, updated); err != nil {
			return err
		}
		transitions = append(transitions, transition{assetURI: assetURI, from: state.State, to: next})
		return nil
	})
	if err != nil {
		return err
	}

	for _, t := range transitions {
		if err := tr.publishEvent(ctx, t.assetURI, t.from, t.to, now); err != nil {
			obslog.LogWarning("lifecycle event publish failed", "assetUri", t.assetURI, "error", err)
		}
		if t.to == stateOffline && tr.clearOnOffline {
			tr.clearRetainedFor(ctx, t.assetURI)
		}
	}
	return nil
}

func (tr *Tracker) clearRetainedFor(ctx context.Context, assetURI string) {
	if tr.retained == nil || tr.resolver == nil {
		return
	}
	tr.mu.Lock()
	leaves := append([]knownLeaf(nil), tr.leaves[assetURI]...)
	tr.mu.Unlock()

	addr := tr.resolver.Resolve(assetURI)
	for _, kl := range leaves {
		if err := tr.retained.ClearTopic(ctx, addr, kl.submodelIDShort, kl.path); err != nil {
			obslog.LogWarning("clearing retained topic on offline transition failed", "assetUri", assetURI, "path", kl.path.String(), "error", err)
		}
	}
}

func (tr *Tracker) publishEvent(ctx context.Context, assetURI, from, to string, now int64) error {
	staleSeconds := int64(0)
	if to == stateOffline || to == stateStale {
		staleSeconds = tr.staleThreshold.Milliseconds() / 1000
	}
	evt := LifecycleEvent{State: to, PreviousState: from, AssetID: assetURI, Timestamp: now, StaleDurationSeconds: staleSeconds}
	body, err := jsonutil.Marshal(evt)
	if err != nil {
		return err
	}
	topic := tr.eventTopicPrefix + "/Sys/Lifecycle/" + assetURI
	return tr.publisher.Publish(ctx, topic, body, 1, false)
}
