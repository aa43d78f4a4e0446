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

// Package retained implements the retained-state publish plane of
// spec.md §4.3: one MQTT topic per leaf, retained, published only when
// its content hash changes, with inline, pointer, or hybrid payload
// composition.
package retained

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/address"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/broker"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/jsonutil"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/obslog"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/persistence"
)

// wirePayload is the wire shape of a retained-plane message (spec.md
// §6). ContextDigest is only populated in pointer/hybrid mode.
type wirePayload struct {
	Value         any    `json:"value"`
	ValueType     string `json:"valueType,omitempty"`
	Kind          string `json:"kind"`
	SemanticID    string `json:"semanticId,omitempty"`
	Unit          string `json:"unit,omitempty"`
	SourceTime    int64  `json:"sourceTimestampMs"`
	Origin        string `json:"originUri,omitempty"`
	ContextDigest string `json:"contextDigest,omitempty"`
}

// dictionaryContext is the dereferenced side-table body a pointer-mode
// payload's ContextDigest refers to: everything a consumer needs besides
// the value itself.
type dictionaryContext struct {
	ValueType  string `json:"valueType,omitempty"`
	Kind       string `json:"kind"`
	SemanticID string `json:"semanticId,omitempty"`
	Unit       string `json:"unit,omitempty"`
	Origin     string `json:"originUri,omitempty"`
}

// Publisher composes and publishes retained-plane messages, deduping by
// content hash so unchanged leaves never republish (spec.md §4.3).
type Publisher struct {
	cfg      config.RetainedConfig
	client   broker.Client
	topics   address.TopicBuilder
	hashes   *persistence.HashTable
	contexts *persistence.ContextTable
}

// New builds a Publisher. hashes and contexts are persistence tables
// scoped to this plane.
func New(cfg config.RetainedConfig, client broker.Client, topics address.TopicBuilder, hashes *persistence.HashTable, contexts *persistence.ContextTable) *Publisher {
	return &Publisher{cfg: cfg, client: client, topics: topics, hashes: hashes, contexts: contexts}
}

// Publish composes the retained message for rec and sends it if its
// content hash differs from the last publish to the same topic. now is
// injected for deterministic tests.
func (p *Publisher) Publish(ctx context.Context, addr address.AssetAddress, rec leaf.LeafRecord, now func() int64) error {
	topic := p.topics.RetainedTopic(addr, rec.SubmodelIDShort, rec.Path)

	body, ctxEntry, err := p.compose(rec)
	if err != nil {
		return fmt.Errorf("composing payload for %s: %w", topic, err)
	}

	hash := xxhash.Sum64(body)
	if prev, ok, err := p.hashes.Get(topic); err == nil && ok && prev.Hash == hash {
		return nil
	}

	if ctxEntry != nil {
		if err := p.publishContext(ctx, ctxEntry); err != nil {
			return err
		}
	}

	if err := p.client.Publish(ctx, topic, body, p.cfg.QoS, true); err != nil {
		obslog.LogWarning("retained publish failed", "topic", topic, "error", err)
		return err
	}
	if err := p.hashes.Put(topic, persistence.HashEntry{Topic: topic, Hash: hash, PublishedAt: now()}); err != nil {
		obslog.LogWarning("recording retained publish hash failed", "topic", topic, "error", err)
	}
	return nil
}

// compose builds the wire payload according to the configured pointer
// mode. In pointer mode, ctxEntry is the dictionary entry to publish to
// the context topic before the value payload; in inline mode it is nil.
func (p *Publisher) compose(rec leaf.LeafRecord) (body []byte, ctxEntry *persistence.ContextEntry, err error) {
	pl := wirePayload{
		Value:      rec.Value.AsJSON(),
		Kind:       string(rec.Kind),
		SourceTime: rec.SourceTimestamp,
	}
	if p.cfg.Enriched {
		pl.Origin = rec.OriginURI
	}

	switch p.cfg.PointerMode {
	case config.PointerModeInline:
		pl.ValueType = rec.ValueType
		pl.SemanticID = rec.SemanticID
		pl.Unit = rec.Unit

	case config.PointerModePtr, config.PointerModeHybrid:
		ctxBody := dictionaryContext{ValueType: rec.ValueType, Kind: string(rec.Kind), SemanticID: rec.SemanticID, Unit: rec.Unit}
		if p.cfg.Enriched {
			ctxBody.Origin = rec.OriginURI
		}
		ctxJSON, merr := jsonutil.Marshal(ctxBody)
		if merr != nil {
			return nil, nil, merr
		}
		digest := fmt.Sprintf("%016x", xxhash.Sum64(ctxJSON))
		pl.ContextDigest = digest
		if p.cfg.PointerMode == config.PointerModeHybrid {
			pl.ValueType = rec.ValueType
			pl.SemanticID = rec.SemanticID
		}
		entry := persistence.ContextEntry{Digest: digest, Body: ctxJSON, CreatedAt: rec.SourceTimestamp}
		ctxEntry = &entry
	}

	data, err := jsonutil.Marshal(pl)
	if err != nil {
		return nil, nil, err
	}
	return data, ctxEntry, nil
}

func (p *Publisher) publishContext(ctx context.Context, entry *persistence.ContextEntry) error {
	if _, ok, err := p.contexts.Get(entry.Digest); err == nil && ok {
		return nil
	}
	if err := p.contexts.Put(*entry); err != nil {
		return fmt.Errorf("storing context dictionary entry %s: %w", entry.Digest, err)
	}
	topic := p.topics.ContextTopic(p.cfg.Dictionary, entry.Digest)
	return p.client.Publish(ctx, topic, entry.Body, p.cfg.QoS, true)
}

// ClearTopic publishes an empty retained message to topic, the MQTT
// idiom for deleting a retained value; used when clearRetainedOnOffline
// is enabled (spec.md §4.6.6).
func (p *Publisher) ClearTopic(ctx context.Context, addr address.AssetAddress, submodelIDShort string, path leaf.Path) error {
	topic := p.topics.RetainedTopic(addr, submodelIDShort, path)
	return p.client.Publish(ctx, topic, nil, p.cfg.QoS, true)
}
