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

// Package address resolves an AAS asset URI into a five-level industrial
// hierarchy address and composes the retained-plane and lifecycle-plane
// topic strings from it, per spec.md §4.2.
package address

import (
	"path"
	"strings"
	"sync"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
)

// AssetAddress is the five-level location path an asset URI maps to.
// Invariant: no segment contains '/', '+', or '#'.
type AssetAddress struct {
	Enterprise string
	Site       string
	Area       string
	Line       string
	Asset      string
}

var unsafeTopicChars = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func sanitize(s string) string {
	return unsafeTopicChars.Replace(s)
}

// Resolver resolves asset URIs to AssetAddresses using, in order: an
// exact-match table, an ordered list of glob patterns, and a default.
// Exactly one source always succeeds (spec.md §4.2), so Resolve never
// errors. Results are memoized per assetURI for the life of the process,
// satisfying the "same AssetAddress across calls" invariant of spec.md §8.
type Resolver struct {
	mapping config.MappingConfig

	mu    sync.RWMutex
	cache map[string]AssetAddress
}

// NewResolver builds a Resolver from the mapping configuration group.
func NewResolver(mapping config.MappingConfig) *Resolver {
	return &Resolver{mapping: mapping, cache: make(map[string]AssetAddress)}
}

// Resolve returns the AssetAddress for assetURI, memoized after first
// resolution.
func (r *Resolver) Resolve(assetURI string) AssetAddress {
	r.mu.RLock()
	if addr, ok := r.cache[assetURI]; ok {
		r.mu.RUnlock()
		return addr
	}
	r.mu.RUnlock()

	addr := r.resolveUncached(assetURI)

	r.mu.Lock()
	r.cache[assetURI] = addr
	r.mu.Unlock()
	return addr
}

func (r *Resolver) resolveUncached(assetURI string) AssetAddress {
	if entry, ok := r.mapping.Assets[assetURI]; ok {
		return r.fillDefaults(assetURI, entry.Enterprise, entry.Site, entry.Area, entry.Line, entry.Asset)
	}

	for _, pattern := range r.mapping.Patterns {
		if matched, _ := path.Match(pattern.Pattern, assetURI); matched {
			return r.fillDefaults(assetURI, pattern.Enterprise, pattern.Site, pattern.Area, pattern.Line, pattern.Asset)
		}
	}

	return r.fillDefaults(assetURI, "", "", "", "", "")
}

func (r *Resolver) fillDefaults(assetURI, enterprise, site, area, line, asset string) AssetAddress {
	if enterprise == "" {
		enterprise = orDefault(r.mapping.Enterprise, "Ent")
	}
	if site == "" {
		site = orDefault(r.mapping.Site, "Site")
	}
	if area == "" {
		area = orDefault(r.mapping.Area, "Area")
	}
	if line == "" {
		line = orDefault(r.mapping.Line, "Line")
	}
	if asset == "" {
		asset = defaultAssetSegment(assetURI)
	}
	return AssetAddress{
		Enterprise: sanitize(enterprise),
		Site:       sanitize(site),
		Area:       sanitize(area),
		Line:       sanitize(line),
		Asset:      sanitize(asset),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// defaultAssetSegment derives the asset segment from the last path
// segment of assetURI, with unsafe topic characters replaced by "_".
func defaultAssetSegment(assetURI string) string {
	trimmed := strings.TrimRight(assetURI, "/")
	idx := strings.LastIndexAny(trimmed, "/:")
	seg := trimmed
	if idx >= 0 {
		seg = trimmed[idx+1:]
	}
	if seg == "" {
		seg = "unknown"
	}
	return sanitize(seg)
}

// TopicBuilder composes the two wire topic planes from an AssetAddress
// and a LeafRecord's path, per spec.md §4.2.
type TopicBuilder struct {
	RetainedPrefix string
	GroupID        string
	EdgeNodeID     string

	// SysRoot is the fixed root segment of every UNS/Sys/... system topic
	// (context dictionary, drift/anomaly alerts, lifecycle events). It is
	// independent of RetainedPrefix, which only prefixes per-leaf
	// retained topics and is empty by default. SysRoot defaults to the
	// configured broker group id ("UNS") at wiring time.
	SysRoot string
}

// escapeSegment replaces '/', '+', '#' with '_' while leaving the raw
// LeafRecord.Path untouched (spec.md §3 invariant: escaped only when
// composing topics).
func escapeSegment(s string) string {
	return unsafeTopicChars.Replace(s)
}

// RetainedTopic composes
// {prefix}{enterprise}/{site}/{area}/{line}/{asset}/context/{submodelIdShort}/{path...}
func (b TopicBuilder) RetainedTopic(addr AssetAddress, submodelIDShort string, p leaf.Path) string {
	segs := []string{addr.Enterprise, addr.Site, addr.Area, addr.Line, addr.Asset, "context", escapeSegment(submodelIDShort)}
	for _, s := range p {
		segs = append(segs, escapeSegment(s))
	}
	topic := strings.Join(segs, "/")
	if b.RetainedPrefix != "" {
		topic = strings.TrimSuffix(b.RetainedPrefix, "/") + "/" + topic
	}
	return topic
}

// CommandTopic is the RetainedTopic with "/cmd" appended, the subscribe
// target for the bidirectional sync path (spec.md §4.6.6).
func (b TopicBuilder) CommandTopic(addr AssetAddress, submodelIDShort string, p leaf.Path) string {
	return b.RetainedTopic(addr, submodelIDShort, p) + "/cmd"
}

// SysTopic composes {sysRoot}/Sys/{category}/{id}, the fixed topic family
// for drift/anomaly alerts (category "DriftAlerts") and lifecycle events
// (category "Lifecycle"), spec.md §4.6.3/§4.6.4/§4.6.5/§6.
func (b TopicBuilder) SysTopic(category, id string) string {
	return strings.TrimSuffix(b.SysRoot, "/") + "/Sys/" + category + "/" + id
}

// ContextTopic composes {sysRoot}/Sys/Context/{dictionary}/{hash}, the
// pointer-mode context dictionary publish target (spec.md §4.3/§6).
func (b TopicBuilder) ContextTopic(dictionary, hash string) string {
	return strings.TrimSuffix(b.SysRoot, "/") + "/Sys/Context/" + dictionary + "/" + hash
}

// LifecycleNodeTopic composes spBv1.0/{groupId}/{msgType}/{edgeNodeId}.
func (b TopicBuilder) LifecycleNodeTopic(msgType string) string {
	return "spBv1.0/" + b.GroupID + "/" + msgType + "/" + b.EdgeNodeID
}

// LifecycleDeviceTopic composes
// spBv1.0/{groupId}/{msgType}/{edgeNodeId}/{deviceId}. deviceId defaults
// to addr.Asset when the caller does not need to override it.
func (b TopicBuilder) LifecycleDeviceTopic(msgType, deviceID string) string {
	return b.LifecycleNodeTopic(msgType) + "/" + deviceID
}
