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
	"path"
	"strings"
	"sync"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/broker"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/jsonutil"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/leaf"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/obslog"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/repository"
)

// Registration ties a command-capable retained topic back to the AAS
// coordinate it was derived from (spec.md §4.6.6 step 1).
type Registration struct {
	AssetURI        string
	SubmodelID      string
	SubmodelIDShort string
	Path            leaf.Path
	Kind            leaf.Kind
	SemanticID      string
	Unit            string
}

// command is the inbound payload on a "/cmd" topic.
type command struct {
	Value         any    `json:"value"`
	Timestamp     int64  `json:"timestamp"`
	CorrelationID string `json:"correlation_id"`
}

// ack is the outbound acknowledgment, published to the value topic with
// "/cmd" removed.
type ack struct {
	Ack           bool   `json:"ack"`
	Error         string `json:"error,omitempty"`
	CorrelationID string `json:"correlation_id"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

// CommandSync implements spec.md §4.6.6: it subscribes to every
// command topic for a known registration, validates and filters writes,
// issues them to the AAS repository, and replies with an ack/nack.
// Commands for the same value topic are serialized in arrival order;
// commands for distinct topics proceed concurrently.
type CommandSync struct {
	client   broker.Client
	writer   repository.Writer
	validate func(leaf.LeafRecord) Result

	allowed  []string
	denied   []string
	preWrite bool

	mu           sync.Mutex
	registry     map[string]Registration
	pathLocks    map[string]*sync.Mutex
}

// NewCommandSync builds a CommandSync. validate is typically
// (*Validator).Validate; pass nil to skip pre-write validation
// regardless of preWrite.
func NewCommandSync(client broker.Client, writer repository.Writer, validate func(leaf.LeafRecord) Result, allowed, denied []string, preWrite bool) *CommandSync {
	return &CommandSync{
		client:    client,
		writer:    writer,
		validate:  validate,
		allowed:   allowed,
		denied:    denied,
		preWrite:  preWrite,
		registry:  make(map[string]Registration),
		pathLocks: make(map[string]*sync.Mutex),
	}
}

// Register records the (assetUri, submodelId, path) coordinate behind
// valueTopic so an inbound command on valueTopic+"/cmd" can be mapped
// back and written through. Called once per leaf as it is first
// published.
func (c *CommandSync) Register(valueTopic string, reg Registration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry[valueTopic] = reg
}

// Subscribe subscribes to the command topic filter and begins handling
// inbound writes.
func (c *CommandSync) Subscribe(ctx context.Context, commandTopicFilter string, qos byte) error {
	return c.client.Subscribe(ctx, commandTopicFilter, qos, func(msg broker.Message) {
		c.handle(ctx, msg)
	})
}

func (c *CommandSync) handle(ctx context.Context, msg broker.Message) {
	valueTopic := strings.TrimSuffix(msg.Topic, "/cmd")
	if valueTopic == msg.Topic {
		return
	}

	lock := c.lockFor(valueTopic)
	lock.Lock()
	defer lock.Unlock()

	var cmd command
	if err := jsonutil.Unmarshal(msg.Payload, &cmd); err != nil {
		obslog.LogWarning("malformed command payload", "topic", msg.Topic, "error", err)
		return
	}

	c.mu.Lock()
	reg, ok := c.registry[valueTopic]
	c.mu.Unlock()
	if !ok {
		obslog.LogWarning("command for unregistered topic", "topic", msg.Topic)
		return
	}

	relPath := reg.Path.String()

	if matchesAny(c.denied, relPath) {
		c.nack(ctx, valueTopic, "denied", cmd.CorrelationID)
		return
	}
	if !matchesAny(c.allowed, relPath) {
		c.nack(ctx, valueTopic, "denied", cmd.CorrelationID)
		return
	}

	if c.preWrite && c.validate != nil {
		rec := leaf.LeafRecord{
			AssetURI: reg.AssetURI, SubmodelID: reg.SubmodelID, SubmodelIDShort: reg.SubmodelIDShort,
			Path: reg.Path, Kind: reg.Kind, SemanticID: reg.SemanticID, Unit: reg.Unit,
			Value: valueToLeafValue(cmd.Value),
		}
		if res := c.validate(rec); res.Outcome == OutcomeReject {
			c.nack(ctx, valueTopic, "invalid", cmd.CorrelationID)
			return
		}
	}

	if err := c.writer.WriteValue(ctx, reg.SubmodelID, reg.Path, cmd.Value); err != nil {
		obslog.LogWarning("command write-back failed", "topic", msg.Topic, "error", err)
		c.nack(ctx, valueTopic, "write_failed", cmd.CorrelationID)
		return
	}

	c.publishAck(ctx, valueTopic, ack{Ack: true, CorrelationID: cmd.CorrelationID, Timestamp: cmd.Timestamp})
}

func (c *CommandSync) lockFor(valueTopic string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.pathLocks[valueTopic]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.pathLocks[valueTopic] = l
	return l
}

func (c *CommandSync) nack(ctx context.Context, valueTopic, reason, correlationID string) {
	c.publishAck(ctx, valueTopic, ack{Ack: false, Error: reason, CorrelationID: correlationID})
}

func (c *CommandSync) publishAck(ctx context.Context, valueTopic string, a ack) {
	body, err := jsonutil.Marshal(a)
	if err != nil {
		obslog.LogWarning("marshaling ack failed", "topic", valueTopic, "error", err)
		return
	}
	if err := c.client.Publish(ctx, valueTopic, body, 1, false); err != nil {
		obslog.LogWarning("publishing ack failed", "topic", valueTopic, "error", err)
	}
}

// matchesAny reports whether relPath matches any pattern, in order. An
// empty pattern list never matches.
func matchesAny(patterns []string, relPath string) bool {
	for _, p := range patterns {
		if matched, _ := path.Match(p, relPath); matched {
			return true
		}
	}
	return false
}

// valueToLeafValue wraps a decoded JSON command value in a leaf.Value
// for re-validation. JSON numbers decode as float64.
func valueToLeafValue(v any) leaf.Value {
	switch val := v.(type) {
	case nil:
		return leaf.NullValue()
	case bool:
		return leaf.BoolValue(val)
	case float64:
		return leaf.FloatValue(val)
	case string:
		return leaf.TextValue(val)
	default:
		return leaf.NullValue()
	}
}
