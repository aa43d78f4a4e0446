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

// Package brokertest provides an in-memory broker.Client fake for unit
// tests that exercise the publish pipeline and bidirectional sync path
// without a live MQTT broker.
package brokertest

import (
	"context"
	"sync"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/broker"
)

// PublishedMessage records one call to Publish.
type PublishedMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Fake is an in-process broker.Client. Publish records every message;
// Deliver lets a test simulate an inbound message on a subscribed topic
// filter.
type Fake struct {
	mu          sync.Mutex
	connected   bool
	will        *broker.Will
	published   []PublishedMessage
	subscribers map[string]broker.Handler
}

// New returns a disconnected Fake.
func New() *Fake {
	return &Fake{subscribers: make(map[string]broker.Handler)}
}

func (f *Fake) Connect(_ context.Context, will *broker.Will) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.will = will
	return nil
}

func (f *Fake) Publish(_ context.Context, topic string, payload []byte, qos byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, PublishedMessage{Topic: topic, Payload: append([]byte(nil), payload...), QoS: qos, Retain: retain})
	return nil
}

func (f *Fake) Subscribe(_ context.Context, topicFilter string, _ byte, handler broker.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[topicFilter] = handler
	return nil
}

func (f *Fake) Unsubscribe(_ context.Context, topicFilter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribers, topicFilter)
	return nil
}

func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Disconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

// Published returns a snapshot of every message published so far.
func (f *Fake) Published() []PublishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PublishedMessage(nil), f.published...)
}

// Will returns the last will registered at Connect, if any.
func (f *Fake) Will() *broker.Will {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.will
}

// Deliver invokes the handler registered for topicFilter, simulating an
// inbound message. It matches only exact registrations (tests register
// the concrete topic filters they expect, same as production
// subscriptions).
func (f *Fake) Deliver(topicFilter string, msg broker.Message) bool {
	f.mu.Lock()
	handler, ok := f.subscribers[topicFilter]
	f.mu.Unlock()
	if !ok {
		return false
	}
	handler(msg)
	return true
}
