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

// Package broker abstracts the single MQTT connection both wire planes
// publish through and the command plane subscribes on, so the rest of
// the daemon never imports eclipse/paho.mqtt.golang directly.
package broker

import "context"

// Message is one inbound message delivered to a Subscribe handler.
type Message struct {
	Topic   string
	Payload []byte
	Retained bool
}

// Handler processes one inbound message. Handlers must not block the
// broker's delivery goroutine for long; slow work is hand off to a
// worker pool by the caller.
type Handler func(Message)

// Client is the broker-facing surface the publish pipeline, lifecycle
// publisher, and bidirectional sync path depend on. PahoClient is the
// production implementation; brokertest.Fake backs unit tests.
type Client interface {
	// Connect establishes the session, registering will as the MQTT
	// last will if will is non-nil. Connect must be called once before
	// Publish/Subscribe.
	Connect(ctx context.Context, will *Will) error

	// Publish sends payload to topic. retain and qos follow MQTT
	// semantics directly.
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error

	// Subscribe registers handler for topic (which may contain
	// wildcards). Only one handler may be active per topic filter.
	Subscribe(ctx context.Context, topicFilter string, qos byte, handler Handler) error

	// Unsubscribe removes a previously registered handler.
	Unsubscribe(ctx context.Context, topicFilter string) error

	// Connected reports whether the client currently holds a live
	// session, used by the readiness probe (spec.md §6).
	Connected() bool

	// Disconnect closes the session, publishing NDEATH-equivalent
	// cleanup is the caller's responsibility before calling this.
	Disconnect(ctx context.Context) error
}

// Will describes the broker-enforced last will, published automatically
// by the broker if this client disconnects uncleanly. The lifecycle
// publisher registers the NDEATH payload as the will at connect time so
// an ungraceful exit still announces the node as dead (spec.md §4.4).
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}
