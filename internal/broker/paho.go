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

package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/obslog"
)

// PahoClient is the production Client backed by eclipse/paho.mqtt.golang,
// configured from the broker section of the daemon configuration
// (spec.md §6).
type PahoClient struct {
	cfg config.BrokerConfig

	mu        sync.RWMutex
	inner     mqtt.Client
	connected bool
}

// NewPahoClient builds an unconnected client from cfg. Call Connect to
// establish the session.
func NewPahoClient(cfg config.BrokerConfig) *PahoClient {
	return &PahoClient{cfg: cfg}
}

func (p *PahoClient) Connect(ctx context.Context, will *Will) error {
	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.URL).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetMaxReconnectInterval(p.cfg.ReconnectDelayMax).
		SetConnectTimeout(10 * time.Second).
		SetOrderMatters(true)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	if will != nil {
		opts.SetBinaryWill(will.Topic, will.Payload, will.QoS, will.Retain)
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.mu.Lock()
		p.connected = true
		p.mu.Unlock()
		obslog.LogInfo("broker connection established", "url", p.cfg.URL)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		obslog.LogWarning("broker connection lost", "error", err)
	})

	p.inner = mqtt.NewClient(opts)
	token := p.inner.Connect()
	if !token.WaitTimeout(waitTimeout(ctx)) {
		return fmt.Errorf("connecting to broker %s: timed out", p.cfg.URL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to broker %s: %w", p.cfg.URL, err)
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

func (p *PahoClient) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	token := p.inner.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(waitTimeout(ctx)) {
		return fmt.Errorf("publishing to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (p *PahoClient) Subscribe(ctx context.Context, topicFilter string, qos byte, handler Handler) error {
	token := p.inner.Subscribe(topicFilter, qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(Message{
			Topic:    m.Topic(),
			Payload:  append([]byte(nil), m.Payload()...),
			Retained: m.Retained(),
		})
	})
	if !token.WaitTimeout(waitTimeout(ctx)) {
		return fmt.Errorf("subscribing to %s: timed out", topicFilter)
	}
	return token.Error()
}

func (p *PahoClient) Unsubscribe(ctx context.Context, topicFilter string) error {
	token := p.inner.Unsubscribe(topicFilter)
	if !token.WaitTimeout(waitTimeout(ctx)) {
		return fmt.Errorf("unsubscribing from %s: timed out", topicFilter)
	}
	return token.Error()
}

func (p *PahoClient) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.inner != nil && p.inner.IsConnectionOpen()
}

func (p *PahoClient) Disconnect(ctx context.Context) error {
	if p.inner == nil {
		return nil
	}
	quiesce := uint(250)
	if deadline, ok := ctx.Deadline(); ok {
		if ms := time.Until(deadline).Milliseconds(); ms > 0 && ms < int64(quiesce) {
			quiesce = uint(ms)
		}
	}
	p.inner.Disconnect(quiesce)
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}

func waitTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
	}
	return 10 * time.Second
}
