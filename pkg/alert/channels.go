// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package alert

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tombee/conductor/pkg/httpclient"
)

// ChannelType names a notification transport (channels.py ChannelType).
type ChannelType string

const (
	ChannelEmail     ChannelType = "email"
	ChannelSlack     ChannelType = "slack"
	ChannelTeams     ChannelType = "teams"
	ChannelPagerDuty ChannelType = "pagerduty"
	ChannelWebhook   ChannelType = "webhook"
	ChannelSMS       ChannelType = "sms"
	ChannelDiscord   ChannelType = "discord"
)

// Sender performs the transport-specific delivery of an event. Returning an
// error marks the send as failed but never aborts the caller's evaluation
// loop (§7 alert delivery).
type Sender func(Event) error

// Channel is a rate-limited notification destination (§4.11). Grounded on
// channels.py's NotificationChannel; rate limiting uses golang.org/x/time/rate
// rather than the reference's plain integer counter, giving a smooth
// per-hour token bucket instead of a hard reset boundary.
type Channel struct {
	mu sync.Mutex

	ID      string
	Name    string
	Type    ChannelType
	Enabled bool

	LastSent  time.Time
	LastError string

	send    Sender
	limiter *rate.Limiter

	CreatedAt time.Time
}

// NewChannel constructs a Channel with a per-hour delivery cap enforced by
// a token bucket (rate limiting happens before send, per §5).
func NewChannel(name string, typ ChannelType, ratePerHour int, send Sender) *Channel {
	if ratePerHour <= 0 {
		ratePerHour = 60
	}
	perSecond := rate.Limit(float64(ratePerHour) / 3600.0)
	return &Channel{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      typ,
		Enabled:   true,
		send:      send,
		limiter:   rate.NewLimiter(perSecond, ratePerHour),
		CreatedAt: time.Now(),
	}
}

// Send delivers event through the channel's Sender if enabled and not
// rate-limited (§4.11 "rate limiting is enforced before I/O").
func (c *Channel) Send(event Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.Enabled {
		return false
	}
	if !c.limiter.Allow() {
		return false
	}
	if c.send == nil {
		return false
	}
	if err := c.send(event); err != nil {
		c.LastError = err.Error()
		return false
	}
	c.LastSent = time.Now()
	return true
}

// Manager owns a set of named Channels (channels.py ChannelManager).
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewManager constructs an empty channel Manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]*Channel)}
}

// Add registers a channel.
func (m *Manager) Add(c *Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[c.ID] = c
}

// Get returns a channel by id.
func (m *Manager) Get(id string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	return c, ok
}

// List returns every registered channel.
func (m *Manager) List() []*Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Channel, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c)
	}
	return out
}

// Remove deletes a channel by id.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[id]; !ok {
		return false
	}
	delete(m.channels, id)
	return true
}

// NotifyAll delivers event to every named channel id, returning a per-id
// success map; an unknown channel id maps to false without error.
func (m *Manager) NotifyAll(channelIDs []string, event Event) map[string]bool {
	results := make(map[string]bool, len(channelIDs))
	for _, id := range channelIDs {
		c, ok := m.Get(id)
		if !ok {
			results[id] = false
			continue
		}
		results[id] = c.Send(event)
	}
	return results
}

// WebhookSender builds a Sender that POSTs the event as JSON to url. The
// actual HTTP transport is left to the caller-supplied do function so tests
// can substitute a fake without a live network (spec's out-of-scope HTTP
// transport, §1).
func WebhookSender(url string, do func(url string, body []byte) error, marshal func(Event) ([]byte, error)) Sender {
	return func(event Event) error {
		body, err := marshal(event)
		if err != nil {
			return fmt.Errorf("alert: marshal webhook payload: %w", err)
		}
		return do(url, body)
	}
}

// NewHTTPWebhookSender builds a webhook Sender backed by pkg/httpclient's
// client factory (User-Agent, sanitized logging), POSTing the marshaled
// event as application/json (§4.11 Webhook channel). The POST is retried
// only when cfg.AllowNonIdempotentRetry is set, and it carries no
// correlation ID because the request is built without a context. This is
// the concrete `do` most deployments plug into WebhookSender; tests keep
// using WebhookSender directly with a fake do to avoid a live network.
func NewHTTPWebhookSender(url string, cfg httpclient.Config, marshal func(Event) ([]byte, error)) (Sender, error) {
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("alert: build webhook http client: %w", err)
	}
	return WebhookSender(url, httpDo(client), marshal), nil
}

// httpDo adapts an *http.Client into WebhookSender's do signature, treating
// any non-2xx response as a delivery failure.
func httpDo(client *http.Client) func(url string, body []byte) error {
	return func(url string, body []byte) error {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("alert: build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("alert: deliver webhook: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("alert: webhook delivery failed: status %d", resp.StatusCode)
		}
		return nil
	}
}
