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

package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSubPublishDeliversToCurrentSubscribers(t *testing.T) {
	p := NewPubSub(0, 0, nil)
	var got any
	ok := p.Subscribe("metrics.cpu", "sub-1", false, func(msg any) { got = msg })
	require.True(t, ok)

	n := p.Publish("metrics.cpu", 42)
	assert.Equal(t, 1, n)
	assert.Equal(t, 42, got)
}

func TestPubSubRetainLastReplaysToNewSubscriber(t *testing.T) {
	p := NewPubSub(0, 0, nil)
	p.Publish("alerts", "first-message")

	var received any
	ok := p.Subscribe("alerts", "late-joiner", true, func(msg any) { received = msg })
	require.True(t, ok)
	assert.Equal(t, "first-message", received, "retain_last topic must synchronously replay the prior publish")
}

func TestPubSubWithoutRetainDoesNotReplay(t *testing.T) {
	p := NewPubSub(0, 0, nil)
	p.Publish("ephemeral", "stale")

	called := false
	p.Subscribe("ephemeral", "sub-1", false, func(msg any) { called = true })
	assert.False(t, called)
}

func TestPubSubUnsubscribeStopsDelivery(t *testing.T) {
	p := NewPubSub(0, 0, nil)
	count := 0
	p.Subscribe("topic", "sub-1", false, func(msg any) { count++ })
	p.Unsubscribe("topic", "sub-1")
	p.Publish("topic", "x")
	assert.Equal(t, 0, count)
}

func TestPubSubSubscriberCapRejectsOverflow(t *testing.T) {
	p := NewPubSub(0, 1, nil)
	ok1 := p.Subscribe("topic", "sub-1", false, func(any) {})
	ok2 := p.Subscribe("topic", "sub-2", false, func(any) {})
	assert.True(t, ok1)
	assert.False(t, ok2)
}

func TestPubSubTopicCapRejectsOverflow(t *testing.T) {
	p := NewPubSub(1, 0, nil)
	ok1 := p.Subscribe("t1", "sub-1", false, func(any) {})
	ok2 := p.Subscribe("t2", "sub-1", false, func(any) {})
	assert.True(t, ok1)
	assert.False(t, ok2)
}

func TestPubSubSubscriberPanicIsolated(t *testing.T) {
	p := NewPubSub(0, 0, nil)
	p.Subscribe("topic", "panics", false, func(any) { panic("boom") })

	var secondCalled bool
	p.Subscribe("topic", "survives", false, func(any) { secondCalled = true })

	assert.NotPanics(t, func() { p.Publish("topic", "x") })
	assert.True(t, secondCalled)
}
