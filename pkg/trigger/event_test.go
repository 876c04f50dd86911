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

package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/conductor/pkg/eventbus"
)

func TestEventTriggerFiresOnMatch(t *testing.T) {
	bus := eventbus.New(0, nil)
	var fired bool
	et := NewEventTrigger(
		Config{ID: "e1", WorkflowID: "wf", Enabled: true},
		EventConfig{EventTypePatterns: []string{"deploy.*"}, Filter: EventFilter{DataEquals: map[string]any{"env": "prod"}}},
		bus,
		func(string, map[string]any) (string, error) { fired = true; return "x", nil },
	)
	require.NoError(t, et.Start())
	defer et.Stop()

	bus.Emit(eventbus.NewEvent("deploy.started", "ci", map[string]any{"env": "staging"}))
	time.Sleep(10 * time.Millisecond)
	assert.False(t, fired)

	bus.Emit(eventbus.NewEvent("deploy.started", "ci", map[string]any{"env": "prod"}))
	time.Sleep(10 * time.Millisecond)
	assert.True(t, fired)
}

func TestEventTriggerStopUnsubscribes(t *testing.T) {
	bus := eventbus.New(0, nil)
	count := 0
	et := NewEventTrigger(
		Config{ID: "e1", WorkflowID: "wf", Enabled: true},
		EventConfig{EventTypePatterns: []string{"*"}},
		bus,
		func(string, map[string]any) (string, error) { count++; return "x", nil },
	)
	require.NoError(t, et.Start())
	bus.Emit(eventbus.NewEvent("a", "s", nil))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, et.Stop())
	bus.Emit(eventbus.NewEvent("a", "s", nil))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, count)
}
