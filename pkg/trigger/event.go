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
	"regexp"
	"strings"

	"github.com/tombee/conductor/pkg/eventbus"
)

// EventFilter narrows which bus events actually fire the trigger, beyond the
// subscribed type patterns (§4.9).
type EventFilter struct {
	EventTypes    []string // glob patterns, same grammar as eventbus
	SourcePattern string   // glob pattern over Event.Source, "" means any
	DataEquals    map[string]any
}

func (f EventFilter) matches(e eventbus.Event) bool {
	if len(f.EventTypes) > 0 && !matchAny(f.EventTypes, e.EventType) {
		return false
	}
	if f.SourcePattern != "" && !globMatch(f.SourcePattern, e.Source) {
		return false
	}
	for k, v := range f.DataEquals {
		if got, ok := e.Data[k]; !ok || got != v {
			return false
		}
	}
	return true
}

func matchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if globMatch(p, s) {
			return true
		}
	}
	return false
}

func globMatch(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '.':
			b.WriteString(`\.`)
		case '*':
			b.WriteString(".*")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String()).MatchString(s)
}

// EventConfig is the opaque config of an EVENT TriggerConfig (§4.9).
type EventConfig struct {
	EventTypePatterns []string
	Filter            EventFilter
}

// EventTrigger subscribes to declared event-type patterns on the bus and
// fires when a matching event also satisfies the EventFilter (§4.9).
type EventTrigger struct {
	base
	cfg   EventConfig
	bus   *eventbus.Bus
	subID string
}

// NewEventTrigger constructs an EVENT trigger bound to bus.
func NewEventTrigger(tc Config, ec EventConfig, bus *eventbus.Bus, disp Dispatcher) *EventTrigger {
	return &EventTrigger{base: newBase(tc, disp), cfg: ec, bus: bus}
}

// Start creates one bus subscription per declared pattern ("*" when none
// is declared).
func (t *EventTrigger) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}
	patterns := t.cfg.EventTypePatterns
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	var subIDs []string
	for _, p := range patterns {
		id := t.bus.Subscribe(p, func(e eventbus.Event) {
			if !t.isLive() {
				return
			}
			if !t.cfg.Filter.matches(e) {
				return
			}
			t.dispatch(map[string]any{"event": e.Data, "event_type": e.EventType}, map[string]any{"source": e.Source})
		}, nil)
		subIDs = append(subIDs, id)
	}
	t.subID = strings.Join(subIDs, ",")
	t.started = true
	return nil
}

// Stop unsubscribes every subscription created by Start.
func (t *EventTrigger) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil
	}
	for _, id := range strings.Split(t.subID, ",") {
		if id != "" {
			t.bus.Unsubscribe(id)
		}
	}
	t.started = false
	return nil
}

// Fire dispatches directly, bypassing the bus (manual re-trigger support).
func (t *EventTrigger) Fire(inputs, metadata map[string]any) Result {
	return t.dispatch(inputs, metadata)
}
