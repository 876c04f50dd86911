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

// Package eventbus implements the in-process pub/sub event bus (§4.8): glob
// pattern subscription, bounded history, and a channel-based wait_for
// primitive. Grounded directly on spec.md §4.8 — no single teacher file
// implements this shape, so the matcher and subscriber bookkeeping below are
// purpose-built, following the one-exclusion-region-per-component rule used
// throughout pkg/workflow (store.go, registry.go).
package eventbus

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryLimit bounds the retained event history (§4.8).
const DefaultHistoryLimit = 1000

// Event is the envelope delivered on the bus (§6 "Event envelope").
type Event struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Source    string         `json:"source,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an Event with a generated id and the current time.
func NewEvent(eventType, source string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		EventType: eventType,
		Data:      data,
		Source:    source,
		Timestamp: time.Now(),
	}
}

// Handler receives matching events. Panics/errors inside a handler are
// isolated: the bus recovers and logs, never aborting delivery to other
// subscribers (§4.8, §7 "event-handler exception").
type Handler func(Event)

// Filter optionally narrows delivery beyond the pattern match.
type Filter func(Event) bool

type subscription struct {
	id      string
	pattern string
	matcher *regexp.Regexp
	handler Handler
	filter  Filter
}

// Bus is the process-wide pub/sub broker (§4.8). The zero value is not
// usable; construct with New.
type Bus struct {
	mu            sync.RWMutex
	subs          []*subscription
	history       []Event
	historyLimit  int
	logger        *slog.Logger
}

// New constructs an empty Bus. historyLimit<=0 uses DefaultHistoryLimit.
func New(historyLimit int, logger *slog.Logger) *Bus {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{historyLimit: historyLimit, logger: logger}
}

// compilePattern turns the bus's pattern grammar into a matcher (§4.8):
// "*" matches any event type; "prefix.*" matches anything starting with
// "prefix."; anything else is glob-regex with "." literal and "*" as ".*".
func compilePattern(pattern string) *regexp.Regexp {
	if pattern == "*" {
		return regexp.MustCompile(`^.*$`)
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
	return regexp.MustCompile(b.String())
}

// Subscribe registers handler for events whose type matches pattern, with an
// optional additional filter. Returns a subscription id for Unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler, filter Filter) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		matcher: compilePattern(pattern),
		handler: handler,
		filter:  filter,
	}
	b.subs = append(b.subs, sub)
	return sub.id
}

// Unsubscribe removes the subscription with the given id. Pass the id
// returned from Subscribe.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.subs[:0]
	for _, s := range b.subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	b.subs = out
}

// Emit delivers event to every matching subscriber, in subscription order,
// and appends it to history. Returns the number of handlers notified.
// Handler panics are recovered and logged; they never affect delivery to
// other subscribers (§4.8, §7).
func (b *Bus) Emit(event Event) int {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > b.historyLimit {
		b.history = b.history[len(b.history)-b.historyLimit:]
	}
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	notified := 0
	for _, s := range subs {
		if !s.matcher.MatchString(event.EventType) {
			continue
		}
		if s.filter != nil && !s.filter(event) {
			continue
		}
		b.dispatch(s, event)
		notified++
	}
	return notified
}

func (b *Bus) dispatch(s *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus: handler panicked", "pattern", s.pattern, "event_type", event.EventType, "recover", r)
		}
	}()
	s.handler(event)
}

// WaitFor blocks until an event of eventType (optionally further narrowed by
// predicate) arrives or timeout elapses (timeout<=0 means wait forever).
// Returns nil on timeout.
func (b *Bus) WaitFor(eventType string, timeout time.Duration, predicate Filter) *Event {
	ch := make(chan Event, 1)
	var once sync.Once
	id := b.Subscribe(eventType, func(e Event) {
		if predicate != nil && !predicate(e) {
			return
		}
		once.Do(func() { ch <- e })
	}, nil)
	defer b.Unsubscribe(id)

	if timeout <= 0 {
		e := <-ch
		return &e
	}
	select {
	case e := <-ch:
		return &e
	case <-time.After(timeout):
		return nil
	}
}

// GetHistory returns up to limit most-recent events, optionally filtered by
// exact event type. limit<=0 returns the full retained history.
func (b *Bus) GetHistory(eventType string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Event
	for _, e := range b.history {
		if eventType != "" && e.EventType != eventType {
			continue
		}
		matched = append(matched, e)
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}
