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

package trace

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSpanCycle is returned when a span's parent_id would introduce a cycle.
var ErrSpanCycle = errors.New("trace: span parent introduces a cycle")

// ErrUnknownTrace is returned for operations against a trace id the
// collector has never seen.
var ErrUnknownTrace = errors.New("trace: unknown trace id")

// ErrUnknownSpan is returned for operations against a span id the trace
// does not contain.
var ErrUnknownSpan = errors.New("trace: unknown span id")

// Collector is the in-memory Trace collector of §4.13: start_trace,
// start_span, finish_span, finish_trace, plus incremental cost/latency
// aggregation via an embedded Ledger. Bounded by maxTraces (oldest
// evicted), mirroring traces.py's LLMTraceCollector.
type Collector struct {
	mu sync.RWMutex

	traces    map[string]*Trace
	order     []string
	maxTraces int

	Ledger *Ledger
}

// NewCollector constructs a Collector bounded to maxTraces retained traces
// (0 means unbounded).
func NewCollector(maxTraces int) *Collector {
	return &Collector{
		traces:    make(map[string]*Trace),
		maxTraces: maxTraces,
		Ledger:    NewLedger(),
	}
}

// StartTrace opens a new trace and returns it.
func (c *Collector) StartTrace(now time.Time, sessionID, userID, name string) *Trace {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &Trace{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Name:      name,
		StartTime: now,
		Status:    StatusRunning,
		Spans:     make(map[string]*Span),
	}
	c.traces[t.ID] = t
	c.order = append(c.order, t.ID)

	if c.maxTraces > 0 && len(c.order) > c.maxTraces {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.traces, oldest)
	}
	return t
}

// StartSpan opens a new span under traceID. parentID may be empty for a
// root span; a non-empty parentID must already exist in the trace and must
// not create a cycle.
func (c *Collector) StartSpan(now time.Time, traceID, parentID, name string, kind SpanKind, model string) (*Span, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.traces[traceID]
	if !ok {
		return nil, ErrUnknownTrace
	}
	if parentID != "" {
		if _, ok := t.Spans[parentID]; !ok {
			return nil, ErrUnknownSpan
		}
	}

	s := &Span{
		ID:        uuid.NewString(),
		TraceID:   traceID,
		ParentID:  parentID,
		Name:      name,
		Kind:      kind,
		Model:     model,
		StartTime: now,
		Status:    StatusRunning,
	}
	if wouldCycle(t, s.ID, parentID) {
		return nil, ErrSpanCycle
	}
	t.Spans[s.ID] = s
	return s, nil
}

func wouldCycle(t *Trace, spanID, parentID string) bool {
	seen := map[string]bool{spanID: true}
	cur := parentID
	for cur != "" {
		if seen[cur] {
			return true
		}
		seen[cur] = true
		parent, ok := t.Spans[cur]
		if !ok {
			return false
		}
		cur = parent.ParentID
	}
	return false
}

// FinishSpan completes a span and feeds its cost/latency into the ledger.
func (c *Collector) FinishSpan(now time.Time, traceID, spanID string, output any, status Status, errMsg string, usage Usage) error {
	c.mu.Lock()
	t, ok := c.traces[traceID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownTrace
	}
	s, ok := t.Spans[spanID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownSpan
	}

	s.EndTime = now
	s.Output = output
	s.Status = status
	s.Error = errMsg
	s.Usage = usage
	duration := s.DurationMs()
	model := s.Model
	kind := s.Kind
	c.mu.Unlock()

	if kind == SpanLLMCall {
		c.Ledger.Record(now, model, usage, duration)
	}
	return nil
}

// FinishTrace completes a trace.
func (c *Collector) FinishTrace(now time.Time, traceID string, output any, status Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.traces[traceID]
	if !ok {
		return ErrUnknownTrace
	}
	t.EndTime = now
	t.Output = output
	t.Status = status
	return nil
}

// GetTrace returns a trace by id.
func (c *Collector) GetTrace(traceID string) (*Trace, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.traces[traceID]
	return t, ok
}

// ListTraces returns every retained trace, newest first, optionally
// filtered by sessionID (empty matches all) and limited to limit results
// (0 means unbounded).
func (c *Collector) ListTraces(sessionID string, limit int) []*Trace {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*Trace
	for _, id := range c.order {
		t := c.traces[id]
		if sessionID != "" && t.SessionID != sessionID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
