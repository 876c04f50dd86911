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

// Package trace implements the LLM/agent observability trace collector
// (§4.13): span trees keyed by trace id, incremental cost/latency
// aggregation, and replay-timeline derivation. Grounded on
// original_source/.../dashboard/llm_observability/traces.py and
// agent_observability/{traces,replay}.py.
package trace

import "time"

// SpanKind categorizes the work a span represents (traces.py SpanType).
type SpanKind string

const (
	SpanLLMCall   SpanKind = "llm_call"
	SpanToolCall  SpanKind = "tool_call"
	SpanRetrieval SpanKind = "retrieval"
	SpanEmbedding SpanKind = "embedding"
	SpanChain     SpanKind = "chain"
	SpanAgent     SpanKind = "agent"
)

// Status is a span's terminal or in-flight outcome.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Usage records token and cost accounting for an LLM span.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CacheTokens  int
	CostUSD      float64
}

// Span is one node in a trace's execution tree (§3 TraceSpan).
type Span struct {
	ID       string
	TraceID  string
	ParentID string

	Name   string
	Kind   SpanKind
	Model  string

	StartTime time.Time
	EndTime   time.Time

	Status     Status
	Error      string
	Attributes map[string]any
	Events     []SpanEvent

	Input  any
	Output any
	Usage  Usage
}

// SpanEvent is a timestamped annotation attached to a span.
type SpanEvent struct {
	Name       string
	Timestamp  time.Time
	Attributes map[string]any
}

// DurationMs returns the span's wall-clock duration in milliseconds, or 0
// while the span is still active.
func (s *Span) DurationMs() float64 {
	if s.EndTime.IsZero() {
		return 0
	}
	return float64(s.EndTime.Sub(s.StartTime)) / float64(time.Millisecond)
}

// IsActive reports whether the span has not yet finished.
func (s *Span) IsActive() bool {
	return s.EndTime.IsZero()
}

// Trace is a tree of spans sharing a trace id (§3 Trace). parent_id
// references must resolve within the trace and cycles are prohibited —
// enforced by Collector.StartSpan, not by this type.
type Trace struct {
	ID        string
	SessionID string
	UserID    string
	Name      string

	StartTime time.Time
	EndTime   time.Time
	Status    Status
	Output    any

	Spans map[string]*Span
}

// IsActive reports whether the trace has not yet finished.
func (t *Trace) IsActive() bool {
	return t.EndTime.IsZero()
}

// RootSpans returns every span in the trace with no parent.
func (t *Trace) RootSpans() []*Span {
	var roots []*Span
	for _, s := range t.Spans {
		if s.ParentID == "" {
			roots = append(roots, s)
		}
	}
	return roots
}

// Children returns every span whose ParentID is parentID.
func (t *Trace) Children(parentID string) []*Span {
	var out []*Span
	for _, s := range t.Spans {
		if s.ParentID == parentID {
			out = append(out, s)
		}
	}
	return out
}

// LLMSpans returns every span of kind SpanLLMCall in the trace.
func (t *Trace) LLMSpans() []*Span {
	return t.spansOfKind(SpanLLMCall)
}

// ToolSpans returns every span of kind SpanToolCall in the trace.
func (t *Trace) ToolSpans() []*Span {
	return t.spansOfKind(SpanToolCall)
}

func (t *Trace) spansOfKind(kind SpanKind) []*Span {
	var out []*Span
	for _, s := range t.Spans {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}
