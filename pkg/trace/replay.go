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
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StepType categorizes one entry in a replay timeline (replay.py
// ReplayStepType).
type StepType string

const (
	StepRequest  StepType = "request"
	StepResponse StepType = "response"
	StepCall     StepType = "call"
	StepResult   StepType = "result"
	StepEvent    StepType = "event"
)

// Step is one entry in an ExecutionReplay's linear timeline.
type Step struct {
	Index      int
	SpanID     string
	Type       StepType
	Name       string
	OffsetMs   float64
	DurationMs float64
	Status     Status
	Payload    any
}

// Replay is a linear, scrubbable rendering of a trace's span tree (§4.13
// replay model). Each LLM span becomes a (REQUEST, RESPONSE) pair
// splitting duration_ms equally; each tool span becomes a (CALL, RESULT)
// pair; every other span becomes a single step typed by its kind.
type Replay struct {
	mu sync.Mutex

	ID      string
	TraceID string
	Steps   []Step
	cursor  int
}

// FromTrace derives a Replay from a finished trace's span tree, ordering
// spans by start time (replay.py ExecutionReplay.from_trace).
func FromTrace(t *Trace) *Replay {
	spans := make([]*Span, 0, len(t.Spans))
	for _, s := range t.Spans {
		spans = append(spans, s)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].StartTime.Before(spans[j].StartTime) })

	r := &Replay{ID: uuid.NewString(), TraceID: t.ID}
	for _, s := range spans {
		offset := float64(s.StartTime.Sub(t.StartTime)) / float64(time.Millisecond)
		duration := s.DurationMs()

		switch s.Kind {
		case SpanLLMCall:
			half := duration / 2
			r.appendStep(s, StepRequest, offset, half, s.Input)
			r.appendStep(s, StepResponse, offset+half, half, s.Output)
		case SpanToolCall:
			half := duration / 2
			r.appendStep(s, StepCall, offset, half, s.Input)
			r.appendStep(s, StepResult, offset+half, half, s.Output)
		default:
			r.appendStep(s, StepType(s.Kind), offset, duration, s.Output)
		}
	}
	return r
}

func (r *Replay) appendStep(s *Span, typ StepType, offset, duration float64, payload any) {
	r.Steps = append(r.Steps, Step{
		Index:      len(r.Steps),
		SpanID:     s.ID,
		Type:       typ,
		Name:       s.Name,
		OffsetMs:   offset,
		DurationMs: duration,
		Status:     s.Status,
		Payload:    payload,
	})
}

// Step returns the step at index, if any.
func (r *Replay) Step(index int) (Step, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.Steps) {
		return Step{}, false
	}
	return r.Steps[index], true
}

// Current returns the step at the replay's cursor position.
func (r *Replay) Current() (Step, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursor < 0 || r.cursor >= len(r.Steps) {
		return Step{}, false
	}
	return r.Steps[r.cursor], true
}

// Next advances the cursor one step and returns it, or false at the end.
func (r *Replay) Next() (Step, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursor+1 >= len(r.Steps) {
		return Step{}, false
	}
	r.cursor++
	return r.Steps[r.cursor], true
}

// Previous rewinds the cursor one step and returns it, or false at the start.
func (r *Replay) Previous() (Step, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursor-1 < 0 {
		return Step{}, false
	}
	r.cursor--
	return r.Steps[r.cursor], true
}

// GoTo moves the cursor directly to index.
func (r *Replay) GoTo(index int) (Step, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.Steps) {
		return Step{}, false
	}
	r.cursor = index
	return r.Steps[index], true
}

// Reset returns the cursor to the first step.
func (r *Replay) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = 0
}

// Progress returns the cursor's position as a fraction of the timeline,
// in [0, 1].
func (r *Replay) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Steps) <= 1 {
		return 1
	}
	return float64(r.cursor) / float64(len(r.Steps)-1)
}

// ReplayManager keeps derived replays addressable by id (replay.py
// ReplayManager).
type ReplayManager struct {
	mu      sync.Mutex
	replays map[string]*Replay
}

// NewReplayManager constructs an empty replay manager.
func NewReplayManager() *ReplayManager {
	return &ReplayManager{replays: make(map[string]*Replay)}
}

// Create derives and registers a new Replay from t.
func (m *ReplayManager) Create(t *Trace) *Replay {
	r := FromTrace(t)
	m.mu.Lock()
	m.replays[r.ID] = r
	m.mu.Unlock()
	return r
}

// Get returns a replay by id.
func (m *ReplayManager) Get(id string) (*Replay, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.replays[id]
	return r, ok
}

// Delete removes a replay by id.
func (m *ReplayManager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.replays[id]; !ok {
		return false
	}
	delete(m.replays, id)
	return true
}
