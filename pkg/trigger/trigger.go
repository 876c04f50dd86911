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

// Package trigger implements the trigger plane (§4.9): webhook intake with
// HMAC verification, cron scheduling, and event-bus subscription triggers.
// Grounded on original_source/.../workflows/triggers/base.py for the common
// lifecycle contract and internal/controller/webhook, internal/controller/
// polltrigger for the teacher's Go-native HTTP/rate-limit idioms.
package trigger

import (
	"sync"
	"time"
)

// Type enumerates the trigger kinds in TriggerConfig (§3).
type Type string

const (
	TypeManual    Type = "MANUAL"
	TypeWebhook   Type = "WEBHOOK"
	TypeSchedule  Type = "SCHEDULE"
	TypeEvent     Type = "EVENT"
	TypeFileWatch Type = "FILE_WATCH"
	TypeAPIPoll   Type = "API_POLL"
)

// Config is a TriggerConfig (§3): identity, binding, and opaque config.
type Config struct {
	ID         string
	Name       string
	WorkflowID string
	Type       Type
	Enabled    bool
	Config     map[string]any
}

// Result is the outcome of one trigger firing (§4.9).
type Result struct {
	TriggerID   string         `json:"trigger_id"`
	WorkflowID  string         `json:"workflow_id"`
	TriggeredAt time.Time      `json:"triggered_at"`
	Inputs      map[string]any `json:"inputs"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
}

// Dispatcher starts a workflow execution on behalf of a firing trigger. It
// is a plain function type so pkg/trigger never imports pkg/workflow
// directly, matching the teacher's layering (triggers are a leaf package).
type Dispatcher func(workflowID string, inputs map[string]any) (executionID string, err error)

// Trigger is the common contract every trigger kind implements (§4.9).
type Trigger interface {
	ID() string
	Start() error
	Stop() error
	Fire(inputs, metadata map[string]any) Result
	Pause()
	Resume()
	Disable()
	Enable()
	History(limit int) []Result
}

// base provides the shared lifecycle/history bookkeeping every concrete
// trigger embeds, mirroring BaseTrigger in triggers/base.py.
type base struct {
	mu       sync.Mutex
	cfg      Config
	disp     Dispatcher
	started  bool
	paused   bool
	disabled bool
	history  []Result
	histCap  int
}

func newBase(cfg Config, disp Dispatcher) base {
	return base{cfg: cfg, disp: disp, disabled: !cfg.Enabled, histCap: 200}
}

func (b *base) ID() string { return b.cfg.ID }

func (b *base) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
}

func (b *base) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = false
}

func (b *base) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disabled = true
}

func (b *base) Enable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disabled = false
}

func (b *base) isLive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started && !b.paused && !b.disabled
}

func (b *base) record(r Result) Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, r)
	if len(b.history) > b.histCap {
		b.history = b.history[len(b.history)-b.histCap:]
	}
	return r
}

func (b *base) History(limit int) []Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]Result, len(h))
	copy(out, h)
	return out
}

// dispatch runs the trigger's Dispatcher (if set) and builds a Result.
func (b *base) dispatch(inputs, metadata map[string]any) Result {
	res := Result{
		TriggerID:   b.cfg.ID,
		WorkflowID:  b.cfg.WorkflowID,
		TriggeredAt: time.Now(),
		Inputs:      inputs,
		Metadata:    metadata,
		Success:     true,
	}
	if b.disp == nil {
		return b.record(res)
	}
	execID, err := b.disp(b.cfg.WorkflowID, inputs)
	if err != nil {
		res.Success = false
		res.Error = err.Error()
	} else {
		res.ExecutionID = execID
	}
	return b.record(res)
}

// failedResult builds a Result with success=false and no dispatch attempt —
// used for auth/rate-limit failures that must never reach the dispatcher
// (§7 "webhook auth").
func (b *base) failedResult(reason string, inputs map[string]any) Result {
	return b.record(Result{
		TriggerID:   b.cfg.ID,
		WorkflowID:  b.cfg.WorkflowID,
		TriggeredAt: time.Now(),
		Inputs:      inputs,
		Success:     false,
		Error:       reason,
	})
}
