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

package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxCheckpoints is the default per-execution checkpoint retention
// cap (§4.2: "keep newest N, default 10").
const DefaultMaxCheckpoints = 10

// Checkpoint is an immutable, digest-verified snapshot of a WorkflowState
// (§3). Mutating the live state after checkpointing never alters a
// checkpoint's digest because State is always Clone()'d on the way in.
type Checkpoint struct {
	CheckpointID string         `json:"checkpoint_id"`
	ExecutionID  string         `json:"execution_id"`
	State        *WorkflowState `json:"state"`
	CreatedAt    time.Time      `json:"created_at"`
	Digest       string         `json:"digest"`
}

// canonicalJSON marshals v with object keys sorted, so the digest is stable
// regardless of map iteration order.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte("{")
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalSorted(t[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte("[")
		for i, e := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := marshalSorted(e)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(t)
	}
}

// Digest computes the stable-order SHA-256 digest of a state, truncated to
// 16 hex characters (§3).
func Digest(state *WorkflowState) (string, error) {
	canon, err := canonicalJSON(state)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Valid reports whether the checkpoint's stored digest matches a fresh
// recomputation over its own state.
func (c *Checkpoint) Valid() bool {
	d, err := Digest(c.State)
	if err != nil {
		return false
	}
	return d == c.Digest
}

// Query filters list_executions (§4.2).
type Query struct {
	WorkflowID string
	Status     Status
}

// Store is the State Store contract (§4.2).
type Store interface {
	CreateState(workflowID string) (*WorkflowState, error)
	GetState(executionID string) (*WorkflowState, error)
	UpdateState(state *WorkflowState) error
	Checkpoint(state *WorkflowState) (*Checkpoint, error)
	GetLatestValidCheckpoint(executionID string) (*Checkpoint, error)
	Recover(executionID string) (*WorkflowState, error)
	ListExecutions(q Query) ([]*WorkflowState, error)
	CleanupCompleted(maxAge time.Duration) (int, error)
}

// MemoryStore is an in-process Store implementation. All access is
// serialized under a single RWMutex, matching the one-exclusion-region-
// per-component rule in spec.md §5. Grounded on pkg/workflow/store.go's
// MemoryStore (sync.RWMutex + deep-copy-before-return pattern), extended
// with digest-validated checkpointing and recovery.
type MemoryStore struct {
	mu          sync.RWMutex
	states      map[string]*WorkflowState
	checkpoints map[string][]*Checkpoint // newest last
	maxPerExec  int
}

// NewMemoryStore constructs an empty store. maxPerExec<=0 uses the default.
func NewMemoryStore(maxPerExec int) *MemoryStore {
	if maxPerExec <= 0 {
		maxPerExec = DefaultMaxCheckpoints
	}
	return &MemoryStore{
		states:      make(map[string]*WorkflowState),
		checkpoints: make(map[string][]*Checkpoint),
		maxPerExec:  maxPerExec,
	}
}

func (s *MemoryStore) CreateState(workflowID string) (*WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	st := NewWorkflowState(id, workflowID)
	s.states[id] = st
	return st.Clone(), nil
}

func (s *MemoryStore) GetState(executionID string) (*WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[executionID]
	if !ok {
		return nil, ErrExecutionNotFound(executionID)
	}
	return st.Clone(), nil
}

func (s *MemoryStore) UpdateState(state *WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[state.ExecutionID]; !ok {
		return ErrExecutionNotFound(state.ExecutionID)
	}
	s.states[state.ExecutionID] = state.Clone()
	return nil
}

// Checkpoint creates a checkpoint inside the exclusion region, deep-copying
// state so the caller cannot retroactively mutate the stored snapshot
// (§4.2). The per-execution list is capped at maxPerExec, oldest evicted.
func (s *MemoryStore) Checkpoint(state *WorkflowState) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := state.Clone()
	digest, err := Digest(snapshot)
	if err != nil {
		return nil, err
	}
	cp := &Checkpoint{
		CheckpointID: uuid.NewString(),
		ExecutionID:  state.ExecutionID,
		State:        snapshot,
		CreatedAt:    time.Now(),
		Digest:       digest,
	}
	list := append(s.checkpoints[state.ExecutionID], cp)
	if len(list) > s.maxPerExec {
		list = list[len(list)-s.maxPerExec:]
	}
	s.checkpoints[state.ExecutionID] = list
	s.states[state.ExecutionID] = state.Clone()
	return cp, nil
}

// GetLatestValidCheckpoint scans newest-first for the first checkpoint
// whose digest validates (§3, §7: checkpoint corruption skips to the next-
// older checkpoint).
func (s *MemoryStore) GetLatestValidCheckpoint(executionID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.checkpoints[executionID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Valid() {
			return list[i], nil
		}
	}
	return nil, nil
}

// Recover installs the deep-copy of the latest valid checkpoint's state as
// the live state and returns it. Returns (nil, nil) if no checkpoint
// validates (fresh-start per §7).
func (s *MemoryStore) Recover(executionID string) (*WorkflowState, error) {
	cp, err := s.GetLatestValidCheckpoint(executionID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}
	restored := cp.State.Clone()
	s.mu.Lock()
	s.states[executionID] = restored
	s.mu.Unlock()
	return restored.Clone(), nil
}

func (s *MemoryStore) ListExecutions(q Query) ([]*WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*WorkflowState
	for _, st := range s.states {
		if q.WorkflowID != "" && st.WorkflowID != q.WorkflowID {
			continue
		}
		if q.Status != "" && st.Status != q.Status {
			continue
		}
		out = append(out, st.Clone())
	}
	return out, nil
}

// CleanupCompleted removes terminal-status executions older than maxAge
// (measured from CompletedAt), returning the count removed.
func (s *MemoryStore) CleanupCompleted(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, st := range s.states {
		if !st.Status.IsTerminal() || st.CompletedAt == nil {
			continue
		}
		if st.CompletedAt.Before(cutoff) {
			delete(s.states, id)
			delete(s.checkpoints, id)
			removed++
		}
	}
	return removed, nil
}
