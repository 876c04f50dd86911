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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestStableUnderKeyOrder(t *testing.T) {
	a := NewWorkflowState("e1", "w1")
	a.Variables = Variables{"x": 1, "y": 2}
	b := NewWorkflowState("e1", "w1")
	b.Variables = Variables{"y": 2, "x": 1}

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 16)
}

func TestCheckpointValidDetectsTamper(t *testing.T) {
	state := NewWorkflowState("e1", "w1")
	digest, err := Digest(state)
	require.NoError(t, err)
	cp := &Checkpoint{ExecutionID: "e1", State: state, Digest: digest}
	assert.True(t, cp.Valid())

	cp.State.Variables.Set("tampered", true)
	assert.False(t, cp.Valid())
}

func TestMemoryStoreCreateGetUpdate(t *testing.T) {
	store := NewMemoryStore(0)
	state, err := store.CreateState("wf-1")
	require.NoError(t, err)
	require.NotEmpty(t, state.ExecutionID)

	fetched, err := store.GetState(state.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, state.WorkflowID, fetched.WorkflowID)

	fetched.Variables.Set("k", "v")
	require.NoError(t, store.UpdateState(fetched))

	reread, err := store.GetState(state.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "v", reread.Variables["k"])
}

func TestMemoryStoreGetStateUnknownExecution(t *testing.T) {
	store := NewMemoryStore(0)
	_, err := store.GetState("missing")
	assert.Error(t, err)
}

func TestMemoryStoreUpdateStateUnknownExecution(t *testing.T) {
	store := NewMemoryStore(0)
	err := store.UpdateState(NewWorkflowState("ghost", "wf-1"))
	assert.Error(t, err)
}

func TestMemoryStoreCheckpointCapsAtMax(t *testing.T) {
	store := NewMemoryStore(2)
	state, err := store.CreateState("wf-1")
	require.NoError(t, err)

	var last *Checkpoint
	for i := 0; i < 5; i++ {
		state.Variables.Set("i", i)
		last, err = store.Checkpoint(state)
		require.NoError(t, err)
	}

	latest, err := store.GetLatestValidCheckpoint(state.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, last.CheckpointID, latest.CheckpointID)
}

func TestMemoryStoreRecoverSkipsCorruptedNewest(t *testing.T) {
	store := NewMemoryStore(0)
	state, err := store.CreateState("wf-1")
	require.NoError(t, err)

	state.Variables.Set("step", 1)
	_, err = store.Checkpoint(state)
	require.NoError(t, err)

	state.Variables.Set("step", 2)
	corrupt, err := store.Checkpoint(state)
	require.NoError(t, err)
	corrupt.Digest = "deadbeefdeadbeef"

	recovered, err := store.Recover(state.ExecutionID)
	require.NoError(t, err)
	require.NotNil(t, recovered)
	assert.Equal(t, 1, recovered.Variables["step"])
}

func TestMemoryStoreRecoverWithNoCheckpointsReturnsNil(t *testing.T) {
	store := NewMemoryStore(0)
	state, err := store.CreateState("wf-1")
	require.NoError(t, err)

	recovered, err := store.Recover(state.ExecutionID)
	require.NoError(t, err)
	assert.Nil(t, recovered)
}

func TestMemoryStoreListExecutionsFilters(t *testing.T) {
	store := NewMemoryStore(0)
	s1, _ := store.CreateState("wf-a")
	s2, _ := store.CreateState("wf-b")
	s2.Status = StatusRunning
	require.NoError(t, store.UpdateState(s2))

	all, err := store.ListExecutions(Query{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byWorkflow, err := store.ListExecutions(Query{WorkflowID: "wf-a"})
	require.NoError(t, err)
	require.Len(t, byWorkflow, 1)
	assert.Equal(t, s1.ExecutionID, byWorkflow[0].ExecutionID)

	byStatus, err := store.ListExecutions(Query{Status: StatusRunning})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, s2.ExecutionID, byStatus[0].ExecutionID)
}

func TestMemoryStoreCleanupCompletedRemovesOldTerminal(t *testing.T) {
	store := NewMemoryStore(0)
	state, err := store.CreateState("wf-1")
	require.NoError(t, err)

	state.Status = StatusCompleted
	old := time.Now().Add(-2 * time.Hour)
	state.CompletedAt = &old
	require.NoError(t, store.UpdateState(state))

	removed, err := store.CleanupCompleted(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetState(state.ExecutionID)
	assert.Error(t, err)
}

func TestMemoryStoreCleanupCompletedSparesRunning(t *testing.T) {
	store := NewMemoryStore(0)
	state, err := store.CreateState("wf-1")
	require.NoError(t, err)
	state.Status = StatusRunning
	require.NoError(t, store.UpdateState(state))

	removed, err := store.CleanupCompleted(0)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
