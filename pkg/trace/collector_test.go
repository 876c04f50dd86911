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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorStartAndFinishTraceWithSpans(t *testing.T) {
	c := NewCollector(0)
	now := time.Now()

	tr := c.StartTrace(now, "session-1", "user-1", "checkout-agent")
	root, err := c.StartSpan(now, tr.ID, "", "agent-run", SpanAgent, "")
	require.NoError(t, err)

	child, err := c.StartSpan(now.Add(10*time.Millisecond), tr.ID, root.ID, "gpt-4 call", SpanLLMCall, "gpt-4")
	require.NoError(t, err)

	err = c.FinishSpan(now.Add(110*time.Millisecond), tr.ID, child.ID, "done", StatusSuccess, "", Usage{InputTokens: 100, OutputTokens: 50, CostUSD: 0.02})
	require.NoError(t, err)

	err = c.FinishTrace(now.Add(120*time.Millisecond), tr.ID, "ok", StatusSuccess)
	require.NoError(t, err)

	got, ok := c.GetTrace(tr.ID)
	require.True(t, ok)
	assert.False(t, got.IsActive())
	assert.Len(t, got.Spans, 2)
	assert.Len(t, got.LLMSpans(), 1)

	costs := c.Ledger.CostByModel()
	require.Len(t, costs, 1)
	assert.Equal(t, "gpt-4", costs[0].Model)
	assert.InDelta(t, 0.02, costs[0].CostUSD, 0.0001)
}

func TestCollectorStartSpanRejectsUnknownParentAndTrace(t *testing.T) {
	c := NewCollector(0)
	now := time.Now()
	tr := c.StartTrace(now, "", "", "trace")

	_, err := c.StartSpan(now, tr.ID, "missing", "child", SpanChain, "")
	assert.ErrorIs(t, err, ErrUnknownSpan)

	_, err = c.StartSpan(now, "missing-trace", "", "root", SpanChain, "")
	assert.ErrorIs(t, err, ErrUnknownTrace)
}

func TestCollectorEvictsOldestTraceOverCap(t *testing.T) {
	c := NewCollector(1)
	now := time.Now()
	first := c.StartTrace(now, "", "", "first")
	second := c.StartTrace(now, "", "", "second")

	_, ok := c.GetTrace(first.ID)
	assert.False(t, ok)
	_, ok = c.GetTrace(second.ID)
	assert.True(t, ok)
}

func TestCollectorListTracesFiltersBySessionAndOrdersNewestFirst(t *testing.T) {
	c := NewCollector(0)
	now := time.Now()
	c.StartTrace(now, "s1", "", "a")
	c.StartTrace(now.Add(time.Second), "s2", "", "b")
	c.StartTrace(now.Add(2*time.Second), "s1", "", "c")

	s1 := c.ListTraces("s1", 0)
	require.Len(t, s1, 2)
	assert.Equal(t, "c", s1[0].Name)
}
