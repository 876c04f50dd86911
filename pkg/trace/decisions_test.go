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

func TestDecisionLogRecordAndForTrace(t *testing.T) {
	l := NewDecisionLog(0)
	d := &Decision{ID: "d1", TraceID: "t1", Kind: DecisionToolSelection, CreatedAt: time.Now()}
	d.AddOption(DecisionOption{ID: "opt-a", Label: "search"})
	d.AddOption(DecisionOption{ID: "opt-b", Label: "calculator"})
	d.Select("opt-a", "query looks informational")
	l.Record(d)

	got, ok := l.Get("d1")
	require.True(t, ok)
	assert.Equal(t, "opt-a", got.SelectedOptionID)

	forTrace := l.ForTrace("t1")
	require.Len(t, forTrace, 1)
}

func TestDecisionLogEvictsOldestOverCap(t *testing.T) {
	l := NewDecisionLog(1)
	l.Record(&Decision{ID: "d1", TraceID: "t1"})
	l.Record(&Decision{ID: "d2", TraceID: "t1"})

	_, ok := l.Get("d1")
	assert.False(t, ok)
	_, ok = l.Get("d2")
	assert.True(t, ok)
	assert.Len(t, l.ForTrace("t1"), 1)
}

func TestDecisionLogSelectionPatterns(t *testing.T) {
	l := NewDecisionLog(0)
	for i := 0; i < 3; i++ {
		d := &Decision{ID: string(rune('a' + i)), TraceID: "t1", Kind: DecisionToolSelection}
		d.AddOption(DecisionOption{ID: "opt-search", Label: "search"})
		d.Select("opt-search", "")
		l.Record(d)
	}

	patterns := l.SelectionPatterns(DecisionToolSelection)
	require.Len(t, patterns, 1)
	assert.Equal(t, "search", patterns[0].Label)
	assert.Equal(t, 3, patterns[0].Count)
}

func TestDecisionSetOutcome(t *testing.T) {
	d := &Decision{ID: "d1"}
	d.SetOutcome(OutcomeGood, "led to successful completion")
	assert.Equal(t, OutcomeGood, d.Outcome)
}
