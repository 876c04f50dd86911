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

package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineAnalyzeTriggersMatchingRules(t *testing.T) {
	e := NewEngine(nil)
	now := time.Now()
	metrics := map[string]any{
		"avg_cost_per_request": 0.1,
		"error_rate":           0.2,
	}

	recs := e.Analyze(now, metrics)
	require.NotEmpty(t, recs)

	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "high_cost_model")
	assert.Contains(t, ids, "high_error_rate")
}

func TestEngineAnalyzeOrdersByPriorityDescending(t *testing.T) {
	e := NewEngine(nil)
	metrics := map[string]any{
		"error_rate":           0.25,
		"avg_cost_per_request": 0.1,
	}
	recs := e.Analyze(time.Now(), metrics)
	require.True(t, len(recs) >= 2)

	for i := 1; i < len(recs); i++ {
		assert.GreaterOrEqual(t, priorityOrder[recs[i-1].Priority], priorityOrder[recs[i].Priority])
	}
}

func TestEngineDismissAndMarkImplemented(t *testing.T) {
	e := NewEngine(nil)
	e.Analyze(time.Now(), map[string]any{"error_rate": 0.2})

	assert.True(t, e.Dismiss("high_error_rate"))
	assert.False(t, e.Dismiss("unknown"))

	rec, ok := e.Get("high_error_rate")
	require.True(t, ok)
	assert.True(t, rec.Dismissed)
}

func TestEngineActiveRecommendationsExcludesDismissed(t *testing.T) {
	e := NewEngine(nil)
	e.Analyze(time.Now(), map[string]any{"error_rate": 0.2, "avg_cost_per_request": 0.1})
	e.Dismiss("high_error_rate")

	active := e.ActiveRecommendations()
	for _, r := range active {
		assert.NotEqual(t, "high_error_rate", r.ID)
	}
}

func TestEngineSummaryCounts(t *testing.T) {
	e := NewEngine(nil)
	e.Analyze(time.Now(), map[string]any{"error_rate": 0.2, "avg_cost_per_request": 0.1})
	e.Dismiss("high_error_rate")

	summary := e.GetSummary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Dismissed)
	assert.Equal(t, 1, summary.Active)
}
