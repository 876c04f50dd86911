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

package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAlertStateTransitionScenario implements spec §8 scenario 6: a rule
// with error_rate > 0.05 and a 5-tick min-duration, fed seven values, must
// produce the exact state sequence OK, PENDING×4, FIRING, RESOLVED with
// exactly three state-change events.
func TestAlertStateTransitionScenario(t *testing.T) {
	rule := NewRule("high error rate")
	rule.EvaluationInterval = time.Second
	rule.Conditions = []Condition{
		{Metric: "error_rate", Operator: OpGreaterThan, Threshold: 0.05, MinDuration: 5 * time.Second},
	}

	values := []float64{0.02, 0.08, 0.09, 0.07, 0.10, 0.11, 0.04}
	wantStates := []State{StateOK, StatePending, StatePending, StatePending, StatePending, StateFiring, StateResolved}

	now := time.Now()
	var gotStates []State
	var changes int
	for i, v := range values {
		firing := rule.Evaluate(map[string]float64{"error_rate": v})
		changed := rule.UpdateState(now.Add(time.Duration(i)*time.Second), firing)
		if changed {
			changes++
		}
		gotStates = append(gotStates, rule.State)
	}

	assert.Equal(t, wantStates, gotStates)
	assert.Equal(t, 3, changes)
}

func TestRuleEvaluateAndLogic(t *testing.T) {
	rule := NewRule("both")
	rule.Logic = LogicAnd
	rule.Conditions = []Condition{
		{Metric: "a", Operator: OpGreaterThan, Threshold: 1},
		{Metric: "b", Operator: OpLessThan, Threshold: 10},
	}
	assert.True(t, rule.Evaluate(map[string]float64{"a": 2, "b": 5}))
	assert.False(t, rule.Evaluate(map[string]float64{"a": 0, "b": 5}))
}

func TestRuleEvaluateOrLogic(t *testing.T) {
	rule := NewRule("either")
	rule.Logic = LogicOr
	rule.Conditions = []Condition{
		{Metric: "a", Operator: OpGreaterThan, Threshold: 1},
		{Metric: "b", Operator: OpLessThan, Threshold: 10},
	}
	assert.True(t, rule.Evaluate(map[string]float64{"a": 0, "b": 5}))
	assert.False(t, rule.Evaluate(map[string]float64{"a": 0, "b": 20}))
}

func TestRuleEvaluateMissingMetricIsFalse(t *testing.T) {
	rule := NewRule("needs-metric")
	rule.Conditions = []Condition{{Metric: "missing", Operator: OpGreaterThan, Threshold: 1}}
	assert.False(t, rule.Evaluate(map[string]float64{}))
}

func TestRuleSilencedSkipsTransition(t *testing.T) {
	rule := NewRule("silenced")
	now := time.Now()
	rule.Silence(now, time.Hour)
	require.True(t, rule.IsSilenced(now.Add(time.Minute)))
	require.False(t, rule.IsSilenced(now.Add(2*time.Hour)))
}

func TestRuleResolvedReturnsToOKOnNextClearTick(t *testing.T) {
	rule := NewRule("flap")
	rule.Conditions = []Condition{{Metric: "x", Operator: OpGreaterThan, Threshold: 0}}
	now := time.Now()

	require.True(t, rule.UpdateState(now, true))
	assert.Equal(t, StatePending, rule.State)

	require.True(t, rule.UpdateState(now.Add(time.Second), true))
	assert.Equal(t, StateFiring, rule.State)

	require.True(t, rule.UpdateState(now.Add(2*time.Second), false))
	assert.Equal(t, StateResolved, rule.State)

	require.True(t, rule.UpdateState(now.Add(3*time.Second), false))
	assert.Equal(t, StateOK, rule.State)
}
