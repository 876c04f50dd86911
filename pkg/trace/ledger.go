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
)

// modelLedger accumulates cost and latency for a single model, updated
// incrementally at span-finish time (§4.17).
type modelLedger struct {
	callCount    int
	inputTokens  int
	outputTokens int
	cacheTokens  int
	costUSD      float64

	// bounded window of recent latency samples backing percentile queries,
	// mirroring latency.py's LatencyTracker.get_percentiles.
	latenciesMs []float64
}

const maxLatencySamplesPerModel = 5000

// Ledger is the per-model cost and latency ledger of §4.17:
// total cost, total tokens, call count, and latency percentiles, answered
// without rescanning the full span store. Grounded on
// llm_observability/costs.py's LLMCostTracker and latency.py's
// LatencyTracker, merged into one incrementally-updated structure.
type Ledger struct {
	mu      sync.Mutex
	models  map[string]*modelLedger
	history []costPoint
}

type costPoint struct {
	at       time.Time
	model    string
	costUSD  float64
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{models: make(map[string]*modelLedger)}
}

// Record folds one finished LLM span's usage and latency into the ledger.
func (l *Ledger) Record(now time.Time, model string, usage Usage, latencyMs float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.models[model]
	if !ok {
		m = &modelLedger{}
		l.models[model] = m
	}
	m.callCount++
	m.inputTokens += usage.InputTokens
	m.outputTokens += usage.OutputTokens
	m.cacheTokens += usage.CacheTokens
	m.costUSD += usage.CostUSD

	m.latenciesMs = append(m.latenciesMs, latencyMs)
	if len(m.latenciesMs) > maxLatencySamplesPerModel {
		m.latenciesMs = m.latenciesMs[len(m.latenciesMs)-maxLatencySamplesPerModel:]
	}

	l.history = append(l.history, costPoint{at: now, model: model, costUSD: usage.CostUSD})
}

// ModelCost summarizes one model's accumulated cost and token usage.
type ModelCost struct {
	Model        string
	CallCount    int
	InputTokens  int
	OutputTokens int
	CacheTokens  int
	CostUSD      float64
}

// CostByModel returns a cost/usage summary per model (costs.py
// get_cost_by_model).
func (l *Ledger) CostByModel() []ModelCost {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]ModelCost, 0, len(l.models))
	for model, m := range l.models {
		out = append(out, ModelCost{
			Model:        model,
			CallCount:    m.callCount,
			InputTokens:  m.inputTokens,
			OutputTokens: m.outputTokens,
			CacheTokens:  m.cacheTokens,
			CostUSD:      m.costUSD,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// TotalCost returns the ledger's running total cost across every model.
func (l *Ledger) TotalCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, m := range l.models {
		total += m.costUSD
	}
	return total
}

// CostBucket is one time-bucketed cost aggregate (costs.py
// get_daily_costs generalized to an arbitrary bucket width).
type CostBucket struct {
	BucketStart time.Time
	CostUSD     float64
}

// CostOverTime buckets recorded cost by bucket width, oldest first
// (costs.py get_daily_costs).
func (l *Ledger) CostOverTime(bucket time.Duration) []CostBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	totals := make(map[int64]float64)
	for _, p := range l.history {
		key := p.at.Unix() / int64(bucket.Seconds())
		totals[key] += p.costUSD
	}

	keys := make([]int64, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]CostBucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, CostBucket{
			BucketStart: time.Unix(k*int64(bucket.Seconds()), 0).UTC(),
			CostUSD:     totals[k],
		})
	}
	return out
}

// LatencyPercentiles holds the p50/p95/p99 (and min/max) of a latency
// sample set, in milliseconds (latency.py LatencyPercentiles).
type LatencyPercentiles struct {
	P50 float64
	P95 float64
	P99 float64
	Min float64
	Max float64
}

// LatencyByModel returns p50/p95/p99 latency for model from its retained
// sample window.
func (l *Ledger) LatencyByModel(model string) (LatencyPercentiles, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.models[model]
	if !ok || len(m.latenciesMs) == 0 {
		return LatencyPercentiles{}, false
	}
	return percentiles(m.latenciesMs), true
}

func percentiles(values []float64) LatencyPercentiles {
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	return LatencyPercentiles{
		P50: percentileOf(sorted, 50),
		P95: percentileOf(sorted, 95),
		P99: percentileOf(sorted, 99),
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
	}
}

// percentileOf expects sorted ascending and returns the element at index
// floor(p*(n-1)/100) for percentile p (0-100).
func percentileOf(sorted []float64, p int) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := (p * (len(sorted) - 1)) / 100
	return sorted[idx]
}
