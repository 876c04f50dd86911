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

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// AggFunc is a bucket reducer name (§4.10). Grounded on aggregator.py's
// AggregationFunction enum.
type AggFunc string

const (
	AggSum      AggFunc = "sum"
	AggAvg      AggFunc = "avg"
	AggMin      AggFunc = "min"
	AggMax      AggFunc = "max"
	AggCount    AggFunc = "count"
	AggFirst    AggFunc = "first"
	AggLast     AggFunc = "last"
	AggP50      AggFunc = "p50"
	AggP75      AggFunc = "p75"
	AggP90      AggFunc = "p90"
	AggP95      AggFunc = "p95"
	AggP99      AggFunc = "p99"
	AggRate     AggFunc = "rate"
	AggIRate    AggFunc = "irate"
	AggDelta    AggFunc = "delta"
	AggIncrease AggFunc = "increase"
)

// ParseInterval converts "Ns/Nm/Nh/Nd/Nw/NM" into a duration (§4.10). A
// month ("M", capital, distinct from "m" minutes) is fixed at 30 days,
// matching aggregator.py's parse_interval.
func ParseInterval(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("metrics: invalid interval %q", interval)
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil {
		return 0, fmt.Errorf("metrics: invalid interval %q: %w", interval, err)
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'M':
		return time.Duration(n) * 30 * 24 * time.Hour, nil
	default:
		return time.Minute, nil
	}
}

// BucketKey returns the bucket-aligned timestamp for ts under interval:
// epoch + floor(elapsed/interval) * interval (§4.10).
func BucketKey(ts time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return ts
	}
	elapsed := ts.Sub(time.Unix(0, 0))
	buckets := elapsed / interval
	return time.Unix(0, 0).Add(buckets * interval)
}

// AggregatedPoint is one reduced bucket (§4.10).
type AggregatedPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Count     int       `json:"count"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
}

// Aggregate buckets points by interval and reduces each bucket with fn
// (§4.10). Grounded on aggregator.py's TimeSeriesAggregator.aggregate.
func Aggregate(points []Point, interval string, fn AggFunc, fillGaps bool, fillValue float64) ([]AggregatedPoint, error) {
	if len(points) == 0 {
		return nil, nil
	}
	delta, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}

	buckets := make(map[time.Time][]float64)
	var order []time.Time
	for _, p := range points {
		key := BucketKey(p.Timestamp, delta)
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], p.Value)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	result := make([]AggregatedPoint, 0, len(order))
	for _, key := range order {
		values := buckets[key]
		result = append(result, AggregatedPoint{
			Timestamp: key,
			Value:     apply(values, fn),
			Count:     len(values),
			Min:       minOf(values),
			Max:       maxOf(values),
		})
	}

	if fillGaps && len(result) >= 2 {
		result = fillGapsIn(result, delta, fillValue)
	}
	return result, nil
}

func apply(values []float64, fn AggFunc) float64 {
	if len(values) == 0 {
		return 0
	}
	switch fn {
	case AggSum:
		return sumOf(values)
	case AggAvg:
		return sumOf(values) / float64(len(values))
	case AggMin:
		return minOf(values)
	case AggMax:
		return maxOf(values)
	case AggCount:
		return float64(len(values))
	case AggFirst:
		return values[0]
	case AggLast:
		return values[len(values)-1]
	case AggP50:
		return percentile(values, 50)
	case AggP75:
		return percentile(values, 75)
	case AggP90:
		return percentile(values, 90)
	case AggP95:
		return percentile(values, 95)
	case AggP99:
		return percentile(values, 99)
	case AggDelta:
		if len(values) > 1 {
			return values[len(values)-1] - values[0]
		}
		return 0
	case AggIncrease:
		if len(values) > 1 {
			d := values[len(values)-1] - values[0]
			if d < 0 {
				return 0
			}
			return d
		}
		return 0
	case AggRate, AggIRate:
		// rate/irate are scoped at the query-engine range level (§4.10);
		// bucket-local fallback is avg, matching the reference's default.
		return sumOf(values) / float64(len(values))
	default:
		return sumOf(values) / float64(len(values))
	}
}

func percentile(values []float64, p int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func sumOf(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// fillGapsIn inserts zero-count buckets between existing buckets so the
// series has no missing interval steps (§4.10).
func fillGapsIn(points []AggregatedPoint, interval time.Duration, fillValue float64) []AggregatedPoint {
	filled := make([]AggregatedPoint, 0, len(points))
	for i, p := range points {
		filled = append(filled, p)
		if i == len(points)-1 {
			continue
		}
		expected := p.Timestamp.Add(interval)
		for expected.Before(points[i+1].Timestamp) {
			filled = append(filled, AggregatedPoint{Timestamp: expected, Value: fillValue})
			expected = expected.Add(interval)
		}
	}
	return filled
}

// ComparePeriods compares the aggregated totals of two point sets over the
// same interval/function (§4.10 compare_periods).
type PeriodComparison struct {
	Current       float64 `json:"current"`
	Previous      float64 `json:"previous"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Trend         string  `json:"trend"`
}

func ComparePeriods(current, previous []Point, interval string, fn AggFunc) (PeriodComparison, error) {
	curAgg, err := Aggregate(current, interval, fn, false, 0)
	if err != nil {
		return PeriodComparison{}, err
	}
	prevAgg, err := Aggregate(previous, interval, fn, false, 0)
	if err != nil {
		return PeriodComparison{}, err
	}
	curTotal := totalOf(curAgg)
	prevTotal := totalOf(prevAgg)

	var changePct float64
	if prevTotal > 0 {
		changePct = ((curTotal - prevTotal) / prevTotal) * 100
	} else if curTotal > 0 {
		changePct = 100
	}

	trend := "stable"
	if changePct > 0 {
		trend = "up"
	} else if changePct < 0 {
		trend = "down"
	}

	return PeriodComparison{
		Current:       curTotal,
		Previous:      prevTotal,
		Change:        curTotal - prevTotal,
		ChangePercent: round2(changePct),
		Trend:         trend,
	}, nil
}

func totalOf(points []AggregatedPoint) float64 {
	var s float64
	for _, p := range points {
		s += p.Value
	}
	return s
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
