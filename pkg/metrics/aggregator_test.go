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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalUnits(t *testing.T) {
	cases := []struct {
		interval string
		want     time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"3d", 3 * 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"1M", 30 * 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := ParseInterval(c.interval)
		require.NoError(t, err, c.interval)
		assert.Equal(t, c.want, got, c.interval)
	}
}

func TestParseIntervalMonthAndMinuteAreDistinct(t *testing.T) {
	month, err := ParseInterval("1M")
	require.NoError(t, err)
	minute, err := ParseInterval("1m")
	require.NoError(t, err)
	assert.NotEqual(t, month, minute)
}

func TestParseIntervalRejectsTooShort(t *testing.T) {
	_, err := ParseInterval("m")
	assert.Error(t, err)
}

func TestBucketKeyFloorsToIntervalBoundary(t *testing.T) {
	ts := time.Unix(0, 0).Add(90 * time.Second)
	key := BucketKey(ts, time.Minute)
	assert.Equal(t, time.Unix(0, 0).Add(time.Minute), key)
}

func TestBucketKeyZeroIntervalIsIdentity(t *testing.T) {
	ts := time.Now()
	assert.Equal(t, ts, BucketKey(ts, 0))
}

func TestAggregateGroupsPointsIntoBuckets(t *testing.T) {
	base := time.Unix(0, 0)
	points := []Point{
		{Timestamp: base, Value: 1},
		{Timestamp: base.Add(30 * time.Second), Value: 3},
		{Timestamp: base.Add(time.Minute), Value: 10},
	}
	result, err := Aggregate(points, "1m", AggSum, false, 0)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, float64(4), result[0].Value)
	assert.Equal(t, 2, result[0].Count)
	assert.Equal(t, float64(10), result[1].Value)
}

func TestAggregateReducers(t *testing.T) {
	base := time.Unix(0, 0)
	points := []Point{
		{Timestamp: base, Value: 1},
		{Timestamp: base.Add(time.Second), Value: 2},
		{Timestamp: base.Add(2 * time.Second), Value: 3},
		{Timestamp: base.Add(3 * time.Second), Value: 4},
	}
	cases := []struct {
		fn   AggFunc
		want float64
	}{
		{AggSum, 10},
		{AggAvg, 2.5},
		{AggMin, 1},
		{AggMax, 4},
		{AggCount, 4},
		{AggFirst, 1},
		{AggLast, 4},
		{AggDelta, 3},
		{AggIncrease, 3},
	}
	for _, c := range cases {
		result, err := Aggregate(points, "1h", c.fn, false, 0)
		require.NoError(t, err, c.fn)
		require.Len(t, result, 1, c.fn)
		assert.Equal(t, c.want, result[0].Value, c.fn)
	}
}

func TestAggregateIncreaseClampsNegativeDeltaToZero(t *testing.T) {
	base := time.Unix(0, 0)
	points := []Point{
		{Timestamp: base, Value: 10},
		{Timestamp: base.Add(time.Second), Value: 4},
	}
	result, err := Aggregate(points, "1h", AggIncrease, false, 0)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, float64(0), result[0].Value)
}

func TestAggregateFillGapsInsertsMissingBuckets(t *testing.T) {
	base := time.Unix(0, 0)
	points := []Point{
		{Timestamp: base, Value: 1},
		{Timestamp: base.Add(3 * time.Minute), Value: 2},
	}
	result, err := Aggregate(points, "1m", AggSum, true, -1)
	require.NoError(t, err)
	require.Len(t, result, 4)
	assert.Equal(t, base, result[0].Timestamp)
	assert.Equal(t, float64(-1), result[1].Value)
	assert.Equal(t, float64(-1), result[2].Value)
	assert.Equal(t, base.Add(3*time.Minute), result[3].Timestamp)
}

func TestAggregateEmptyPointsReturnsNil(t *testing.T) {
	result, err := Aggregate(nil, "1m", AggSum, false, 0)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestAggregateRejectsBadInterval(t *testing.T) {
	_, err := Aggregate([]Point{{Timestamp: time.Now(), Value: 1}}, "bogus", AggSum, false, 0)
	assert.Error(t, err)
}
