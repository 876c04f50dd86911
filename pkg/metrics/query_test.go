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

func TestParseQueryBareMetric(t *testing.T) {
	p := parseQuery(`http_requests{method="GET",status="200"}[5m]`)
	assert.Equal(t, "http_requests", p.metric)
	assert.Equal(t, "GET", p.labels["method"])
	assert.Equal(t, "200", p.labels["status"])
	assert.Equal(t, "5m", p.rng)
}

func TestParseQueryFunction(t *testing.T) {
	p := parseQuery(`sum(http_requests{method="GET"})`)
	assert.Equal(t, "sum", p.function)
	assert.Equal(t, "http_requests", p.metric)
	assert.Equal(t, "GET", p.labels["method"])
}

func TestEngineSumOnEmptyStorage(t *testing.T) {
	storage := NewStorage(nil)
	engine := NewEngine(storage)
	result := engine.Execute("sum(nonexistent_metric)", nil)
	require.Empty(t, result.Error)
	require.NotNil(t, result.Scalar)
	assert.Equal(t, float64(0), *result.Scalar)
	assert.Equal(t, 0, result.PointsScanned)
}

func TestEngineSumAggregatesPoints(t *testing.T) {
	storage := NewStorage(nil)
	now := time.Now()
	storage.Write("requests", 1, now.Add(-3*time.Minute), nil)
	storage.Write("requests", 2, now.Add(-2*time.Minute), nil)
	storage.Write("requests", 3, now.Add(-1*time.Minute), nil)

	engine := NewEngine(storage)
	tr := TimeRange{Start: now.Add(-10 * time.Minute), End: now}
	result := engine.Execute("sum(requests)", &tr)
	require.NotNil(t, result.Scalar)
	assert.Equal(t, float64(6), *result.Scalar)
	assert.Equal(t, 3, result.PointsScanned)
}

func TestEngineAbsent(t *testing.T) {
	storage := NewStorage(nil)
	engine := NewEngine(storage)
	result := engine.Execute("absent(missing)", nil)
	require.NotNil(t, result.Scalar)
	assert.Equal(t, float64(1), *result.Scalar)
}

func TestEngineRawSeriesWhenNoFunction(t *testing.T) {
	storage := NewStorage(nil)
	now := time.Now()
	storage.Write("cpu", 0.5, now.Add(-time.Minute), map[string]string{"host": "a"})

	engine := NewEngine(storage)
	tr := TimeRange{Start: now.Add(-10 * time.Minute), End: now}
	result := engine.Execute(`cpu{host="a"}`, &tr)
	require.Len(t, result.Data, 1)
	assert.Equal(t, 0.5, result.Data[0].Value)
}

func TestParseIntervalRejectsGarbage(t *testing.T) {
	_, err := ParseInterval("bogus")
	require.Error(t, err)
}

func TestComparePeriodsZeroToPositiveIsHundredPercent(t *testing.T) {
	now := time.Now()
	prev := []Point{}
	cur := []Point{{Timestamp: now, Value: 5}}
	cmp, err := ComparePeriods(cur, prev, "1h", AggSum)
	require.NoError(t, err)
	assert.Equal(t, float64(100), cmp.ChangePercent)
	assert.Equal(t, "up", cmp.Trend)
}
