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

func TestSelectTierPicksCoarsestTierCoveringRange(t *testing.T) {
	s := NewStorage(nil)
	now := time.Now()

	assert.Equal(t, "raw", s.selectTier(now.Add(-time.Hour), now))
	assert.Equal(t, "hourly", s.selectTier(now.Add(-2*24*time.Hour), now))
	assert.Equal(t, "daily", s.selectTier(now.Add(-30*24*time.Hour), now))
}

func TestSelectTierClampsToCoarsestWhenRangeExceedsEveryPolicy(t *testing.T) {
	s := NewStorage(nil)
	now := time.Now()
	assert.Equal(t, "daily", s.selectTier(now.Add(-365*24*time.Hour), now))
}

func TestSelectTierZeroStartIsRaw(t *testing.T) {
	s := NewStorage(nil)
	assert.Equal(t, "raw", s.selectTier(time.Time{}, time.Now()))
}

func TestStorageWriteCompactsRawTierPastMaxPerTier(t *testing.T) {
	s := NewStorage(nil)
	s.maxPerTier = 3
	now := time.Now()

	// First three points fall outside TierRaw's 24h window so compaction
	// evicts them once the fourth write crosses maxPerTier.
	s.Write("cpu", 1, now.Add(-48*time.Hour), nil)
	s.Write("cpu", 2, now.Add(-36*time.Hour), nil)
	s.Write("cpu", 3, now.Add(-30*time.Hour), nil)
	require.Len(t, s.data["cpu"]["raw"], 3)

	s.Write("cpu", 4, now, nil)
	assert.Len(t, s.data["cpu"]["raw"], 1)
	assert.Equal(t, float64(4), s.data["cpu"]["raw"][0].Value)
}

func TestStorageWriteIndexesLabels(t *testing.T) {
	s := NewStorage(nil)
	s.Write("requests", 1, time.Now(), map[string]string{"region": "us-east"})
	s.Write("requests", 2, time.Now(), map[string]string{"region": "eu-west"})

	values := s.ListLabelValues("region", "")
	assert.ElementsMatch(t, []string{"us-east", "eu-west"}, values)
}

func TestStorageReadFiltersByWindowAndLabels(t *testing.T) {
	s := NewStorage(nil)
	now := time.Now()
	s.Write("cpu", 1, now.Add(-5*time.Minute), map[string]string{"host": "a"})
	s.Write("cpu", 2, now.Add(-3*time.Minute), map[string]string{"host": "b"})
	s.Write("cpu", 3, now.Add(-1*time.Minute), map[string]string{"host": "a"})

	pts := s.Read("cpu", now.Add(-10*time.Minute), now, map[string]string{"host": "a"}, 0)
	require.Len(t, pts, 2)
	assert.Equal(t, float64(1), pts[0].Value)
	assert.Equal(t, float64(3), pts[1].Value)
}

func TestStorageReadRespectsLimit(t *testing.T) {
	s := NewStorage(nil)
	now := time.Now()
	for i := 0; i < 5; i++ {
		s.Write("cpu", float64(i), now.Add(-time.Duration(5-i)*time.Minute), nil)
	}
	pts := s.Read("cpu", now.Add(-time.Hour), now, nil, 2)
	require.Len(t, pts, 2)
	// limit keeps the most recent points.
	assert.Equal(t, float64(3), pts[0].Value)
	assert.Equal(t, float64(4), pts[1].Value)
}

func TestStorageDeleteWithoutCutoffRemovesEverything(t *testing.T) {
	s := NewStorage(nil)
	s.Write("cpu", 1, time.Now(), nil)
	s.Write("cpu", 2, time.Now(), nil)

	n := s.Delete("cpu", time.Time{})
	assert.Equal(t, 2, n)
	assert.Empty(t, s.ListMetrics())
}

func TestStorageDeleteWithCutoffRemovesOnlyOlderPoints(t *testing.T) {
	s := NewStorage(nil)
	now := time.Now()
	s.Write("cpu", 1, now.Add(-time.Hour), nil)
	s.Write("cpu", 2, now, nil)

	n := s.Delete("cpu", now.Add(-10*time.Minute))
	assert.Equal(t, 1, n)
	pts := s.Read("cpu", time.Time{}, time.Time{}, nil, 0)
	require.Len(t, pts, 1)
	assert.Equal(t, float64(2), pts[0].Value)
}

func TestStorageStatsCountsAcrossTiers(t *testing.T) {
	s := NewStorage(nil)
	s.Write("cpu", 1, time.Now(), nil)
	s.Write("mem", 2, time.Now(), nil)

	stats := s.Stats()
	assert.Equal(t, 2, stats.Metrics)
	assert.Equal(t, 2, stats.TotalPoints)
	assert.ElementsMatch(t, []string{"raw", "hourly", "daily"}, stats.Policies)
}
