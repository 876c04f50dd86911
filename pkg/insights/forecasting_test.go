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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearRegressionDetectsUpwardTrend(t *testing.T) {
	f := NewForecaster(0.95)
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	fc := f.LinearRegression(values, nil, 3, "requests")

	require.Len(t, fc.Points, 3)
	assert.Equal(t, TrendUp, fc.TrendDirection)
	assert.Greater(t, fc.Points[0].Value, values[len(values)-1])
}

func TestLinearRegressionTooFewPointsReturnsEmpty(t *testing.T) {
	f := NewForecaster(0.95)
	fc := f.LinearRegression([]float64{1, 2}, nil, 3, "requests")
	assert.Empty(t, fc.Points)
}

func TestExponentialSmoothingProducesFlatForecast(t *testing.T) {
	f := NewForecaster(0.95)
	values := []float64{10, 10, 10, 10, 10}
	fc := f.ExponentialSmoothing(values, nil, 0.3, 5, "cpu")

	require.Len(t, fc.Points, 5)
	for _, p := range fc.Points {
		assert.InDelta(t, 10, p.Value, 0.01)
	}
}

func TestHoltLinearCapturesTrend(t *testing.T) {
	f := NewForecaster(0.95)
	values := []float64{1, 3, 5, 7, 9, 11}
	fc := f.HoltLinear(values, nil, 0.3, 0.1, 3, "throughput")

	require.Len(t, fc.Points, 3)
	assert.Equal(t, TrendUp, fc.TrendDirection)
}

func TestAutoForecastSelectsHoltLinearWhenTrendPresent(t *testing.T) {
	f := NewForecaster(0.95)
	values := []float64{1, 2, 3, 4, 5, 20, 21, 22, 23, 24}
	fc := f.AutoForecast(values, nil, 3, "cost")
	assert.Equal(t, "holt_linear", fc.Method)
}

func TestAutoForecastSelectsExponentialSmoothingWhenFlat(t *testing.T) {
	f := NewForecaster(0.95)
	values := []float64{10, 10.1, 9.9, 10, 10.05, 9.95, 10, 10.1, 9.9, 10}
	fc := f.AutoForecast(values, nil, 3, "cost")
	assert.Equal(t, "exponential_smoothing", fc.Method)
}

func TestEvaluateForecastComputesAccuracyMetrics(t *testing.T) {
	metrics, ok := EvaluateForecast([]float64{10, 20, 30}, []float64{11, 19, 31})
	require.True(t, ok)
	assert.Greater(t, metrics.RMSE, 0.0)
	assert.Greater(t, metrics.MAE, 0.0)
}

func TestEvaluateForecastMismatchedLengthsFails(t *testing.T) {
	_, ok := EvaluateForecast([]float64{1, 2}, []float64{1})
	assert.False(t, ok)
}
