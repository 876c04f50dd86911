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

// Package insights also implements the natural-language summary
// generator (summaries.py InsightSummarizer), turning a metrics snapshot
// into a headline, highlights, concerns, and a daily digest — the fourth
// supplemented feature layered on top of §4.14's anomaly/forecast/
// recommendation components.
package insights

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// KeyMetric is one labeled figure surfaced in a summary, with an optional
// period-over-period percent change.
type KeyMetric struct {
	Name   string
	Value  float64
	Format string
	Change *float64
}

// Sentiment is the overall tone a summary conveys.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// InsightSummary is a natural-language rendering of a metrics snapshot.
type InsightSummary struct {
	Period      string
	GeneratedAt time.Time

	Headline string
	Summary  string

	KeyMetrics         []KeyMetric
	Highlights         []string
	Concerns           []string
	TopRecommendations []string
}

// Summarizer turns metric snapshots into InsightSummary reports
// (summaries.py InsightSummarizer).
type Summarizer struct{}

// NewSummarizer constructs a Summarizer.
func NewSummarizer() *Summarizer { return &Summarizer{} }

// GenerateSummary produces a natural-language summary of metrics for the
// given period, optionally comparing against a previous snapshot.
func (s *Summarizer) GenerateSummary(now time.Time, metrics map[string]any, period string, previous map[string]any) InsightSummary {
	if period == "" {
		period = "week"
	}

	totalRequests := metricFloat(metrics, "total_requests", 0)
	successRate := metricFloat(metrics, "success_rate", 0) * 100
	avgLatency := metricFloat(metrics, "avg_latency_ms", 0)
	totalCost := metricFloat(metrics, "total_cost_usd", 0)

	keyMetrics := []KeyMetric{
		{Name: "Total Requests", Value: totalRequests, Format: "number"},
		{Name: "Success Rate", Value: successRate, Format: "percent"},
		{Name: "Avg Latency", Value: avgLatency, Format: "ms"},
		{Name: "Total Cost", Value: totalCost, Format: "currency"},
	}

	var changes map[string]float64
	if previous != nil {
		changes = calculateChanges(metrics, previous)
		mapping := map[string]string{
			"Total Requests": "total_requests",
			"Success Rate":   "success_rate",
			"Avg Latency":    "avg_latency",
			"Total Cost":     "total_cost",
		}
		for i := range keyMetrics {
			key := mapping[keyMetrics[i].Name]
			if c, ok := changes[key]; ok {
				v := c
				keyMetrics[i].Change = &v
			}
		}
	}

	sentiment := determineSentiment(metrics, previous)

	var headline string
	switch sentiment {
	case SentimentPositive:
		headline = fmt.Sprintf("Strong performance this %s with %s", period, topHighlight(metrics, previous))
	case SentimentNegative:
		headline = fmt.Sprintf("Performance issues detected this %s", period)
	default:
		headline = fmt.Sprintf("Stable performance this %s", period)
	}

	return InsightSummary{
		Period:             period,
		GeneratedAt:        now,
		Headline:           headline,
		Summary:            summaryText(metrics, previous, period),
		KeyMetrics:         keyMetrics,
		Highlights:         generateHighlights(metrics, previous),
		Concerns:           generateConcerns(metrics),
		TopRecommendations: quickRecommendations(metrics),
	}
}

func calculateChanges(current, previous map[string]any) map[string]float64 {
	mappings := map[string]string{
		"total_requests": "total_requests",
		"success_rate":   "success_rate",
		"avg_latency":    "avg_latency_ms",
		"total_cost":     "total_cost_usd",
	}
	changes := make(map[string]float64, len(mappings))
	for key, metricKey := range mappings {
		curr := metricFloat(current, metricKey, 0)
		prev := metricFloat(previous, metricKey, 0)
		if prev > 0 {
			changes[key] = math.Round(((curr-prev)/prev)*100*10) / 10
		} else {
			changes[key] = 0
		}
	}
	return changes
}

func determineSentiment(current, previous map[string]any) Sentiment {
	successRate := metricFloat(current, "success_rate", 0)
	errorRate := metricFloat(current, "error_rate", 0)

	if successRate > 0.95 && errorRate < 0.02 {
		return SentimentPositive
	}
	if successRate < 0.90 || errorRate > 0.05 {
		return SentimentNegative
	}

	if previous != nil {
		prevSuccess := metricFloat(previous, "success_rate", 0)
		if successRate > prevSuccess+0.02 {
			return SentimentPositive
		}
		if successRate < prevSuccess-0.02 {
			return SentimentNegative
		}
	}
	return SentimentNeutral
}

func topHighlight(current, previous map[string]any) string {
	successRate := metricFloat(current, "success_rate", 0) * 100
	if successRate >= 99 {
		return fmt.Sprintf("%.1f%% success rate", successRate)
	}

	if previous != nil {
		currCost := metricFloat(current, "total_cost_usd", 0)
		prevCost := metricFloat(previous, "total_cost_usd", 0)
		if prevCost > 0 && currCost < prevCost*0.8 {
			savings := (1 - currCost/prevCost) * 100
			return fmt.Sprintf("%.0f%% cost reduction", savings)
		}
	}
	return fmt.Sprintf("%.1f%% success rate", successRate)
}

func generateHighlights(current, previous map[string]any) []string {
	var highlights []string

	successRate := metricFloat(current, "success_rate", 0) * 100
	if successRate >= 98 {
		highlights = append(highlights, fmt.Sprintf("Excellent success rate of %.1f%%", successRate))
	}

	p95 := metricFloat(current, "p95_latency_ms", 0)
	if p95 > 0 && p95 < 1000 {
		highlights = append(highlights, fmt.Sprintf("Fast response times with P95 at %.0fms", p95))
	}

	if previous != nil {
		currCost := metricFloat(current, "total_cost_usd", 0)
		prevCost := metricFloat(previous, "total_cost_usd", 0)
		if prevCost > 0 && currCost < prevCost {
			highlights = append(highlights, fmt.Sprintf("Saved $%.2f compared to previous period", prevCost-currCost))
		}
	}

	totalRequests := metricFloat(current, "total_requests", 0)
	if totalRequests > 0 {
		highlights = append(highlights, fmt.Sprintf("Processed %.0f requests", totalRequests))
	}

	if len(highlights) > 4 {
		highlights = highlights[:4]
	}
	return highlights
}

func generateConcerns(current map[string]any) []string {
	var concerns []string

	errorRate := metricFloat(current, "error_rate", 0) * 100
	switch {
	case errorRate > 5:
		concerns = append(concerns, fmt.Sprintf("High error rate of %.1f%% needs attention", errorRate))
	case errorRate > 2:
		concerns = append(concerns, fmt.Sprintf("Error rate of %.1f%% is above target", errorRate))
	}

	p95 := metricFloat(current, "p95_latency_ms", 0)
	switch {
	case p95 > 5000:
		concerns = append(concerns, fmt.Sprintf("P95 latency of %.0fms may impact user experience", p95))
	case p95 > 3000:
		concerns = append(concerns, fmt.Sprintf("P95 latency of %.0fms is higher than recommended", p95))
	}

	costPerRequest := metricFloat(current, "avg_cost_per_request", 0)
	if costPerRequest > 0.1 {
		concerns = append(concerns, fmt.Sprintf("Average cost per request ($%.4f) is high", costPerRequest))
	}

	if len(concerns) > 3 {
		concerns = concerns[:3]
	}
	return concerns
}

func summaryText(current, previous map[string]any, period string) string {
	var parts []string

	totalRequests := metricFloat(current, "total_requests", 0)
	successRate := metricFloat(current, "success_rate", 0) * 100
	totalCost := metricFloat(current, "total_cost_usd", 0)

	parts = append(parts, fmt.Sprintf(
		"This %s, your system processed %.0f requests with a %.1f%% success rate.",
		period, totalRequests, successRate))

	if totalCost > 0 {
		parts = append(parts, fmt.Sprintf("Total LLM costs were $%.2f.", totalCost))
	}

	if previous != nil {
		changes := calculateChanges(current, previous)
		reqChange := changes["total_requests"]
		if math.Abs(reqChange) > 10 {
			direction := "increased"
			if reqChange < 0 {
				direction = "decreased"
			}
			parts = append(parts, fmt.Sprintf(
				"Request volume %s by %.0f%% compared to the previous %s.",
				direction, math.Abs(reqChange), period))
		}
	}

	return strings.Join(parts, " ")
}

func quickRecommendations(current map[string]any) []string {
	var out []string

	if metricFloat(current, "error_rate", 0) > 0.03 {
		out = append(out, "Review and address the top error patterns")
	}
	if metricFloat(current, "p95_latency_ms", 0) > 3000 {
		out = append(out, "Consider implementing response caching")
	}
	if metricFloat(current, "cache_hit_rate", 0) < 0.3 {
		out = append(out, "Enable semantic caching to reduce costs and latency")
	}
	if metricFloat(current, "avg_cost_per_request", 0) > 0.05 {
		out = append(out, "Evaluate using smaller models for simple tasks")
	}

	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

// GenerateDailyDigest renders a Markdown digest combining the day's
// summary with supplied anomaly and alert descriptions.
func (s *Summarizer) GenerateDailyDigest(now time.Time, metrics map[string]any, anomalies, alerts []string) string {
	summary := s.GenerateSummary(now, metrics, "day", nil)

	var b strings.Builder
	b.WriteString("# Daily Dashboard Digest\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", now.Format("2006-01-02 15:04"))

	b.WriteString("## Overview\n")
	fmt.Fprintf(&b, "%s\n\n", summary.Headline)
	fmt.Fprintf(&b, "%s\n", summary.Summary)

	b.WriteString("\n## Key Metrics\n")
	for _, m := range summary.KeyMetrics {
		changeStr := ""
		if m.Change != nil {
			arrow := "→"
			switch {
			case *m.Change > 0:
				arrow = "↑"
			case *m.Change < 0:
				arrow = "↓"
			}
			changeStr = fmt.Sprintf(" (%s%.1f%%)", arrow, math.Abs(*m.Change))
		}
		fmt.Fprintf(&b, "- **%s**: %v%s\n", m.Name, m.Value, changeStr)
	}

	if len(summary.Highlights) > 0 {
		b.WriteString("\n## Highlights\n")
		for _, h := range summary.Highlights {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}

	if len(summary.Concerns) > 0 {
		b.WriteString("\n## Concerns\n")
		for _, c := range summary.Concerns {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	if len(anomalies) > 0 {
		b.WriteString("\n## Anomalies\n")
		for _, a := range anomalies {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	if len(alerts) > 0 {
		b.WriteString("\n## Alerts\n")
		for _, a := range alerts {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	return b.String()
}
