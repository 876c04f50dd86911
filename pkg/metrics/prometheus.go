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
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
)

var invalidMetricChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// PrometheusCollector adapts Storage's latest values into a
// prometheus.Collector, letting a host expose /metrics over the same
// tiered storage the dashboard queries (§4.10 Prometheus exposition
// adapter), instead of running a second metrics pipeline.
type PrometheusCollector struct {
	storage   *Storage
	namespace string
}

// NewPrometheusCollector constructs a collector over storage. namespace, if
// non-empty, is prefixed onto every exported metric name.
func NewPrometheusCollector(storage *Storage, namespace string) *PrometheusCollector {
	return &PrometheusCollector{storage: storage, namespace: namespace}
}

// Describe intentionally sends nothing: the metric set is dynamic (driven
// by whatever the orchestrator has written), which prometheus.Registry
// supports for an "unchecked" collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {}

// Collect emits the latest raw-tier point of every stored metric as a
// gauge, labeled with its original label set.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.storage.ListMetrics() {
		point, ok := c.storage.ReadLatest(name, nil)
		if !ok {
			continue
		}

		labelKeys := make([]string, 0, len(point.Labels))
		labelVals := make([]string, 0, len(point.Labels))
		for k, v := range point.Labels {
			labelKeys = append(labelKeys, k)
			labelVals = append(labelVals, v)
		}

		desc := prometheus.NewDesc(
			prometheus.BuildFQName(c.namespace, "", sanitizeMetricName(name)),
			"conductor metric "+name,
			labelKeys, nil,
		)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, point.Value, labelVals...)
	}
}

// sanitizeMetricName replaces any character Prometheus' exposition format
// disallows in a metric name with an underscore.
func sanitizeMetricName(name string) string {
	return invalidMetricChars.ReplaceAllString(name, "_")
}
