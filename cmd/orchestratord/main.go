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

// Command orchestratord is a thin demonstration host. It is not part of
// the orchestration core's specified surface — the core is consumed as
// importable packages (pkg/workflow, pkg/trigger, pkg/metrics, pkg/alert,
// pkg/realtime, pkg/trace, pkg/insights, pkg/ai) — but wiring them together
// here shows one way a real service would assemble them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tombee/conductor/pkg/alert"
	"github.com/tombee/conductor/pkg/insights"
	"github.com/tombee/conductor/pkg/metrics"
	"github.com/tombee/conductor/pkg/realtime"
	"github.com/tombee/conductor/pkg/trace"
	"github.com/tombee/conductor/pkg/workflow"
	"github.com/tombee/conductor/schemas"
)

// echoAgent is a stand-in for a real LLM collaborator: it echoes the
// resolved prompt back as the response text.
type echoAgent struct{}

func (echoAgent) Invoke(_ context.Context, req workflow.AgentRequest) (workflow.AgentResponse, error) {
	return workflow.AgentResponse{Text: fmt.Sprintf("echo: %s", req.Prompt)}, nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx := context.Background()

	if err := run(ctx, logger); err != nil {
		logger.Error("orchestratord exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	def := &workflow.WorkflowDefinition{
		ID:        "demo-summarize",
		Name:      "Demo Summarize",
		Version:   "1.0.0",
		StartStep: "greet",
		Enabled:   true,
		Steps: []workflow.WorkflowStep{
			{
				ID:       "greet",
				Type:     "agent",
				Name:     "Greet",
				Config:   map[string]any{"prompt": "Hello, ${name}", "output_variable": "greeting"},
				NextStep: "check",
			},
			{
				ID:   "check",
				Type: "condition",
				Name: "Check Greeting",
				Config: map[string]any{
					"branches": []any{
						map[string]any{"condition": `greeting != ""`, "next_step": ""},
					},
				},
			},
		},
	}

	logger.Info("workflow schema loaded", "bytes", len(schemas.GetWorkflowSchema()))

	registry := workflow.NewRegistry("")
	if err := registry.Register(def, true); err != nil {
		return fmt.Errorf("register workflow: %w", err)
	}

	store := workflow.NewMemoryStore(50)
	handlers := workflow.NewHandlerRegistry()
	hooks := workflow.Hooks{
		OnStepComplete: func(state *workflow.WorkflowState, result workflow.StepResult) {
			logger.Info("step complete", "execution_id", state.ExecutionID, "step", result.StepID, "status", result.Status)
		},
	}

	engine := workflow.NewEngine(registry, store, handlers, echoAgent{}, hooks, logger)

	result, err := engine.Run(ctx, def.ID, workflow.RunOptions{
		Inputs: map[string]any{"name": "operator"},
	})
	if err != nil {
		return fmt.Errorf("run workflow: %w", err)
	}
	logger.Info("workflow finished", "status", result.Status, "elapsed_ms", result.ElapsedMs)

	metricsStorage := metrics.NewStorage(nil)
	now := time.Now()
	metricsStorage.Write("workflow.duration_ms", float64(result.ElapsedMs), now, map[string]string{"workflow_id": def.ID})
	queryEngine := metrics.NewEngine(metricsStorage)
	qr := queryEngine.Execute("workflow.duration_ms", nil)
	logger.Info("metric recorded", "points", len(qr.Series))

	alertEngine := alert.NewEngine(logger)
	rule := alert.NewRule("slow-workflow")
	rule.Conditions = []alert.Condition{{Metric: "workflow.duration_ms", Operator: alert.OpGreaterThan, Threshold: 5000}}
	rule.Severity = alert.SeverityWarning
	rule.Enabled = true
	alertEngine.AddRule(rule)
	events := alertEngine.EvaluateAll(func(names []string) map[string]float64 {
		out := make(map[string]float64, len(names))
		for _, n := range names {
			if p, ok := metricsStorage.ReadLatest(n, nil); ok {
				out[n] = p.Value
			}
		}
		return out
	})
	logger.Info("alert evaluation", "events", len(events))

	bus := realtime.NewPubSub(64, 1024, logger)
	bus.Subscribe("executions", "demo-subscriber", true, func(msg any) {
		logger.Info("execution event delivered", "message", msg)
	})
	bus.Publish("executions", map[string]any{"execution_id": result.ExecutionID, "status": string(result.Status)})

	collector := trace.NewCollector(1000)
	tr := collector.StartTrace(now, "session-1", "operator", "demo-summarize")
	span, err := collector.StartSpan(now, tr.ID, "", "greet", trace.SpanLLMCall, "demo-model")
	if err != nil {
		return fmt.Errorf("start span: %w", err)
	}
	_ = collector.FinishSpan(now.Add(50*time.Millisecond), tr.ID, span.ID, "hello back", trace.StatusSuccess, "", trace.Usage{InputTokens: 12, OutputTokens: 8, CostUSD: 0.0004})
	_ = collector.FinishTrace(now.Add(60*time.Millisecond), tr.ID, nil, trace.StatusSuccess)
	logger.Info("trace cost", "total_usd", collector.Ledger.TotalCost())

	detector := insights.NewDetector(0.5, 5)
	series := make([]float64, 20)
	for i := range series {
		series[i] = 100
	}
	series = append(series, 900)
	anomalies := detector.DetectAll(series, nil, "workflow.duration_ms")
	logger.Info("anomalies detected", "count", len(anomalies))

	return nil
}
