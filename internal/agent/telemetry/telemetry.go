// Package telemetry exposes prometheus metrics and LLM cost accounting
// for the planning loop.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/tably/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tably_agent_turns_total",
		Help: "Completed agent turns by outcome.",
	}, []string{"outcome"})

	toolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tably_tool_executions_total",
		Help: "Tool executions by tool name and outcome.",
	}, []string{"tool", "outcome"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tably_tool_duration_seconds",
		Help:    "Wall-clock duration of tool executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tably_llm_latency_seconds",
		Help:    "Latency of LLM inference rounds.",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	}, []string{"model"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tably_llm_tokens_total",
		Help: "Token usage by model and direction.",
	}, []string{"model", "direction"})
)

// Telemetry records loop activity into prometheus and tracks spend.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	costTracker *CostTracker
}

// CostTracker accumulates LLM spend across models and operations.
type CostTracker struct {
	mu sync.RWMutex

	ModelCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// NewTelemetry creates a new telemetry instance.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		costTracker: &CostTracker{
			ModelCosts: make(map[string]float64),
		},
	}
}

// RecordLLMUsage records one model round.
func (t *Telemetry) RecordLLMUsage(model string, latency time.Duration, inputTokens, outputTokens int64, cost float64) {
	if t == nil || !t.config.Enabled {
		return
	}
	llmLatency.WithLabelValues(model).Observe(latency.Seconds())
	llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	if t.config.CostTracking {
		t.costTracker.mu.Lock()
		t.costTracker.ModelCosts[model] += cost
		t.costTracker.TotalCost += cost
		t.costTracker.TotalTokens += inputTokens + outputTokens
		t.costTracker.mu.Unlock()
	}
}

// RecordToolExecution records one tool dispatch.
func (t *Telemetry) RecordToolExecution(tool string, duration time.Duration, success bool) {
	if t == nil || !t.config.Enabled {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	toolExecutions.WithLabelValues(tool, outcome).Inc()
	toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordTurn records one completed user turn.
func (t *Telemetry) RecordTurn(success bool) {
	if t == nil || !t.config.Enabled {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "failed"
	}
	turnsTotal.WithLabelValues(outcome).Inc()
}

// TotalCost reports accumulated LLM spend.
func (t *Telemetry) TotalCost() float64 {
	if t == nil {
		return 0
	}
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	return t.costTracker.TotalCost
}

// Shutdown logs a final accounting summary.
func (t *Telemetry) Shutdown() {
	if t == nil || !t.config.CostTracking {
		return
	}
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	t.logger.Printf("total spend $%.4f across %d tokens", t.costTracker.TotalCost, t.costTracker.TotalTokens)
}
